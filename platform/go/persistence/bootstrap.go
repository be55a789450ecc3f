package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/loader-registry/database"
)

// BootstrapRegistrySchema applies the loader registry DDL in a single
// transaction. SQL is embedded at build time so binaries stay self-contained.
// The statements are idempotent (IF NOT EXISTS) and intended for CLI bootstrap
// and tests.
func BootstrapRegistrySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap registry schema: pool is required")
	}

	statements := splitStatements(sqlassets.LoaderRegistrySQL)
	if len(statements) == 0 {
		return fmt.Errorf("bootstrap registry schema: embedded ddl is empty")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks embedded DDL into individual statements. The schema
// files deliberately avoid function bodies so a plain split on ';' is safe.
func splitStatements(ddl string) []string {
	raw := strings.Split(ddl, ";")
	statements := make([]string, 0, len(raw))
	for _, candidate := range raw {
		stmt := strings.TrimSpace(candidate)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
