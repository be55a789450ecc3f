package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txBeginner exposes the minimal pgx pool behaviour needed by RegistryDB.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RegistryDB wraps a pgx pool so every registry operation runs inside a single
// transaction. Write paths use serializable isolation: the one-active /
// one-draft indexes and the version number allocation depend on it.
type RegistryDB struct {
	pool txBeginner
}

func NewRegistryDB(pool *pgxpool.Pool) *RegistryDB {
	if pool == nil {
		panic("RegistryDB requires pool")
	}
	return &RegistryDB{pool: pool}
}

// WithTx executes fn inside a read-committed transaction. Intended for
// read-only lookups and listings.
func (db *RegistryDB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{}, fn)
}

// WithSerializable executes fn inside a serializable transaction. Every
// mutation of the live or archive tables goes through here so that a
// conflicting writer surfaces as a serialization failure instead of a broken
// invariant.
func (db *RegistryDB) WithSerializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (db *RegistryDB) run(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
