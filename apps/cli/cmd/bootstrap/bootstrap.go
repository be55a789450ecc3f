package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

// Command groups bootstrap helpers (registry schema, future seed steps).
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap registry resources",
		Long:  "Bootstrap registry resources such as the version tables and their protective indexes.",
	}

	cmd.AddCommand(schemaCommand())
	return cmd
}

func schemaCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "schema",
		Short: "Apply the registry schema",
		Long:  "Apply the loader version tables, archive table and uniqueness indexes. The DDL is idempotent; rerunning is safe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapRegistrySchema(ctx, pool); err != nil {
				return fmt.Errorf("apply registry schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Registry schema applied.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")

	return c
}
