package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	loadersrepo "github.com/zenGate-Global/loader-registry/domains/loaders/be/repo"
	loadersservice "github.com/zenGate-Global/loader-registry/domains/loaders/be/service"
	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

// Command groups loader version utilities: listing, history, imports and
// rollbacks against a registry database.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loaders",
		Short: "Inspect and manage loader versions",
	}

	cmd.AddCommand(listCommand())
	cmd.AddCommand(historyCommand())
	cmd.AddCommand(importCommand())
	cmd.AddCommand(rollbackCommand())
	return cmd
}

func withService(databaseURL string, fn func(ctx context.Context, svc loadersservice.Service) error) error {
	ctx := context.Background()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return fmt.Errorf("init pool: %w", err)
	}
	defer persistence.ClosePool(pool)

	registryDB := persistence.NewRegistryDB(pool)
	validator, err := persistence.NewDefinitionValidator(nil)
	if err != nil {
		return fmt.Errorf("compile definition schema: %w", err)
	}

	liveStore, err := persistence.NewLoaderVersionStore(registryDB)
	if err != nil {
		return fmt.Errorf("init loader version store: %w", err)
	}
	archiveStore, err := persistence.NewLoaderArchiveStore(registryDB)
	if err != nil {
		return fmt.Errorf("init loader archive store: %w", err)
	}

	repo := loadersrepo.NewPostgresRepository(registryDB, liveStore, archiveStore)
	return fn(ctx, loadersservice.New(repo, validator))
}

func listCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "list",
		Short: "List every live loader version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(databaseURL, func(ctx context.Context, svc loadersservice.Service) error {
				versions, err := svc.ListLive(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "CODE\tVERSION\tSTATUS\tENABLED\tCHANGE\tCREATED BY")
				for _, version := range versions {
					fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\t%s\n",
						version.LoaderCode, version.VersionNumber, version.Status,
						version.Enabled, version.ChangeType, version.CreatedBy)
				}
				return w.Flush()
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")
	return c
}

func historyCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "history <loader-code>",
		Short: "Show the full version trail of a loader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(databaseURL, func(ctx context.Context, svc loadersservice.Service) error {
				entries, err := svc.History(ctx, args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATE\tCHANGE\tCREATED BY\tCREATED AT\tNOTE")
				for _, entry := range entries {
					state := string(entry.Status)
					note := ""
					if entry.Archived {
						state = string(*entry.ArchiveStatus)
						if entry.RejectionReason != nil {
							note = *entry.RejectionReason
						} else if entry.ArchiveReason != nil {
							note = *entry.ArchiveReason
						}
					} else if entry.ChangeSummary != nil {
						note = *entry.ChangeSummary
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						entry.VersionNumber, state, entry.ChangeType,
						entry.CreatedBy, entry.CreatedAt.Format("2006-01-02 15:04:05"), note)
				}
				return w.Flush()
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")
	return c
}

func importCommand() *cobra.Command {
	var (
		databaseURL     string
		definitionPath  string
		importLabel     string
		actor           string
		refreshInterval int
		maxRuntime      int
		loadStrategy    string
	)

	c := &cobra.Command{
		Use:   "import <loader-code>",
		Short: "Stage a draft from an exported definition file",
		Long:  "Stage a draft for a loader code from a definition JSON file. The draft carries the import label as provenance and still goes through the approval cycle.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(definitionPath)
			if err != nil {
				return fmt.Errorf("read definition file: %w", err)
			}

			return withService(databaseURL, func(ctx context.Context, svc loadersservice.Service) error {
				draft, err := svc.CreateDraft(ctx, actor, loadersservice.CreateDraftInput{
					LoaderCode: args[0],
					Definition: json.RawMessage(raw),
					Settings: persistence.LoaderSettings{
						RefreshIntervalSeconds: refreshInterval,
						MaxRuntimeSeconds:      maxRuntime,
						LoadStrategy:           persistence.LoadStrategy(loadStrategy),
					},
					ImportLabel: importLabel,
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Draft staged: %s version %d (%s)\n",
					draft.LoaderCode, draft.VersionNumber, draft.ID)
				return nil
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&definitionPath, "file", "", "Path to the definition JSON file")
	c.Flags().StringVar(&importLabel, "label", "", "Provenance label for the imported definition")
	c.Flags().StringVar(&actor, "actor", "", "Author recorded on the draft")
	c.Flags().IntVar(&refreshInterval, "refresh-interval", 3600, "Refresh interval in seconds")
	c.Flags().IntVar(&maxRuntime, "max-runtime", 0, "Maximum runtime in seconds (0 = unlimited)")
	c.Flags().StringVar(&loadStrategy, "strategy", "FULL", "Load strategy (FULL, INCREMENTAL, UPSERT)")

	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("file")
	_ = c.MarkFlagRequired("label")
	_ = c.MarkFlagRequired("actor")
	return c
}

func rollbackCommand() *cobra.Command {
	var (
		databaseURL string
		actor       string
		reason      string
	)

	c := &cobra.Command{
		Use:   "rollback <loader-code> <version>",
		Short: "Stage a draft from an archived version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetVersion, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}

			return withService(databaseURL, func(ctx context.Context, svc loadersservice.Service) error {
				draft, err := svc.Rollback(ctx, actor, args[0], targetVersion, reason)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Rollback draft staged: %s version %d (%s)\n",
					draft.LoaderCode, draft.VersionNumber, draft.ID)
				return nil
			})
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&actor, "actor", "", "Administrator recorded on the draft")
	c.Flags().StringVar(&reason, "reason", "", "Why the rollback is needed")

	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("actor")
	return c
}
