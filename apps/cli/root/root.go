package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the registry admin CLI. Subcommands
// (bootstrap, loaders) are attached here.
var rootCmd = &cobra.Command{
	Use:           "loader-registry",
	Short:         "Loader registry admin CLI",
	Long:          "Administrative utilities for the loader registry (schema bootstrap, version history, imports, rollbacks).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
