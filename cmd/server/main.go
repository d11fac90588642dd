// Command devsync runs the collaborative file server.
package main

import (
	"os"

	"github.com/dmitrijs2005/devsync/internal/server"
	"github.com/dmitrijs2005/devsync/internal/server/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Flags are read by the config package straight from os.Args, so cobra
// only dispatches subcommands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:                "devsync",
		Short:              "devsync: shared code files with live collaborative editing",
		SilenceUsage:       true,
		DisableFlagParsing: true,
		// config flags and their values reach the root as plain args
		Args: cobra.ArbitraryArgs,
		RunE: runServe,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:                "serve",
			Short:              "Run the HTTP and websocket server (default)",
			DisableFlagParsing: true,
			RunE:               runServe,
		},
		&cobra.Command{
			Use:                "migrate",
			Short:              "Apply database migrations and exit",
			DisableFlagParsing: true,
			RunE:               runMigrate,
		},
	)
	return rootCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, err := server.NewApp(cmd.Context(), config.LoadConfig())
	if err != nil {
		return err
	}
	app.Run(cmd.Context())
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := config.LoadConfig()
	if err := server.Migrate(cmd.Context(), cfg); err != nil {
		return err
	}
	cmd.Println("migrations applied")
	return nil
}
