// Command server runs the connected apps gateway and manages its schema.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"tempo/internal/platform/health"
)

var envFile string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tempo",
		Short:         "Connected apps gateway",
		Version:       health.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
