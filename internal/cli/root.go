package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "azmon-sink",
		Short: "A batching log sink for the Azure Monitor Logs Ingestion API",
		Long: `azmon-sink accepts structured log records, accumulates them into
bounded batches, and ships each batch to an Azure Monitor Logs Ingestion
(Data Collection Rule) endpoint over HTTPS, authenticating with a
client-credentials bearer token.

Records are read as JSON lines from stdin. Batches are released when they
reach the configured size or on each flush interval; a failed delivery is
logged and dropped, with the cached token invalidated so the next batch
goes out with fresh credentials.

Hot-reload: when a config file is specified, changes rebuild the sink
without requiring a restart.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd.Execute()
}
