package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/azmon-sink/internal/config"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Credential values are deliberately not echoed back.
			fmt.Printf("Configuration valid:\n")
			fmt.Printf("  Endpoint: %s\n", cfg.Sink.Endpoint)
			fmt.Printf("  Rule:     %s\n", cfg.Sink.RuleID)
			fmt.Printf("  Stream:   %s\n", cfg.Sink.Stream)
			fmt.Printf("  Batching: size=%d, capacity=%d, flush=%s\n",
				cfg.Sink.BatchSize, cfg.Sink.BufferCapacity, cfg.Sink.FlushInterval)
			fmt.Printf("  Naming:   %s (max depth %d)\n", cfg.Sink.Naming, cfg.Sink.MaxDepth)
			return nil
		},
	}
}
