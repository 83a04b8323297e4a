package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apopov/chairdump/internal/config"
	"github.com/apopov/chairdump/internal/logger"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "chairdump",
	Short: "chairdump bulk-downloads dated Blockchair TSV dump archives",
	Long: `chairdump plans, sizes and runs resumable bulk downloads of the daily
blocks/transactions/outputs TSV dumps published by gz.blockchair.com,
extracting each archive as it lands. Interrupted runs pick up where they
stopped, byte for byte.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(debug)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newEstimateCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newResetCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
