package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apopov/chairdump/internal/estimate"
	"github.com/apopov/chairdump/internal/fetch"
)

func newEstimateCmd() *cobra.Command {
	pf := &planFlags{}

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Probe archive sizes for a date range without downloading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			p, err := pf.buildPlan(cfg)
			if err != nil {
				return err
			}

			client := fetch.NewClient(fetch.DefaultClientConfig())
			defer client.Cleanup()

			estimator := estimate.New(client, estimate.Config{
				Concurrency:       cfg.Estimate.Concurrency,
				DegradedThreshold: cfg.Estimate.DegradedThreshold,
			})

			result, err := estimator.Estimate(cmd.Context(), p)
			if err != nil {
				return err
			}

			fmt.Printf("Period:  %s .. %s (%d days)\n", p.From.Format(dateLayout), p.To.Format(dateLayout), p.Days())
			fmt.Printf("Tables:  %v\n", p.Tables)
			fmt.Printf("Files:   %d\n", result.FileCount)
			for _, table := range p.Tables {
				fmt.Printf("  %-14s %s\n", table, formatBytes(result.PerTable[table]))
			}
			fmt.Printf("Download size:   %s\n", formatBytes(result.TotalBytes))
			fmt.Printf("Extracted size:  ~%s\n", formatBytes(result.UncompressedBytes()))
			if result.Unavailable > 0 {
				fmt.Printf("Not yet published: %d file(s)\n", result.Unavailable)
			}
			if result.FailedProbes > 0 {
				fmt.Printf("Probe failures:    %d file(s), totals are a lower bound\n", result.FailedProbes)
			}
			if result.Degraded {
				fmt.Println("Warning: most probes failed, this estimate is unreliable")
			}

			return nil
		},
	}

	pf.register(cmd)

	return cmd
}
