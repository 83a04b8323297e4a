package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apopov/chairdump/internal/config"
	"github.com/apopov/chairdump/internal/plan"
)

const dateLayout = "2006-01-02"

// planFlags collects the flags every plan-scoped subcommand shares. Flag
// values override the config file, which overrides built-in defaults.
type planFlags struct {
	from      string
	to        string
	tables    []string
	outputDir string
	baseURL   string
}

func (pf *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&pf.from, "from", "", "first dump date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&pf.to, "to", "", "last dump date, YYYY-MM-DD (defaults to --from)")
	cmd.Flags().StringSliceVarP(&pf.tables, "tables", "t", nil, "tables to download (blocks, transactions, outputs)")
	cmd.Flags().StringVarP(&pf.outputDir, "output", "o", "", "output directory")
	cmd.Flags().StringVar(&pf.baseURL, "base-url", "", "dump host base URL")
	_ = cmd.MarkFlagRequired("from")
}

func (pf *planFlags) buildPlan(cfg *config.Config) (*plan.Plan, error) {
	from, err := time.Parse(dateLayout, pf.from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from date %q: %w", pf.from, err)
	}

	to := from
	if pf.to != "" {
		to, err = time.Parse(dateLayout, pf.to)
		if err != nil {
			return nil, fmt.Errorf("invalid --to date %q: %w", pf.to, err)
		}
	}

	tables := pf.tables
	if len(tables) == 0 {
		tables = cfg.Download.Tables
	}

	outputDir := pf.outputDir
	if outputDir == "" {
		outputDir = cfg.Download.OutputDir
	}

	baseURL := pf.baseURL
	if baseURL == "" {
		baseURL = cfg.Download.BaseURL
	}

	return plan.Build(plan.Spec{
		From:      from,
		To:        to,
		Tables:    tables,
		OutputDir: outputDir,
		BaseURL:   baseURL,
	})
}
