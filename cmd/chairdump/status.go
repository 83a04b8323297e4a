package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apopov/chairdump/internal/state"
)

func newStatusCmd() *cobra.Command {
	pf := &planFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted state of a download for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			p, err := pf.buildPlan(cfg)
			if err != nil {
				return err
			}

			repo, err := state.NewRepository(filepath.Join(p.OutputDir, state.DBFileName))
			if err != nil {
				return err
			}
			defer repo.Close()

			st, err := repo.Find(p.ID())
			if errors.Is(err, state.ErrNotFound) {
				fmt.Println("No stored session for this range, nothing downloaded yet")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Session %s (last updated %s)\n", p.ID(), st.UpdatedAt.Format("2006-01-02 15:04:05"))

			counts := st.CountByStatus()
			for _, status := range []state.UnitStatus{
				state.UnitPending, state.UnitDownloading, state.UnitDownloaded,
				state.UnitExtracting, state.UnitExtracted, state.UnitCleanedUp,
				state.UnitSkipped, state.UnitFailed,
			} {
				if counts[status] > 0 {
					fmt.Printf("  %-12s %d\n", status, counts[status])
				}
			}

			// Unknown units are still pending, report those too.
			known := len(st.Units)
			if pending := len(p.Units) - known; pending > 0 {
				fmt.Printf("  %-12s %d (not yet started)\n", state.UnitPending, pending)
			}

			for _, unit := range p.Units {
				rec := st.Unit(unit.Key())
				if rec.Status == state.UnitFailed {
					fmt.Printf("  failed: %s (%s)\n", unit.Key(), rec.Error)
				}
			}

			return nil
		},
	}

	pf.register(cmd)

	return cmd
}
