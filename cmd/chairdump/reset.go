package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apopov/chairdump/internal/state"
)

func newResetCmd() *cobra.Command {
	pf := &planFlags{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored state of a download for a date range",
		Long: `Reset deletes the persisted session record for the selected range so the
next download starts from scratch. Downloaded files are left on disk; remove
the raw/ and extracted/ directories yourself if you want them gone too.`,
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

			if _, err := repo.Find(p.ID()); errors.Is(err, state.ErrNotFound) {
				fmt.Println("No stored session for this range")
				return nil
			}

			if err := repo.Delete(p.ID()); err != nil {
				return err
			}

			fmt.Println("Stored session state deleted")
			return nil
		},
	}

	pf.register(cmd)

	return cmd
}
