package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apopov/chairdump/internal/estimate"
	"github.com/apopov/chairdump/internal/fetch"
	"github.com/apopov/chairdump/internal/session"
	"github.com/apopov/chairdump/internal/state"
)

func newDownloadCmd() *cobra.Command {
	pf := &planFlags{}
	var keepArchives, skipEstimate bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and extract dump archives for a date range",
		Long: `Download runs a resumable session over every (table, date) archive in the
selected range. Interrupting with Ctrl+C preserves partial files and state;
rerunning the same command continues from where it stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			p, err := pf.buildPlan(cfg)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			repo, err := state.NewRepository(filepath.Join(p.OutputDir, state.DBFileName))
			if err != nil {
				return err
			}
			defer repo.Close()

			client := fetch.NewClient(fetch.DefaultClientConfig())
			defer client.Cleanup()

			ctx := cmd.Context()

			if !skipEstimate {
				estimator := estimate.New(client, estimate.Config{
					Concurrency:       cfg.Estimate.Concurrency,
					DegradedThreshold: cfg.Estimate.DegradedThreshold,
				})
				result, err := estimator.Estimate(ctx, p)
				if err != nil {
					return err
				}
				result.Apply(p)
				fmt.Printf("Downloading %d file(s), %s compressed\n", result.FileCount-result.Unavailable, formatBytes(result.TotalBytes))
			}

			sessionConfig := session.DefaultConfig()
			sessionConfig.RemoveArchives = !keepArchives && cfg.Download.CleanupArchives()
			sessionConfig.Fetcher.MaxRetries = cfg.Fetch.MaxRetries
			sessionConfig.Fetcher.RetryBaseDelay = cfg.Fetch.RetryBaseDelay
			sessionConfig.Fetcher.ProgressInterval = cfg.Fetch.ProgressInterval

			sess := session.New(p, repo, client, sessionConfig)

			// First interrupt cancels gracefully, a second one force-quits.
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				fmt.Println("\nInterrupt received, stopping after the current chunk...")
				sess.Cancel()
				<-sigCh
				os.Exit(1)
			}()

			go printEvents(sess)

			if err := sess.Run(ctx); err != nil {
				return err
			}

			printSummary(sess.Summary())
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().BoolVar(&keepArchives, "keep-archives", false, "keep .tsv.gz archives after extraction")
	cmd.Flags().BoolVar(&skipEstimate, "skip-estimate", false, "start downloading without probing sizes first")

	return cmd
}

func printEvents(sess *session.Session) {
	for event := range sess.Events() {
		switch event.Kind {
		case session.EventFileStarted:
			fmt.Printf("  -> %s\n", event.Message)
		case session.EventFileExtracted:
			fmt.Printf("  ok %s\n", event.Unit)
		case session.EventUnitSkipped:
			fmt.Printf("  -- %s (%s)\n", event.Unit, event.Message)
		case session.EventUnitFailed:
			fmt.Printf("  !! %s: %v\n", event.Unit, event.Err)
		case session.EventSessionPaused:
			fmt.Println("Session paused")
		case session.EventSessionResumed:
			fmt.Println("Session resumed")
		}
	}
}

func printSummary(summary session.Summary) {
	fmt.Printf("\n%s: %d/%d file(s) satisfied, %d failed, %s transferred",
		summary.Status, summary.SatisfiedUnits, summary.TotalUnits,
		summary.FailedUnits, formatBytes(summary.TransferredBytes))
	if summary.Elapsed > 0 {
		elapsed := summary.Elapsed.Round(100 * time.Millisecond)
		fmt.Printf(" in %s (%s)", elapsed, formatSpeed(summary.TransferredBytes/max(int64(summary.Elapsed.Seconds()), 1)))
	}
	fmt.Println()
}
