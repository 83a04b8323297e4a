// Package estimate sizes a download plan without transferring file bodies.
package estimate

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/apopov/chairdump/internal/fetch"
	"github.com/apopov/chairdump/internal/logger"
	"github.com/apopov/chairdump/internal/plan"
)

// GzipRatio approximates how much larger the extracted TSV data is than the
// compressed archives, observed at roughly 30% compression on the host's dumps.
const GzipRatio = 0.3

const (
	DefaultConcurrency       = 8
	DefaultDegradedThreshold = 0.5
)

// UnitEstimate is the probe result for a single plan unit.
type UnitEstimate struct {
	Unit        plan.Unit
	Size        int64 // 0 when the probe failed or the file is unavailable
	Incomplete  bool  // probe failed, size unknown
	Unavailable bool  // host reported 404 for this unit
}

// Result aggregates the probe outcomes for a whole plan. TotalBytes is a
// lower bound whenever any probe failed.
type Result struct {
	Units        []UnitEstimate
	FileCount    int
	TotalBytes   int64
	PerTable     map[string]int64
	FailedProbes int
	Unavailable  int
	Degraded     bool
}

// UncompressedBytes projects the on-disk size of the extracted data.
func (r *Result) UncompressedBytes() int64 {
	return int64(float64(r.TotalBytes) / GzipRatio)
}

// Apply writes the probed sizes back into the plan units so a following
// download can verify transfers and skip satisfied files without re-probing.
// The result must come from an Estimate call over the same plan.
func (r *Result) Apply(p *plan.Plan) {
	if len(r.Units) != len(p.Units) {
		return
	}
	for i, est := range r.Units {
		if !est.Incomplete && !est.Unavailable {
			p.Units[i].ExpectedSize = est.Size
		}
	}
}

// Prober is the metadata probe the estimator runs per unit.
type Prober interface {
	Probe(ctx context.Context, url string) (int64, error)
}

// Config holds the estimator tunables.
type Config struct {
	Concurrency       int     // bounded probe fan-out
	DegradedThreshold float64 // failure fraction above which the result is degraded
}

func DefaultConfig() Config {
	return Config{
		Concurrency:       DefaultConcurrency,
		DegradedThreshold: DefaultDegradedThreshold,
	}
}

type Estimator struct {
	prober Prober
	config Config
	log    zerolog.Logger
}

func New(prober Prober, config Config) *Estimator {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.DegradedThreshold <= 0 || config.DegradedThreshold > 1 {
		config.DegradedThreshold = DefaultDegradedThreshold
	}

	return &Estimator{
		prober: prober,
		config: config,
		log:    logger.With("estimate"),
	}
}

// Estimate probes every unit of the plan concurrently, bounded by the
// configured concurrency. A failed probe marks its unit incomplete and the
// estimation proceeds; only context cancellation aborts the whole run.
func (e *Estimator) Estimate(ctx context.Context, p *plan.Plan) (*Result, error) {
	result := &Result{
		Units:     make([]UnitEstimate, len(p.Units)),
		FileCount: len(p.Units),
		PerTable:  make(map[string]int64, len(p.Tables)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for i, unit := range p.Units {
		g.Go(func() error {
			est := UnitEstimate{Unit: unit}

			size, err := e.prober.Probe(ctx, unit.URL)
			switch {
			case err == nil:
				est.Size = size
			case errors.Is(err, fetch.ErrNotFound):
				est.Unavailable = true
				e.log.Debug().Str("unit", unit.Key()).Msg("archive not yet published")
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				est.Incomplete = true
				e.log.Warn().Str("unit", unit.Key()).Err(err).Msg("size probe failed")
			}

			result.Units[i] = est
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, est := range result.Units {
		switch {
		case est.Incomplete:
			result.FailedProbes++
		case est.Unavailable:
			result.Unavailable++
		default:
			result.TotalBytes += est.Size
			result.PerTable[est.Unit.Table] += est.Size
		}
	}

	if result.FileCount > 0 {
		failed := float64(result.FailedProbes) / float64(result.FileCount)
		result.Degraded = failed > e.config.DegradedThreshold
	}

	e.log.Info().
		Int("files", result.FileCount).
		Int64("bytes", result.TotalBytes).
		Int("failed_probes", result.FailedProbes).
		Int("unavailable", result.Unavailable).
		Bool("degraded", result.Degraded).
		Msg("estimation complete")

	return result, nil
}
