// Package session orchestrates a download plan: it drives the fetcher and
// extractor per unit, persists resumable state after every sub-step, and
// exposes live pause, resume and cancellation.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apopov/chairdump/internal/extract"
	"github.com/apopov/chairdump/internal/fetch"
	"github.com/apopov/chairdump/internal/logger"
	"github.com/apopov/chairdump/internal/plan"
	"github.com/apopov/chairdump/internal/state"
)

// ErrAlreadyStarted is returned when Run is invoked on a session that has
// left the idle state.
var ErrAlreadyStarted = errors.New("session already started")

// UnitError identifies which unit stopped the session and why.
type UnitError struct {
	Unit string
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %s: %v", e.Unit, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// errCancelled is an internal marker; cancellation is a designed outcome and
// Run reports it as a nil error.
var errCancelled = errors.New("session cancelled")

// Config holds session behavior options.
type Config struct {
	RemoveArchives bool // delete each archive once its extraction is confirmed
	Fetcher        fetch.FetcherConfig
	EventBuffer    int // progress subscription buffer, events are dropped when full
}

func DefaultConfig() Config {
	return Config{
		RemoveArchives: true,
		Fetcher:        fetch.DefaultFetcherConfig(),
		EventBuffer:    64,
	}
}

// Session processes the units of one plan strictly in plan order. It is the
// sole owner of the persisted session state; all other consumers observe
// Summary snapshots and events only.
type Session struct {
	RunID uuid.UUID

	plan      *plan.Plan
	repo      *state.Repository
	client    *fetch.Client
	fetcher   *fetch.Fetcher
	extractor *extract.Extractor
	config    Config
	log       zerolog.Logger

	status   atomic.Int32
	ctl      fetch.Control
	resumeCh chan struct{}
	events   chan Event

	mu          sync.Mutex
	state       *state.SessionState
	sizes       map[string]int64 // per-unit expected sizes discovered at run time
	inflight    string           // key of the unit currently transferring
	startTime   time.Time
	transferred atomic.Int64
	rate        *rateWindow
}

func New(p *plan.Plan, repo *state.Repository, client *fetch.Client, config Config) *Session {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}

	return &Session{
		RunID:     uuid.New(),
		plan:      p,
		repo:      repo,
		client:    client,
		fetcher:   fetch.NewFetcher(client, config.Fetcher),
		extractor: extract.New(),
		config:    config,
		log:       logger.With("session"),
		resumeCh:  make(chan struct{}, 1),
		events:    make(chan Event, config.EventBuffer),
		sizes:     make(map[string]int64),
		rate:      newRateWindow(5 * time.Second),
	}
}

// Events returns the progress subscription. The channel is closed when the
// session reaches a terminal state.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Status returns the current session-level state.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Pause requests suspension of the in-flight transfer. The session reports
// Paused only once the fetch acknowledges, never mid-write.
func (s *Session) Pause() {
	if s.Status() == StatusRunning {
		s.ctl.Pause()
	}
}

// Resume continues a paused session from the persisted partial-file offset.
func (s *Session) Resume() {
	s.ctl.Resume()
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
}

// Cancel stops the session promptly but preservingly: partial files and the
// persisted state stay on disk, so a later Run on the same plan resumes
// rather than restarts.
func (s *Session) Cancel() {
	s.ctl.Cancel()
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
}

// Reset discards the persisted state for this session's plan so the next run
// starts from scratch. It refuses to touch a running session.
func (s *Session) Reset() error {
	if status := s.Status(); status != StatusIdle && !status.Terminal() {
		return errors.New("cannot reset a running session")
	}

	err := s.repo.Delete(s.plan.ID())
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("failed to reset session state: %w", err)
	}

	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()

	return nil
}

// Run processes every unit of the plan in order, resuming from persisted
// state when present. It blocks until the session reaches a terminal state
// and returns a non-nil error only for Failed.
func (s *Session) Run(ctx context.Context) error {
	if !s.status.CompareAndSwap(int32(StatusIdle), int32(StatusRunning)) {
		return ErrAlreadyStarted
	}
	defer close(s.events)

	if err := s.loadState(); err != nil {
		s.status.Store(int32(StatusFailed))
		return err
	}

	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("plan", s.plan.ID()).
		Str("from", s.plan.From.Format("2006-01-02")).
		Str("to", s.plan.To.Format("2006-01-02")).
		Strs("tables", s.plan.Tables).
		Str("output", s.plan.OutputDir).
		Bool("remove_archives", s.config.RemoveArchives).
		Int("units", len(s.plan.Units)).
		Msg("session starting")

	for _, unit := range s.plan.Units {
		if err := s.waitWhilePaused(ctx); err != nil {
			return s.finish(err)
		}

		if err := s.processUnit(ctx, unit); err != nil {
			return s.finish(err)
		}
	}

	return s.finish(nil)
}

// loadState loads the persisted record for this plan identity or creates a
// fresh one. The remove-archives preference follows the current run.
func (s *Session) loadState() error {
	st, err := s.repo.Find(s.plan.ID())
	switch {
	case err == nil:
		s.log.Info().Str("plan", s.plan.ID()).Int("known_units", len(st.Units)).Msg("resuming from persisted state")
	case errors.Is(err, state.ErrNotFound):
		st = state.NewSessionState(s.plan.ID(), s.config.RemoveArchives)
	default:
		return fmt.Errorf("failed to load session state: %w", err)
	}

	st.RemoveArchives = s.config.RemoveArchives

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	return s.saveState()
}

func (s *Session) finish(err error) error {
	counts := s.stateCounts()

	switch {
	case err == nil:
		s.status.Store(int32(StatusCompleted))
		s.emit(Event{Kind: EventSessionCompleted, Message: "all units processed"})
		s.log.Info().
			Int("satisfied", counts[state.UnitCleanedUp]+counts[state.UnitExtracted]).
			Int("skipped", counts[state.UnitSkipped]).
			Int64("transferred_bytes", s.transferred.Load()).
			Msg("session completed")
		return nil
	case errors.Is(err, errCancelled):
		s.status.Store(int32(StatusCancelled))
		s.emit(Event{Kind: EventSessionCancelled, Message: "cancelled, state preserved for resume"})
		s.log.Info().Int64("transferred_bytes", s.transferred.Load()).Msg("session cancelled")
		return nil
	default:
		s.status.Store(int32(StatusFailed))
		s.emit(Event{Kind: EventSessionFailed, Err: err})
		s.log.Error().Err(err).Msg("session failed")
		return err
	}
}

// waitWhilePaused blocks between units (and between fetch re-invocations)
// while a pause is in effect.
func (s *Session) waitWhilePaused(ctx context.Context) error {
	if ctx.Err() != nil {
		return errCancelled
	}

	for {
		switch s.ctl.Signal() {
		case fetch.SignalCancel:
			return errCancelled
		case fetch.SignalNone:
			if s.Status() == StatusPaused {
				s.status.Store(int32(StatusRunning))
				s.emit(Event{Kind: EventSessionResumed})
				s.log.Info().Msg("session resumed")
			}
			return nil
		}

		// Pause requested: acknowledge and wait for Resume or Cancel.
		if s.status.CompareAndSwap(int32(StatusRunning), int32(StatusPaused)) {
			s.emit(Event{Kind: EventSessionPaused})
			s.log.Info().Msg("session paused")
		}

		select {
		case <-ctx.Done():
			return errCancelled
		case <-s.resumeCh:
		}
	}
}

func (s *Session) processUnit(ctx context.Context, unit plan.Unit) error {
	key := unit.Key()
	rec := s.unitRecord(key)

	// Units already fully satisfied by a previous run are skipped without
	// any I/O.
	switch rec.Status {
	case state.UnitCleanedUp, state.UnitSkipped:
		return nil
	case state.UnitExtracted:
		if !s.config.RemoveArchives {
			return nil
		}
		return s.cleanupUnit(unit, rec)
	}

	expectedSize, err := s.expectedSize(ctx, unit)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return s.skipUnit(unit, rec, "archive not published")
		}
		// Size unknown; the fetch proceeds without the idempotent
		// short-circuit or the final verification.
		s.log.Warn().Str("unit", key).Err(err).Msg("size probe failed, fetching without verification")
	}

	if err := s.downloadUnit(ctx, unit, rec, expectedSize); err != nil {
		return err
	}
	rec = s.unitRecord(key)
	if rec.Status == state.UnitSkipped {
		return nil
	}

	if err := s.extractUnit(unit, rec); err != nil {
		return err
	}

	if s.config.RemoveArchives {
		return s.cleanupUnit(unit, s.unitRecord(key))
	}

	return nil
}

func (s *Session) downloadUnit(ctx context.Context, unit plan.Unit, rec state.UnitRecord, expectedSize int64) error {
	key := unit.Key()

	rec.Status = state.UnitDownloading
	rec.Error = ""
	s.setInflight(key)
	if err := s.updateUnit(key, rec); err != nil {
		return err
	}
	defer s.setInflight("")

	s.emit(Event{Kind: EventFileStarted, Unit: key, Message: unit.ArchiveName()})
	s.log.Info().Str("unit", key).Int64("expected_bytes", expectedSize).Msg("downloading")

	onProgress := func(delta int64) {
		s.transferred.Add(delta)
		s.rate.Add(delta)

		r := s.unitRecord(key)
		r.BytesDownloaded += delta
		// Progress callbacks arrive at a bounded cadence, so persisting here
		// keeps the stored offset close to the bytes actually on disk.
		if err := s.updateUnit(key, r); err != nil {
			s.log.Warn().Str("unit", key).Err(err).Msg("failed to persist progress")
		}
	}

	for {
		outcome, err := s.fetcher.Fetch(ctx, unit.URL, unit.ArchivePath, expectedSize, onProgress, &s.ctl)

		switch outcome {
		case fetch.OutcomeComplete:
			rec = s.unitRecord(key)
			rec.Status = state.UnitDownloaded
			if expectedSize > 0 {
				rec.BytesDownloaded = expectedSize
			}
			if err := s.updateUnit(key, rec); err != nil {
				return err
			}
			s.emit(Event{Kind: EventFileDownloaded, Unit: key})
			return nil

		case fetch.OutcomeNotFound:
			return s.skipUnit(unit, s.unitRecord(key), "archive not published")

		case fetch.OutcomePaused:
			if waitErr := s.waitWhilePaused(ctx); waitErr != nil {
				return waitErr
			}
			// Re-invoke the fetch; it continues from the partial file.
			continue

		case fetch.OutcomeCancelled:
			return errCancelled

		default:
			rec = s.unitRecord(key)
			rec.Status = state.UnitFailed
			rec.Error = err.Error()
			if saveErr := s.updateUnit(key, rec); saveErr != nil {
				s.log.Error().Str("unit", key).Err(saveErr).Msg("failed to persist failure")
			}
			s.emit(Event{Kind: EventUnitFailed, Unit: key, Err: err})
			return &UnitError{Unit: key, Err: err}
		}
	}
}

func (s *Session) extractUnit(unit plan.Unit, rec state.UnitRecord) error {
	key := unit.Key()

	rec.Status = state.UnitExtracting
	if err := s.updateUnit(key, rec); err != nil {
		return err
	}

	outcome, err := s.extractor.Extract(unit.ArchivePath, unit.OutputPath)
	if err != nil {
		rec.Status = state.UnitFailed
		rec.Error = err.Error()
		if saveErr := s.updateUnit(key, rec); saveErr != nil {
			s.log.Error().Str("unit", key).Err(saveErr).Msg("failed to persist failure")
		}
		s.emit(Event{Kind: EventUnitFailed, Unit: key, Err: err})
		return &UnitError{Unit: key, Err: err}
	}

	rec.Status = state.UnitExtracted
	rec.Error = ""
	if err := s.updateUnit(key, rec); err != nil {
		return err
	}
	if outcome == extract.OutcomeExtracted {
		s.emit(Event{Kind: EventFileExtracted, Unit: key})
		s.log.Info().Str("unit", key).Msg("extracted")
	}

	return nil
}

// cleanupUnit removes the archive after confirmed extraction. Removal is
// best-effort, but the CleanedUp transition is persisted either way so the
// unit is never reprocessed.
func (s *Session) cleanupUnit(unit plan.Unit, rec state.UnitRecord) error {
	key := unit.Key()

	if _, err := os.Stat(unit.ArchivePath); err == nil {
		s.extractor.Remove(unit.ArchivePath)
		s.emit(Event{Kind: EventFileRemoved, Unit: key})
	}

	rec.Status = state.UnitCleanedUp
	return s.updateUnit(key, rec)
}

func (s *Session) skipUnit(unit plan.Unit, rec state.UnitRecord, reason string) error {
	key := unit.Key()

	rec.Status = state.UnitSkipped
	rec.Error = reason
	if err := s.updateUnit(key, rec); err != nil {
		return err
	}

	s.emit(Event{Kind: EventUnitSkipped, Unit: key, Message: reason})
	s.log.Info().Str("unit", key).Str("reason", reason).Msg("unit skipped")

	return nil
}

// expectedSize returns the unit's size from the plan when the estimator has
// filled it, probing the host otherwise.
func (s *Session) expectedSize(ctx context.Context, unit plan.Unit) (int64, error) {
	if unit.ExpectedSize > 0 {
		s.recordSize(unit.Key(), unit.ExpectedSize)
		return unit.ExpectedSize, nil
	}

	size, err := s.client.Probe(ctx, unit.URL)
	if err != nil {
		return 0, err
	}
	s.recordSize(unit.Key(), size)

	return size, nil
}

// Summary recomputes an aggregate snapshot from the persisted unit records
// and the in-memory byte-rate window.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{
		RunID:            s.RunID,
		Status:           s.Status(),
		TotalUnits:       len(s.plan.Units),
		TransferredBytes: s.transferred.Load(),
		Speed:            s.rate.Speed(),
	}
	if !s.startTime.IsZero() {
		summary.Elapsed = time.Since(s.startTime)
	}

	var accounted int64
	for _, unit := range s.plan.Units {
		key := unit.Key()
		size := unit.ExpectedSize
		if size == 0 {
			size = s.sizes[key]
		}
		summary.ExpectedBytes += size

		var rec state.UnitRecord
		if s.state != nil {
			rec = s.state.Unit(key)
		}
		switch rec.Status {
		case state.UnitExtracted, state.UnitCleanedUp, state.UnitSkipped:
			summary.SatisfiedUnits++
			accounted += size
		case state.UnitFailed:
			summary.FailedUnits++
		default:
			if key == s.inflight {
				accounted += rec.BytesDownloaded
			}
		}
	}

	if summary.Speed > 0 && summary.ExpectedBytes > accounted {
		summary.ETA = time.Duration((summary.ExpectedBytes-accounted)/summary.Speed) * time.Second
	}

	return summary
}

func (s *Session) unitRecord(key string) state.UnitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Unit(key)
}

// updateUnit persists a unit transition. State is written after every
// sub-step so a crash mid-fetch resumes mid-fetch.
func (s *Session) updateUnit(key string, rec state.UnitRecord) error {
	s.mu.Lock()
	s.state.SetUnit(key, rec)
	s.mu.Unlock()

	return s.saveState()
}

func (s *Session) saveState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Save(s.state); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	return nil
}

func (s *Session) stateCounts() map[state.UnitStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return map[state.UnitStatus]int{}
	}
	return s.state.CountByStatus()
}

func (s *Session) setInflight(key string) {
	s.mu.Lock()
	s.inflight = key
	s.mu.Unlock()
}

func (s *Session) recordSize(key string, size int64) {
	s.mu.Lock()
	s.sizes[key] = size
	s.mu.Unlock()
}

// emit delivers an event without ever blocking the orchestration loop; slow
// consumers lose events, not progress.
func (s *Session) emit(event Event) {
	event.Timestamp = time.Now()
	select {
	case s.events <- event:
	default:
	}
}
