package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Summary is a derived snapshot of session progress. It is recomputed on
// demand and never persisted.
type Summary struct {
	RunID            uuid.UUID
	Status           Status
	TotalUnits       int
	SatisfiedUnits   int // extracted, cleaned up or skipped
	FailedUnits      int
	ExpectedBytes    int64 // lower bound while sizes are unknown
	TransferredBytes int64 // bytes moved during this run
	Elapsed          time.Duration
	Speed            int64 // bytes per second over the sample window
	ETA              time.Duration
}

type rateSample struct {
	at    time.Time
	bytes int64
}

// rateWindow computes current transfer speed over a sliding time window.
type rateWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []rateSample
}

func newRateWindow(window time.Duration) *rateWindow {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &rateWindow{window: window}
}

func (r *rateWindow) Add(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.samples = append(r.samples, rateSample{at: now, bytes: bytes})
	r.trim(now)
}

// Speed returns bytes per second over the window, 0 while idle.
func (r *rateWindow) Speed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.trim(now)
	if len(r.samples) == 0 {
		return 0
	}

	var total int64
	for _, s := range r.samples {
		total += s.bytes
	}

	elapsed := now.Sub(r.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}

	return int64(float64(total) / elapsed.Seconds())
}

func (r *rateWindow) trim(now time.Time) {
	cutoff := now.Add(-r.window)
	keep := 0
	for keep < len(r.samples) && r.samples[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		r.samples = r.samples[keep:]
	}
}
