package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/apopov/chairdump/internal/logger"
)

// Outcome is the terminal result of a single Fetch call. Paused and Cancelled
// are designed suspension points, not errors.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomePaused
	OutcomeCancelled
	OutcomeNotFound
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomePaused:
		return "paused"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNotFound:
		return "not found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressFunc receives byte deltas for freshly transferred data. Bytes
// already on disk from a previous run are not replayed through it.
type ProgressFunc func(delta int64)

// FetcherConfig holds the tunables of the transfer loop.
type FetcherConfig struct {
	MaxRetries       int           // attempts beyond the first
	RetryBaseDelay   time.Duration // exponential backoff base
	ChunkSize        int           // read buffer size
	ProgressInterval time.Duration // max time between progress callbacks
	ProgressBytes    int64         // max bytes between progress callbacks
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxRetries:       4,
		RetryBaseDelay:   500 * time.Millisecond,
		ChunkSize:        256 * 1024,
		ProgressInterval: 500 * time.Millisecond,
		ProgressBytes:    1 << 20,
	}
}

// Fetcher downloads one remote file to one local path with byte-range resume,
// throttled progress reporting and cooperative pause/cancel.
type Fetcher struct {
	client *Client
	config FetcherConfig
	log    zerolog.Logger
}

func NewFetcher(client *Client, config FetcherConfig) *Fetcher {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultFetcherConfig().ChunkSize
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = DefaultFetcherConfig().ProgressInterval
	}
	if config.ProgressBytes <= 0 {
		config.ProgressBytes = DefaultFetcherConfig().ProgressBytes
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultFetcherConfig().RetryBaseDelay
	}

	return &Fetcher{
		client: client,
		config: config,
		log:    logger.With("fetch"),
	}
}

// Fetch transfers url into path, resuming from any partial file found there.
// expectedSize 0 means the size is unknown and disables the idempotent
// short-circuit and the final size check. Transient network failures are
// retried with exponential backoff up to the configured budget; disk errors
// and size mismatches are surfaced immediately.
func (f *Fetcher) Fetch(ctx context.Context, url, path string, expectedSize int64, onProgress ProgressFunc, ctl *Control) (Outcome, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return OutcomeFailed, newDiskError("mkdir", url, err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt-1, f.config.RetryBaseDelay)
			f.log.Warn().Str("url", url).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying fetch")
			select {
			case <-ctx.Done():
				return OutcomeCancelled, nil
			case <-time.After(delay):
			}
		}

		outcome, err := f.attempt(ctx, url, path, expectedSize, onProgress, ctl)
		if err == nil {
			return outcome, nil
		}

		var fetchErr *Error
		if errors.As(err, &fetchErr) && fetchErr.Retryable() {
			lastErr = err
			continue
		}

		return outcome, err
	}

	return OutcomeFailed, fmt.Errorf("fetch failed after %d attempts: %w", f.config.MaxRetries+1, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, url, path string, expectedSize int64, onProgress ProgressFunc, ctl *Control) (Outcome, error) {
	offset, err := resumeOffset(path, expectedSize)
	if err != nil {
		return OutcomeFailed, newDiskError("stat", url, err)
	}
	if expectedSize > 0 && offset == expectedSize {
		f.log.Debug().Str("path", path).Msg("file already complete, skipping transfer")
		return OutcomeComplete, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to create GET request: %w", err)
	}
	f.client.applyHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
		return OutcomeFailed, newNetworkError("GET", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return OutcomeNotFound, fmt.Errorf("%w: %s", ErrNotFound, url)
	case offset > 0 && resp.StatusCode == http.StatusOK:
		// Host ignored the range request. Discard the partial file and take
		// the whole body from byte 0 rather than trusting a blind append.
		f.log.Warn().Str("url", url).Int64("offset", offset).Msg("host ignored range request, restarting from byte 0")
		offset = 0
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Partial file disagrees with what the host serves. Discard it and
		// let the retry loop start over from byte 0.
		f.log.Warn().Str("url", url).Int64("offset", offset).Msg("range not satisfiable, discarding partial file")
		if truncErr := os.Truncate(path, 0); truncErr != nil {
			return OutcomeFailed, newDiskError("truncate", url, truncErr)
		}
		return OutcomeFailed, newNetworkError("GET", url, errors.New("range not satisfiable, partial discarded"))
	case offset > 0 && resp.StatusCode != http.StatusPartialContent:
		return OutcomeFailed, newStatusError("GET", url, resp.StatusCode, errors.New("unexpected status for range request"))
	case offset == 0 && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return OutcomeFailed, newStatusError("GET", url, resp.StatusCode, errors.New("unexpected status code"))
	}

	file, err := openForResume(path, offset)
	if err != nil {
		return OutcomeFailed, newDiskError("open", url, err)
	}
	defer file.Close()

	outcome, written, err := f.copyBody(resp.Body, file, url, onProgress, ctl)
	if err != nil {
		return outcome, err
	}
	if outcome != OutcomeComplete {
		// Paused or cancelled: sync what we have so the partial file is a
		// trustworthy resume point.
		if syncErr := file.Sync(); syncErr != nil {
			return OutcomeFailed, newDiskError("sync", url, syncErr)
		}
		return outcome, nil
	}

	if err := file.Sync(); err != nil {
		return OutcomeFailed, newDiskError("sync", url, err)
	}

	final := offset + written
	if expectedSize > 0 && final != expectedSize {
		// Keep the file on disk for diagnosis.
		return OutcomeFailed, &Error{
			Kind:      KindSizeMismatch,
			Operation: "GET",
			URL:       url,
			Err:       fmt.Errorf("expected %d bytes, got %d", expectedSize, final),
		}
	}

	return OutcomeComplete, nil
}

// copyBody streams the response body to the file, checking the control signal
// between chunks and emitting throttled progress deltas.
func (f *Fetcher) copyBody(body io.Reader, file *os.File, url string, onProgress ProgressFunc, ctl *Control) (Outcome, int64, error) {
	buffer := make([]byte, f.config.ChunkSize)

	var written, pending int64
	lastEmit := time.Now()

	flush := func() {
		if pending > 0 && onProgress != nil {
			onProgress(pending)
			pending = 0
		}
		lastEmit = time.Now()
	}
	defer flush()

	for {
		if ctl != nil {
			switch ctl.Signal() {
			case SignalCancel:
				return OutcomeCancelled, written, nil
			case SignalPause:
				return OutcomePaused, written, nil
			}
		}

		n, readErr := body.Read(buffer)
		if n > 0 {
			if _, writeErr := file.Write(buffer[:n]); writeErr != nil {
				return OutcomeFailed, written, newDiskError("write", url, writeErr)
			}
			written += int64(n)
			pending += int64(n)
			if pending >= f.config.ProgressBytes || time.Since(lastEmit) >= f.config.ProgressInterval {
				flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return OutcomeComplete, written, nil
			}
			if ctl != nil && ctl.Signal() == SignalCancel {
				return OutcomeCancelled, written, nil
			}
			return OutcomeFailed, written, newNetworkError("read", url, readErr)
		}
	}
}

// resumeOffset inspects the partial file. A partial larger than the expected
// size is corrupt and is truncated so the fetch restarts from byte 0.
func resumeOffset(path string, expectedSize int64) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	size := info.Size()
	if expectedSize > 0 && size > expectedSize {
		if err := os.Truncate(path, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}

	return size, nil
}

func openForResume(path string, offset int64) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(path, flags, 0o644)
}

// backoff computes an exponential delay with jitter, capped at two minutes.
func backoff(retryCount int, baseDelay time.Duration) time.Duration {
	delay := baseDelay * (1 << uint(retryCount))

	// Jitter between 75% and 125% of the computed delay.
	jitterFactor := 0.75 + 0.5*rand.Float64()
	jitter := time.Duration(float64(delay) * jitterFactor)

	maxDelay := 2 * time.Minute
	if jitter > maxDelay {
		jitter = maxDelay
	}

	return jitter
}
