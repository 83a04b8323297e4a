package fetch

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContent(size int) []byte {
	content := make([]byte, size)
	rnd := rand.New(rand.NewSource(42))
	rnd.Read(content)
	return content
}

// rangeServer serves content with full byte-range support and counts requests.
func rangeServer(t *testing.T, content []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.ServeContent(w, r, "archive.tsv.gz", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func testFetcher() *Fetcher {
	cfg := DefaultFetcherConfig()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.ChunkSize = 1024
	cfg.ProgressBytes = 1
	return NewFetcher(NewClient(nil), cfg)
}

func TestFetch(t *testing.T) {
	t.Run("downloads whole file and reports progress", func(t *testing.T) {
		content := testContent(10 * 1024)
		server, _ := rangeServer(t, content)
		path := filepath.Join(t.TempDir(), "archive.tsv.gz")

		var reported int64
		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)),
			func(delta int64) { reported += delta }, nil)

		require.NoError(t, err)
		assert.Equal(t, OutcomeComplete, outcome)
		assert.Equal(t, int64(len(content)), reported)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("complete file short circuits with zero network IO", func(t *testing.T) {
		content := testContent(4 * 1024)
		server, requests := rangeServer(t, content)
		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		require.NoError(t, os.WriteFile(path, content, 0o644))

		fetcher := testFetcher()
		for range 2 {
			outcome, err := fetcher.Fetch(context.Background(), server.URL, path, int64(len(content)), nil, nil)
			require.NoError(t, err)
			assert.Equal(t, OutcomeComplete, outcome)
		}
		assert.Equal(t, int64(0), requests.Load())
	})

	t.Run("resumes partial file with range request", func(t *testing.T) {
		content := testContent(16 * 1024)
		var sawRange atomic.Value
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawRange.Store(r.Header.Get("Range"))
			http.ServeContent(w, r, "archive.tsv.gz", time.Time{}, bytes.NewReader(content))
		}))
		defer server.Close()

		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		require.NoError(t, os.WriteFile(path, content[:6000], 0o644))

		var reported int64
		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)),
			func(delta int64) { reported += delta }, nil)

		require.NoError(t, err)
		assert.Equal(t, OutcomeComplete, outcome)
		assert.Equal(t, "bytes=6000-", sawRange.Load())
		assert.Equal(t, int64(len(content)-6000), reported)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got, "resumed file must be byte-identical to a full download")
	})

	t.Run("restarts from zero when host ignores range", func(t *testing.T) {
		content := testContent(8 * 1024)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write(content)
		}))
		defer server.Close()

		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		// Wrong partial content: would corrupt the file if blindly appended.
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xFF}, 3000), 0o644))

		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)), nil, nil)

		require.NoError(t, err)
		assert.Equal(t, OutcomeComplete, outcome)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("oversized partial is truncated and refetched", func(t *testing.T) {
		content := testContent(4 * 1024)
		server, _ := rangeServer(t, content)
		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		require.NoError(t, os.WriteFile(path, testContent(9000), 0o644))

		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)), nil, nil)

		require.NoError(t, err)
		assert.Equal(t, OutcomeComplete, outcome)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("404 yields not found outcome", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, 1000, nil, nil)

		assert.Equal(t, OutcomeNotFound, outcome)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cancel stops promptly and keeps partial file", func(t *testing.T) {
		content := testContent(64 * 1024)
		server, _ := rangeServer(t, content)
		path := filepath.Join(t.TempDir(), "archive.tsv.gz")

		ctl := &Control{}
		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)),
			func(delta int64) { ctl.Cancel() }, ctl)

		require.NoError(t, err, "cancellation is a designed suspension point, not an error")
		assert.Equal(t, OutcomeCancelled, outcome)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
		assert.Less(t, info.Size(), int64(len(content)))
	})

	t.Run("pause then resume produces identical output", func(t *testing.T) {
		content := testContent(64 * 1024)
		server, _ := rangeServer(t, content)
		path := filepath.Join(t.TempDir(), "archive.tsv.gz")

		ctl := &Control{}
		fetcher := testFetcher()

		outcome, err := fetcher.Fetch(context.Background(), server.URL, path, int64(len(content)),
			func(delta int64) { ctl.Pause() }, ctl)
		require.NoError(t, err)
		assert.Equal(t, OutcomePaused, outcome)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Less(t, info.Size(), int64(len(content)))

		ctl.Resume()
		outcome, err = fetcher.Fetch(context.Background(), server.URL, path, int64(len(content)), nil, ctl)
		require.NoError(t, err)
		assert.Equal(t, OutcomeComplete, outcome)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got, "no bytes duplicated or dropped at the resume boundary")
	})

	t.Run("size mismatch preserves file and is not silently accepted", func(t *testing.T) {
		content := testContent(2 * 1024)
		server, _ := rangeServer(t, content)
		path := filepath.Join(t.TempDir(), "archive.tsv.gz")

		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content))+512, nil, nil)

		assert.Equal(t, OutcomeFailed, outcome)
		var fetchErr *Error
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, KindSizeMismatch, fetchErr.Kind)

		info, statErr := os.Stat(path)
		require.NoError(t, statErr, "partial file must be preserved for diagnosis")
		assert.Equal(t, int64(len(content)), info.Size())
	})

	t.Run("transient server failure is retried", func(t *testing.T) {
		content := testContent(4 * 1024)
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			http.ServeContent(w, r, "archive.tsv.gz", time.Time{}, bytes.NewReader(content))
		}))
		defer server.Close()

		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)), nil, nil)

		require.NoError(t, err)
		assert.Equal(t, OutcomeComplete, outcome)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("exhausted retry budget fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		path := filepath.Join(t.TempDir(), "archive.tsv.gz")
		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, 1000, nil, nil)

		assert.Equal(t, OutcomeFailed, outcome)
		assert.Error(t, err)
	})

	t.Run("disk error is fatal and not retried", func(t *testing.T) {
		content := testContent(1024)
		server, requests := rangeServer(t, content)

		dir := t.TempDir()
		path := filepath.Join(dir, "archive.tsv.gz")
		require.NoError(t, os.Mkdir(path, 0o755)) // a directory where the file should go

		outcome, err := testFetcher().Fetch(context.Background(), server.URL, path, int64(len(content)), nil, nil)

		assert.Equal(t, OutcomeFailed, outcome)
		var fetchErr *Error
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, KindDisk, fetchErr.Kind)
		assert.LessOrEqual(t, requests.Load(), int64(1))
	})
}

func TestControl(t *testing.T) {
	t.Run("cancel wins over pause", func(t *testing.T) {
		ctl := &Control{}
		ctl.Cancel()
		ctl.Pause()
		assert.Equal(t, SignalCancel, ctl.Signal())
	})

	t.Run("resume clears pause only", func(t *testing.T) {
		ctl := &Control{}
		ctl.Pause()
		ctl.Resume()
		assert.Equal(t, SignalNone, ctl.Signal())

		ctl.Cancel()
		ctl.Resume()
		assert.Equal(t, SignalCancel, ctl.Signal())
	})
}
