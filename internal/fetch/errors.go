package fetch

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the remote host reports 404 for a unit. The
// host publishes archives with a delay, so a missing (table, date) file is a
// reportable condition, not a transport failure.
var ErrNotFound = errors.New("remote file not found")

type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindHTTP
	KindDisk
	KindSizeMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindDisk:
		return "disk"
	case KindSizeMismatch:
		return "size mismatch"
	default:
		return "unknown"
	}
}

// Error carries enough detail about a failed transfer for the caller to
// decide between retrying, resuming and giving up.
type Error struct {
	Kind      ErrorKind
	Operation string
	URL       string
	Status    int
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("HTTP error during %s for %s: status %d: %v", e.Operation, e.URL, e.Status, e.Err)
	case KindDisk:
		return fmt.Sprintf("disk error during %s for %s: %v", e.Operation, e.URL, e.Err)
	case KindSizeMismatch:
		return fmt.Sprintf("size mismatch during %s for %s: %v", e.Operation, e.URL, e.Err)
	default:
		return fmt.Sprintf("network error during %s for %s: %v", e.Operation, e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is worth another attempt. Disk and
// size-mismatch errors are almost always still true on the next attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || (e.Kind == KindHTTP && e.Status >= 500)
}

func newNetworkError(op, url string, err error) *Error {
	return &Error{Kind: KindNetwork, Operation: op, URL: url, Err: err}
}

func newStatusError(op, url string, status int, err error) *Error {
	return &Error{Kind: KindHTTP, Operation: op, URL: url, Status: status, Err: err}
}

func newDiskError(op, url string, err error) *Error {
	return &Error{Kind: KindDisk, Operation: op, URL: url, Err: err}
}
