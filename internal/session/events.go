package session

import "time"

type EventKind string

const (
	EventFileStarted      EventKind = "file_started"
	EventFileDownloaded   EventKind = "file_downloaded"
	EventFileExtracted    EventKind = "file_extracted"
	EventFileRemoved      EventKind = "file_removed"
	EventUnitSkipped      EventKind = "unit_skipped"
	EventUnitFailed       EventKind = "unit_failed"
	EventSessionPaused    EventKind = "session_paused"
	EventSessionResumed   EventKind = "session_resumed"
	EventSessionCompleted EventKind = "session_completed"
	EventSessionCancelled EventKind = "session_cancelled"
	EventSessionFailed    EventKind = "session_failed"
)

// Event is a discrete, log-worthy occurrence delivered to the progress
// subscriber. Unit is empty for session-level events.
type Event struct {
	Timestamp time.Time
	Kind      EventKind
	Unit      string
	Message   string
	Err       error
}
