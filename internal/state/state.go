// Package state persists per-unit download progress so an interrupted run
// can resume exactly where it left off.
package state

import "time"

// UnitStatus is the durable per-unit lifecycle. Transitions move forward
// only, except Failed which may return to Downloading on a later run.
type UnitStatus string

const (
	UnitPending     UnitStatus = "pending"
	UnitDownloading UnitStatus = "downloading"
	UnitDownloaded  UnitStatus = "downloaded"
	UnitExtracting  UnitStatus = "extracting"
	UnitExtracted   UnitStatus = "extracted"
	UnitCleanedUp   UnitStatus = "cleaned_up"
	UnitFailed      UnitStatus = "failed"
	UnitSkipped     UnitStatus = "skipped"
)

// UnitRecord is what the session remembers about one (table, date) unit.
type UnitRecord struct {
	Status          UnitStatus `json:"status"`
	BytesDownloaded int64      `json:"bytes_downloaded,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// SessionState is the durable record for one plan identity. It is created on
// the first run, merged on every resume, and deleted only by an explicit
// reset.
type SessionState struct {
	PlanID         string                `json:"plan_id"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	RemoveArchives bool                  `json:"remove_archives"`
	Units          map[string]UnitRecord `json:"units"`
}

func NewSessionState(planID string, removeArchives bool) *SessionState {
	return &SessionState{
		PlanID:         planID,
		CreatedAt:      time.Now().UTC(),
		RemoveArchives: removeArchives,
		Units:          make(map[string]UnitRecord),
	}
}

// Unit returns the record for a unit key, defaulting to Pending for units
// never touched. Records are created lazily as units are first processed.
func (s *SessionState) Unit(key string) UnitRecord {
	if rec, ok := s.Units[key]; ok {
		return rec
	}
	return UnitRecord{Status: UnitPending}
}

// SetUnit replaces the record for a unit key.
func (s *SessionState) SetUnit(key string, rec UnitRecord) {
	if s.Units == nil {
		s.Units = make(map[string]UnitRecord)
	}
	s.Units[key] = rec
}

// CountByStatus tallies the persisted unit records.
func (s *SessionState) CountByStatus() map[UnitStatus]int {
	counts := make(map[UnitStatus]int)
	for _, rec := range s.Units {
		counts[rec.Status]++
	}
	return counts
}
