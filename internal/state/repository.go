package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

const sessionsBucket = "sessions"

// DBFileName is the state database created inside each output directory.
const DBFileName = ".chairdump.db"

var (
	// ErrNotFound is returned when no state exists for a plan identity.
	ErrNotFound = errors.New("session state not found")

	// ErrLocked is returned when another session already holds the state
	// database for this output directory. At most one session may be active
	// per output directory.
	ErrLocked = errors.New("state database is locked by another session")
)

// Repository stores session states in a BoltDB file, keyed by plan identity.
// Bolt's exclusive file lock is the advisory single-writer lock that keeps
// two sessions from corrupting the same partial files.
type Repository struct {
	db *bolt.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dbPath)
		}
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return &Repository{db: db}, nil
}

// Save persists a session state, stamping UpdatedAt.
func (r *Repository) Save(s *SessionState) error {
	s.UpdatedAt = time.Now().UTC()

	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal session state: %w", err)
		}

		if err := bucket.Put([]byte(s.PlanID), data); err != nil {
			return fmt.Errorf("failed to save session state: %w", err)
		}

		return nil
	})
}

// Find retrieves the state for a plan identity.
func (r *Repository) Find(planID string) (*SessionState, error) {
	var s *SessionState

	err := r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		data := bucket.Get([]byte(planID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, planID)
		}

		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Delete discards the state for a plan identity. This is the explicit reset
// path; completed or cancelled sessions never delete their own state.
func (r *Repository) Delete(planID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", sessionsBucket)
		}

		return bucket.Delete([]byte(planID))
	})
}

// Close releases the database and its file lock.
func (r *Repository) Close() error {
	return r.db.Close()
}
