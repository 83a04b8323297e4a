package state_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/chairdump/internal/state"
)

func newTestRepository(t *testing.T) (*state.Repository, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), state.DBFileName)
	repo, err := state.NewRepository(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, dbPath
}

func TestRepository(t *testing.T) {
	t.Run("save and find round-trip", func(t *testing.T) {
		repo, _ := newTestRepository(t)

		s := state.NewSessionState("plan-a", true)
		s.SetUnit("blocks/2024-01-01", state.UnitRecord{Status: state.UnitCleanedUp})
		s.SetUnit("blocks/2024-01-02", state.UnitRecord{Status: state.UnitDownloading, BytesDownloaded: 4096})
		require.NoError(t, repo.Save(s))

		found, err := repo.Find("plan-a")
		require.NoError(t, err)
		assert.Equal(t, "plan-a", found.PlanID)
		assert.True(t, found.RemoveArchives)
		assert.Equal(t, state.UnitCleanedUp, found.Unit("blocks/2024-01-01").Status)
		assert.Equal(t, int64(4096), found.Unit("blocks/2024-01-02").BytesDownloaded)
		assert.False(t, found.UpdatedAt.IsZero())
	})

	t.Run("untouched unit defaults to pending", func(t *testing.T) {
		s := state.NewSessionState("plan-a", false)
		assert.Equal(t, state.UnitPending, s.Unit("outputs/2024-06-01").Status)
	})

	t.Run("find unknown plan", func(t *testing.T) {
		repo, _ := newTestRepository(t)
		_, err := repo.Find("missing")
		assert.ErrorIs(t, err, state.ErrNotFound)
	})

	t.Run("different plan identities do not share state", func(t *testing.T) {
		repo, _ := newTestRepository(t)

		a := state.NewSessionState("plan-a", false)
		a.SetUnit("blocks/2024-01-01", state.UnitRecord{Status: state.UnitExtracted})
		require.NoError(t, repo.Save(a))

		b := state.NewSessionState("plan-b", false)
		require.NoError(t, repo.Save(b))

		found, err := repo.Find("plan-b")
		require.NoError(t, err)
		assert.Equal(t, state.UnitPending, found.Unit("blocks/2024-01-01").Status)
	})

	t.Run("delete discards state", func(t *testing.T) {
		repo, _ := newTestRepository(t)

		s := state.NewSessionState("plan-a", false)
		require.NoError(t, repo.Save(s))
		require.NoError(t, repo.Delete("plan-a"))

		_, err := repo.Find("plan-a")
		assert.ErrorIs(t, err, state.ErrNotFound)
	})

	t.Run("second open of a held database reports lock", func(t *testing.T) {
		_, dbPath := newTestRepository(t)

		_, err := state.NewRepository(dbPath)
		assert.ErrorIs(t, err, state.ErrLocked)
	})

	t.Run("state survives reopen", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), state.DBFileName)

		repo, err := state.NewRepository(dbPath)
		require.NoError(t, err)
		s := state.NewSessionState("plan-a", true)
		s.SetUnit("blocks/2024-01-01", state.UnitRecord{Status: state.UnitExtracted})
		require.NoError(t, repo.Save(s))
		require.NoError(t, repo.Close())

		repo, err = state.NewRepository(dbPath)
		require.NoError(t, err)
		defer repo.Close()

		found, err := repo.Find("plan-a")
		require.NoError(t, err)
		assert.Equal(t, state.UnitExtracted, found.Unit("blocks/2024-01-01").Status)
	})
}

func TestCountByStatus(t *testing.T) {
	s := state.NewSessionState("plan-a", false)
	s.SetUnit("blocks/2024-01-01", state.UnitRecord{Status: state.UnitCleanedUp})
	s.SetUnit("blocks/2024-01-02", state.UnitRecord{Status: state.UnitCleanedUp})
	s.SetUnit("blocks/2024-01-03", state.UnitRecord{Status: state.UnitSkipped})

	counts := s.CountByStatus()
	assert.Equal(t, 2, counts[state.UnitCleanedUp])
	assert.Equal(t, 1, counts[state.UnitSkipped])
	assert.Zero(t, counts[state.UnitFailed])
}
