package plan_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apopov/chairdump/internal/plan"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBuild(t *testing.T) {
	t.Run("produces one unit per date per table", func(t *testing.T) {
		p, err := plan.Build(plan.Spec{
			From:      date("2024-01-01"),
			To:        date("2024-01-03"),
			Tables:    []string{"blocks", "transactions"},
			OutputDir: "/data",
		})
		require.NoError(t, err)
		assert.Len(t, p.Units, 6)
		assert.Equal(t, 3, p.Days())
	})

	t.Run("orders units by date then table", func(t *testing.T) {
		p, err := plan.Build(plan.Spec{
			From:      date("2024-01-01"),
			To:        date("2024-01-02"),
			Tables:    []string{"transactions", "blocks"},
			OutputDir: "/data",
		})
		require.NoError(t, err)

		keys := make([]string, 0, len(p.Units))
		for _, u := range p.Units {
			keys = append(keys, u.Key())
		}
		assert.Equal(t, []string{
			"blocks/2024-01-01",
			"transactions/2024-01-01",
			"blocks/2024-01-02",
			"transactions/2024-01-02",
		}, keys)
	})

	t.Run("single table three day scenario", func(t *testing.T) {
		p, err := plan.Build(plan.Spec{
			From:      date("2024-01-01"),
			To:        date("2024-01-03"),
			Tables:    []string{"blocks"},
			OutputDir: "/data",
		})
		require.NoError(t, err)
		require.Len(t, p.Units, 3)

		u := p.Units[0]
		assert.Equal(t, "https://gz.blockchair.com/bitcoin/blocks/blockchair_bitcoin_blocks_2024-01-01.tsv.gz", u.URL)
		assert.Equal(t, filepath.Join("/data", "raw", "blocks", "blockchair_bitcoin_blocks_2024-01-01.tsv.gz"), u.ArchivePath)
		assert.Equal(t, filepath.Join("/data", "extracted", "blocks", "blockchair_bitcoin_blocks_2024-01-01.tsv"), u.OutputPath)
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		_, err := plan.Build(plan.Spec{
			From:      date("2024-01-05"),
			To:        date("2024-01-01"),
			Tables:    []string{"blocks"},
			OutputDir: "/data",
		})
		assert.ErrorIs(t, err, plan.ErrInvalidRange)
	})

	t.Run("rejects empty selection", func(t *testing.T) {
		_, err := plan.Build(plan.Spec{
			From:      date("2024-01-01"),
			To:        date("2024-01-02"),
			Tables:    nil,
			OutputDir: "/data",
		})
		assert.ErrorIs(t, err, plan.ErrEmptySelection)
	})

	t.Run("rejects unknown table", func(t *testing.T) {
		_, err := plan.Build(plan.Spec{
			From:      date("2024-01-01"),
			To:        date("2024-01-02"),
			Tables:    []string{"inputs"},
			OutputDir: "/data",
		})
		assert.ErrorIs(t, err, plan.ErrUnknownTable)
	})

	t.Run("rejects missing output dir", func(t *testing.T) {
		_, err := plan.Build(plan.Spec{
			From:   date("2024-01-01"),
			To:     date("2024-01-02"),
			Tables: []string{"blocks"},
		})
		assert.ErrorIs(t, err, plan.ErrNoOutputDir)
	})

	t.Run("deduplicates and sorts tables", func(t *testing.T) {
		p, err := plan.Build(plan.Spec{
			From:      date("2024-01-01"),
			To:        date("2024-01-01"),
			Tables:    []string{"outputs", "blocks", "OUTPUTS "},
			OutputDir: "/data",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"blocks", "outputs"}, p.Tables)
	})

	t.Run("one day range produces one unit per table", func(t *testing.T) {
		p, err := plan.Build(plan.Spec{
			From:      date("2024-06-15"),
			To:        date("2024-06-15"),
			Tables:    []string{"blocks", "outputs", "transactions"},
			OutputDir: "/data",
		})
		require.NoError(t, err)
		assert.Len(t, p.Units, 3)
	})
}

func TestPlanID(t *testing.T) {
	build := func(from, to string, tables []string, dir string) *plan.Plan {
		p, err := plan.Build(plan.Spec{From: date(from), To: date(to), Tables: tables, OutputDir: dir})
		require.NoError(t, err)
		return p
	}

	t.Run("identical config produces identical identity", func(t *testing.T) {
		a := build("2024-01-01", "2024-01-03", []string{"blocks"}, "/data")
		b := build("2024-01-01", "2024-01-03", []string{"blocks"}, "/data")
		assert.Equal(t, a.ID(), b.ID())
	})

	t.Run("different config produces different identity", func(t *testing.T) {
		a := build("2024-01-01", "2024-01-03", []string{"blocks"}, "/data")

		assert.NotEqual(t, a.ID(), build("2024-01-01", "2024-01-04", []string{"blocks"}, "/data").ID())
		assert.NotEqual(t, a.ID(), build("2024-01-01", "2024-01-03", []string{"outputs"}, "/data").ID())
		assert.NotEqual(t, a.ID(), build("2024-01-01", "2024-01-03", []string{"blocks"}, "/other").ID())
	})

	t.Run("table order does not change identity", func(t *testing.T) {
		a := build("2024-01-01", "2024-01-03", []string{"blocks", "outputs"}, "/data")
		b := build("2024-01-01", "2024-01-03", []string{"outputs", "blocks"}, "/data")
		assert.Equal(t, a.ID(), b.ID())
	})
}
