package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidRange is returned when the start date is after the end date.
	ErrInvalidRange = errors.New("start date is after end date")

	// ErrEmptySelection is returned when no tables are selected.
	ErrEmptySelection = errors.New("no tables selected")

	// ErrUnknownTable is returned for a table name the host does not publish.
	ErrUnknownTable = errors.New("unknown table")

	// ErrNoOutputDir is returned when the output directory is empty.
	ErrNoOutputDir = errors.New("output directory not set")
)

// DefaultBaseURL is the public host serving the daily dump archives.
const DefaultBaseURL = "https://gz.blockchair.com/bitcoin"

// KnownTables lists the table names published by the host.
var KnownTables = []string{"blocks", "outputs", "transactions"}

const dateLayout = "2006-01-02"

// Unit is the smallest schedulable item: one (table, date) archive.
// Units are immutable once the plan is built.
type Unit struct {
	Table        string
	Date         time.Time
	URL          string
	ArchivePath  string
	OutputPath   string
	ExpectedSize int64 // 0 until estimated
}

// Key returns the persistent identity of the unit within its plan.
func (u Unit) Key() string {
	return u.Table + "/" + u.Date.Format(dateLayout)
}

// ArchiveName returns the remote file name for the unit.
func (u Unit) ArchiveName() string {
	return fmt.Sprintf("blockchair_bitcoin_%s_%s.tsv.gz", u.Table, u.Date.Format(dateLayout))
}

func (u Unit) String() string {
	return u.Key()
}

// Spec describes the user configuration a plan is derived from.
type Spec struct {
	From      time.Time
	To        time.Time
	Tables    []string
	OutputDir string
	BaseURL   string // DefaultBaseURL when empty
}

// Plan is an immutable, ordered sequence of units covering every date in the
// inclusive [From, To] range for every selected table.
type Plan struct {
	From      time.Time
	To        time.Time
	Tables    []string
	OutputDir string
	BaseURL   string
	Units     []Unit

	id string
}

// Build derives a plan from the given spec. It performs no I/O and is
// deterministic: identical specs produce identical unit ordering and identity.
func Build(spec Spec) (*Plan, error) {
	if spec.OutputDir == "" {
		return nil, ErrNoOutputDir
	}

	from := truncateToDay(spec.From)
	to := truncateToDay(spec.To)
	if from.After(to) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(dateLayout), to.Format(dateLayout))
	}

	tables, err := normalizeTables(spec.Tables)
	if err != nil {
		return nil, err
	}

	baseURL := spec.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	p := &Plan{
		From:      from,
		To:        to,
		Tables:    tables,
		OutputDir: spec.OutputDir,
		BaseURL:   baseURL,
	}

	// Ordered by (date, table): tables are already sorted, dates ascend.
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		for _, table := range tables {
			unit := Unit{
				Table: table,
				Date:  date,
			}
			unit.URL = fmt.Sprintf("%s/%s/%s", baseURL, table, unit.ArchiveName())
			unit.ArchivePath = filepath.Join(spec.OutputDir, "raw", table, unit.ArchiveName())
			unit.OutputPath = filepath.Join(spec.OutputDir, "extracted", table, strings.TrimSuffix(unit.ArchiveName(), ".gz"))
			p.Units = append(p.Units, unit)
		}
	}

	p.id = computeID(from, to, tables, spec.OutputDir)

	return p, nil
}

// ID returns the durable identity of the plan, derived from the date range,
// table selection and output directory. Plans with different configuration
// never share an identity.
func (p *Plan) ID() string {
	return p.id
}

// Days returns the number of calendar days the plan covers.
func (p *Plan) Days() int {
	return int(p.To.Sub(p.From).Hours()/24) + 1
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeTables(tables []string) ([]string, error) {
	if len(tables) == 0 {
		return nil, ErrEmptySelection
	}

	seen := make(map[string]bool, len(tables))
	normalized := make([]string, 0, len(tables))
	for _, table := range tables {
		table = strings.ToLower(strings.TrimSpace(table))
		if table == "" {
			continue
		}
		if !isKnownTable(table) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
		}
		if seen[table] {
			continue
		}
		seen[table] = true
		normalized = append(normalized, table)
	}

	if len(normalized) == 0 {
		return nil, ErrEmptySelection
	}
	sort.Strings(normalized)

	return normalized, nil
}

func isKnownTable(table string) bool {
	for _, known := range KnownTables {
		if table == known {
			return true
		}
	}
	return false
}

func computeID(from, to time.Time, tables []string, outputDir string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", from.Format(dateLayout), to.Format(dateLayout), strings.Join(tables, ","), outputDir)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
