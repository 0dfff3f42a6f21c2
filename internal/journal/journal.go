// Package journal keeps a SQLite history of orchestrator invocations for
// `mend history`. Nothing reads it back to make decisions.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Outcomes recorded for a run.
const (
	OutcomeRunning   = "running"
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomeNoOp      = "no-op"
	OutcomeIdle      = "idle"
	OutcomeDone      = "done"
	OutcomeError     = "error"
)

// Run is one orchestrator invocation.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Phase      string     `json:"phase"`
	ItemID     string     `json:"item_id,omitempty"`
	Outcome    string     `json:"outcome"`
	Changed    bool       `json:"changed"`
	Detail     string     `json:"detail,omitempty"`
}

// Journal is the run history database.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return open(path, path)
}

// OpenInMemory opens an isolated in-memory journal for tests.
func OpenInMemory() (*Journal, error) {
	return open(":memory:", ":memory:")
}

func open(dsn, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases from splitting per
	// connection, and mend is the only writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := j.db.QueryContext(ctx, "SELECT version FROM _migrations")
	if err != nil {
		return fmt.Errorf("query migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations: %w", err)
	}

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "journal_") && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := migrationVersion(name)
		if applied[version] {
			continue
		}
		content, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// migrationVersion turns "journal_001.sql" into 1.
func migrationVersion(name string) int {
	s := strings.TrimSuffix(strings.TrimPrefix(name, "journal_"), ".sql")
	var v int
	_, _ = fmt.Sscanf(s, "%d", &v)
	return v
}

// Start records the beginning of a run.
func (j *Journal) Start(ctx context.Context, id, phase string, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, phase, outcome) VALUES (?, ?, ?, ?)`,
		id, formatTime(at), phase, OutcomeRunning)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// Finish records how a run ended. Finishing an unknown id inserts it.
func (j *Journal) Finish(ctx context.Context, r Run) error {
	finished := time.Now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	started := r.StartedAt
	if started.IsZero() {
		started = finished
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, phase, item_id, outcome, changed, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			phase = excluded.phase,
			item_id = excluded.item_id,
			outcome = excluded.outcome,
			changed = excluded.changed,
			detail = excluded.detail`,
		r.ID, formatTime(started), formatTime(finished), r.Phase, r.ItemID, r.Outcome, boolToInt(r.Changed), r.Detail)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, phase, item_id, outcome, changed, detail
		FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
			changed  int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Phase, &r.ItemID, &r.Outcome, &changed, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid && finished.String != "" {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		r.Changed = changed != 0
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Count returns the number of recorded runs.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
