package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/hostadm/hostadm/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// HistoryStore persists run reports to SQLite so successive reconciliation
// runs on a host can be audited.
type HistoryStore struct {
	db   *sql.DB
	path string
}

// RunRecord is one persisted run, without its entries.
type RunRecord struct {
	// RunID is the run's UUID.
	RunID string `json:"run_id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Changed reports whether any resource changed.
	Changed bool `json:"changed"`

	// Failed reports whether the run had failed or blocked entries.
	Failed bool `json:"failed"`

	// Resources is the number of report entries.
	Resources int `json:"resources"`
}

// NewHistoryStore creates a store for the given database path. Open must be
// called before use.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}
	return &HistoryStore{path: path}, nil
}

// Open opens the database in WAL mode and runs pending migrations.
func (s *HistoryStore) Open(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *HistoryStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SaveReport persists a run report with its entries in one transaction.
// Entry ordering is preserved through an explicit sequence column.
func (s *HistoryStore) SaveReport(ctx context.Context, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, completed_at, changed, failed, resources)
		VALUES (?, ?, ?, ?, ?, ?)`,
		report.RunID,
		report.StartedAt.UTC(),
		report.CompletedAt.UTC(),
		report.Changed(),
		report.Failed(),
		len(report.Entries),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	for i, entry := range report.Entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_entries (run_id, seq, resource_id, kind, outcome, message, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.RunID,
			i,
			entry.ID,
			string(entry.Kind),
			string(entry.Outcome),
			entry.Message,
			entry.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert entry %s of run %s: %w", entry.ID, report.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", report.RunID, err)
	}
	return nil
}

// GetReport loads one run report, entries in their original order.
func (s *HistoryStore) GetReport(ctx context.Context, runID string) (*engine.RunReport, error) {
	report := &engine.RunReport{RunID: runID}
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, completed_at FROM runs WHERE run_id = ?`, runID).
		Scan(&report.StartedAt, &report.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, kind, outcome, message, duration_ms
		FROM run_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("get entries of run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry engine.ReportEntry
		var kind, outcome string
		var durationMS int64
		if err := rows.Scan(&entry.ID, &kind, &outcome, &entry.Message, &durationMS); err != nil {
			return nil, fmt.Errorf("scan entry of run %s: %w", runID, err)
		}
		entry.Kind = engine.Kind(kind)
		entry.Outcome = engine.Outcome(outcome)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		report.Entries = append(report.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries of run %s: %w", runID, err)
	}

	report.Finalize()
	return report, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, completed_at, changed, failed, resources
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.CompletedAt, &r.Changed, &r.Failed, &r.Resources); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
