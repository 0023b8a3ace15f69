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

	"github.com/monoforge/monoforge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// HistoryStore implements run history persistence and the scheduler's
// fingerprint store on SQLite.
type HistoryStore struct {
	db   *sql.DB
	path string
}

// NewHistoryStore creates a store instance for the database at path. Init
// must be called before use.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &HistoryStore{path: path}, nil
}

// Init opens the database, enables WAL mode and runs migrations.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
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
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveReport persists a finished run and its per-task outcomes.
func (s *HistoryStore) SaveReport(ctx context.Context, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok := 0
	if report.OK() {
		ok = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, duration_ms, total, succeeded, cached, failed, skipped, ok)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.StartedAt.UTC(), report.Duration.Milliseconds(),
		report.Total, report.Succeeded, report.Cached, report.Failed, report.Skipped, ok)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i := range report.Tasks {
		task := &report.Tasks[i]
		errMsg := sql.NullString{}
		if task.Error != nil {
			errMsg = sql.NullString{String: task.Error.Error(), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (run_id, project, state, duration_ms, error)
			VALUES (?, ?, ?, ?, ?)`,
			report.RunID, task.Project, string(task.State), task.Duration.Milliseconds(), errMsg)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.Project, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, total, succeeded, cached, failed, skipped, ok
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0, limit)
	for rows.Next() {
		var r RunRecord
		var durationMS int64
		var ok int
		if err := rows.Scan(&r.ID, &r.StartedAt, &durationMS, &r.Total,
			&r.Succeeded, &r.Cached, &r.Failed, &r.Skipped, &ok); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.OK = ok != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastFingerprint returns the stored build fingerprint for a project, or
// empty when the project has never built successfully. Implements
// engine.FingerprintStore.
func (s *HistoryStore) LastFingerprint(ctx context.Context, project string) (string, error) {
	var fingerprint string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM fingerprints WHERE project = ?`, project).Scan(&fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query fingerprint for %s: %w", project, err)
	}
	return fingerprint, nil
}

// SaveFingerprint records the fingerprint of a successful build. Implements
// engine.FingerprintStore.
func (s *HistoryStore) SaveFingerprint(ctx context.Context, project, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (project, fingerprint, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(project) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			updated_at  = CURRENT_TIMESTAMP`,
		project, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to save fingerprint for %s: %w", project, err)
	}
	return nil
}

// ClearFingerprints drops every stored fingerprint, forcing the next build
// of each project to run.
func (s *HistoryStore) ClearFingerprints(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints`); err != nil {
		return fmt.Errorf("failed to clear fingerprints: %w", err)
	}
	return nil
}
