package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status is the outcome of a run.
type Status string

const (
	// StatusRunning marks a run that has not finished yet.
	StatusRunning Status = "running"
	// StatusCommitted marks a run whose changes were kept.
	StatusCommitted Status = "committed"
	// StatusRolledBack marks a run whose changes were undone.
	StatusRolledBack Status = "rolled_back"
)

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrRunNotFound is returned when no run has the requested ID.
	ErrRunNotFound = errors.New("run not found")

	errEmptyPath = errors.New("history database path is required")
)

// ActionRecord is one planned action of a run.
type ActionRecord struct {
	Kind     string
	Package  string
	Version  string
	IsUpdate bool
}

// Run is a recorded deployment run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	Error      string
	Installed  int
	Deleted    int
	Actions    []ActionRecord
}

// Store persists runs in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errEmptyPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history folder: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// One writer at a time keeps SQLite free of lock errors.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new running run with its planned actions and returns its ID.
func (s *Store) StartRun(ctx context.Context, actions []ActionRecord) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, formatTime(time.Now()), string(StatusRunning))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, a := range actions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_actions (run_id, seq, kind, package, version, is_update) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, a.Kind, a.Package, a.Version, a.IsUpdate)
		if err != nil {
			return "", fmt.Errorf("insert run action: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	return id, nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status Status, installed, deleted int, runErr error) error {
	var message string
	if runErr != nil {
		message = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ?, installed = ?, deleted = ? WHERE id = ?`,
		formatTime(time.Now()), string(status), message, installed, deleted, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}

	return nil
}

// Run returns the run with its actions.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, error, installed, deleted FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}

	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, package, version, is_update FROM run_actions WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query run actions: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var a ActionRecord
		if err = rows.Scan(&a.Kind, &a.Package, &a.Version, &a.IsUpdate); err != nil {
			return nil, fmt.Errorf("scan run action: %w", err)
		}

		run.Actions = append(run.Actions, a)
	}

	return run, rows.Err()
}

// Runs returns the most recent runs first, without their actions.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, error, installed, deleted
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var runs []*Run

	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
		status     string
	)

	err := row.Scan(&run.ID, &startedAt, &finishedAt, &status, &run.Error, &run.Installed, &run.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = Status(status)

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		if run.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return nil, err
		}
	}

	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}

	return t, nil
}
