// Package db provides structured access and database migrations for the SQLite report history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tracecov/internal/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
	path string
}

// Run is one stored report summary.
type Run struct {
	ID          string         `json:"id"`
	TestRunID   string         `json:"test_run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	OutputPath  string         `json:"output_path"`
	Summary     models.Summary `json:"summary"`
}

// MethodCalls is the stored call count of one method in a run.
type MethodCalls struct {
	Service   string `json:"service"`
	Method    string `json:"method"`
	Covered   bool   `json:"covered"`
	CallCount int    `json:"call_count"`
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:   db,
		path: dbPath,
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS coverage_runs (
			id TEXT PRIMARY KEY,
			test_run_id TEXT NOT NULL,
			generated_at DATETIME NOT NULL,
			window_start DATETIME NOT NULL,
			window_end DATETIME NOT NULL,
			output_path TEXT,
			total_services INTEGER NOT NULL,
			covered_services INTEGER NOT NULL,
			service_coverage REAL NOT NULL,
			total_methods INTEGER NOT NULL,
			covered_methods INTEGER NOT NULL,
			method_coverage REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS coverage_methods (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			service_name TEXT NOT NULL,
			method_name TEXT NOT NULL,
			covered INTEGER NOT NULL,
			call_count INTEGER NOT NULL,
			FOREIGN KEY (run_id) REFERENCES coverage_runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_generated ON coverage_runs(generated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_test_run ON coverage_runs(test_run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_methods_run ON coverage_methods(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// InsertRun stores a report and its per-method call counts in one
// transaction and returns the generated run ID.
func (db *DB) InsertRun(ctx context.Context, r *models.Report, outputPath string) (string, error) {
	id := uuid.New().String()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s := r.Summary
	_, err = tx.ExecContext(ctx, `INSERT INTO coverage_runs (
			id, test_run_id, generated_at, window_start, window_end, output_path,
			total_services, covered_services, service_coverage,
			total_methods, covered_methods, method_coverage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.TestRunID, r.Timestamp.Time, r.TimeRange.Start.Time, r.TimeRange.End.Time, outputPath,
		s.TotalServices, s.CoveredServices, s.ServiceCoveragePercentage,
		s.TotalMethods, s.CoveredMethods, s.MethodCoveragePercentage,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO coverage_methods
		(run_id, service_name, method_name, covered, call_count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare method insert: %w", err)
	}
	defer stmt.Close()

	for service, svc := range r.Services {
		for method, m := range svc.Methods {
			if _, err := stmt.ExecContext(ctx, id, service, method, m.Covered, m.CallCount); err != nil {
				return "", fmt.Errorf("failed to insert method %s/%s: %w", service, method, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

const runColumns = `id, test_run_id, generated_at, window_start, window_end, output_path,
	total_services, covered_services, service_coverage,
	total_methods, covered_methods, method_coverage`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run        Run
		outputPath sql.NullString
	)
	err := row.Scan(
		&run.ID, &run.TestRunID, &run.GeneratedAt, &run.WindowStart, &run.WindowEnd, &outputPath,
		&run.Summary.TotalServices, &run.Summary.CoveredServices, &run.Summary.ServiceCoveragePercentage,
		&run.Summary.TotalMethods, &run.Summary.CoveredMethods, &run.Summary.MethodCoveragePercentage,
	)
	run.OutputPath = outputPath.String
	run.GeneratedAt = run.GeneratedAt.UTC()
	run.WindowStart = run.WindowStart.UTC()
	run.WindowEnd = run.WindowEnd.UTC()
	return run, err
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM coverage_runs ORDER BY generated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a single run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM coverage_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

// RunMethods returns the stored methods of a run ordered by service and method.
func (db *DB) RunMethods(ctx context.Context, id string) ([]MethodCalls, error) {
	rows, err := db.QueryContext(ctx, `SELECT service_name, method_name, covered, call_count
		FROM coverage_methods WHERE run_id = ? ORDER BY service_name, method_name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query methods: %w", err)
	}
	defer rows.Close()

	methods := []MethodCalls{}
	for rows.Next() {
		var m MethodCalls
		if err := rows.Scan(&m.Service, &m.Method, &m.Covered, &m.CallCount); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
