package migration

import (
	"context"
	"fmt"

	"sigfit/internal"
	"sigfit/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles the fit ledger schema
type MigrationRunner struct {
	version string
	logger  *internal.Logger
}

// NewRunner creates a new migration runner
func NewRunner(logger *internal.Logger) *MigrationRunner {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &MigrationRunner{
		version: "1.0.0",
		logger:  logger,
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in order. Every statement is idempotent.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createFitRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create fit_runs table")
	}

	if err := r.createFitRunParametersTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create fit_run_parameters table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	r.logger.Info("schema version %s is up to date", r.version)
	return nil
}

// dialect holds the column types that differ between Postgres and SQLite.
type dialect struct {
	timestamp string
	json      string
	now       string
}

func dialectFor(db *sqlx.DB) dialect {
	if db.DriverName() == "sqlite3" {
		return dialect{timestamp: "TIMESTAMP", json: "BLOB", now: "CURRENT_TIMESTAMP"}
	}
	return dialect{timestamp: "TIMESTAMP WITH TIME ZONE", json: "JSONB", now: "NOW()"}
}

func (r *MigrationRunner) createFitRunsTable(ctx context.Context, db *sqlx.DB) error {
	d := dialectFor(db)
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS fit_runs (
			run_id VARCHAR(64) PRIMARY KEY,
			poi VARCHAR(100) NOT NULL,
			variable VARCHAR(100) NOT NULL,
			best_fit DOUBLE PRECISION NOT NULL,
			error_up DOUBLE PRECISION NOT NULL,
			error_down DOUBLE PRECISION NOT NULL,
			lower_open BOOLEAN NOT NULL DEFAULT false,
			upper_open BOOLEAN NOT NULL DEFAULT false,
			confidence_level DOUBLE PRECISION NOT NULL,
			input_fingerprint CHAR(64) NOT NULL,
			label TEXT NOT NULL,
			status VARCHAR(100),
			min_nll DOUBLE PRECISION,
			evaluations INTEGER DEFAULT 0,
			scan %[2]s,
			correlation %[2]s,
			created_at %[1]s DEFAULT (%[3]s)
		)
	`, d.timestamp, d.json, d.now))
	return err
}

func (r *MigrationRunner) createFitRunParametersTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fit_run_parameters (
			run_id VARCHAR(64) NOT NULL REFERENCES fit_runs(run_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			name VARCHAR(200) NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			error DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			is_constant BOOLEAN NOT NULL DEFAULT false,
			at_limit BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (run_id, name)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_fit_runs_created_at ON fit_runs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_fit_runs_fingerprint ON fit_runs(input_fingerprint)",
		"CREATE INDEX IF NOT EXISTS idx_fit_runs_poi_variable ON fit_runs(poi, variable)",
		"CREATE INDEX IF NOT EXISTS idx_fit_run_parameters_name ON fit_run_parameters(name)",
	}

	for _, index := range indexes {
		r.logger.Debug("running %s", index)
		if _, err := db.ExecContext(ctx, index); err != nil {
			return err
		}
	}

	return nil
}
