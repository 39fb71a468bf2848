package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sigfit/domain/core"
	"sigfit/domain/result"
	"sigfit/internal/errors"
	"sigfit/ports"

	"github.com/jmoiron/sqlx"
)

// fitRunRepository implements the ResultRepository interface. Queries are
// written with ? placeholders and rebound for the connected driver, so the
// same code serves Postgres and the SQLite development database.
type fitRunRepository struct {
	db *sqlx.DB
}

// NewFitRunRepository creates a new fit run ledger
func NewFitRunRepository(db *sqlx.DB) ports.ResultRepository {
	return &fitRunRepository{db: db}
}

const fitRunColumns = `run_id, poi, variable, best_fit, error_up, error_down, lower_open, upper_open,
	confidence_level, input_fingerprint, label, created_at`

// SaveRun appends one run with its fitted parameters. Rows are never updated;
// saving a run ID twice fails on the primary key.
func (r *fitRunRepository) SaveRun(ctx context.Context, record ports.FitRunRecord, res *result.FitResult) error {
	scanJSON, err := json.Marshal(res.Scan)
	if err != nil {
		return fmt.Errorf("failed to marshal scan: %w", err)
	}
	correlationJSON, err := json.Marshal(res.Correlation)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO fit_runs (` + fitRunColumns + `, status, min_nll, evaluations, scan, correlation)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, query,
		record.RunID, record.POI, record.Variable, record.BestFit, record.ErrorUp, record.ErrorDown,
		record.LowerOpen, record.UpperOpen, record.ConfidenceLevel, record.InputFingerprint, record.Label,
		record.CreatedAt, res.Status, res.MinNLL, res.Evaluations, scanJSON, correlationJSON,
	)
	if err != nil {
		return errors.DatabaseError("failed to insert fit run", err)
	}

	paramQuery := tx.Rebind(`INSERT INTO fit_run_parameters (
		run_id, position, name, value, error, low, high, is_constant, at_limit
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, p := range res.Parameters {
		_, err = tx.ExecContext(ctx, paramQuery,
			record.RunID, i, p.Name, p.Value, p.Error, p.Low, p.High, p.Constant, p.AtLimit,
		)
		if err != nil {
			return errors.DatabaseError(fmt.Sprintf("failed to insert parameter %s", p.Name), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit fit run", err)
	}
	return nil
}

// GetRun retrieves a run by its ID
func (r *fitRunRepository) GetRun(ctx context.Context, runID core.RunID) (*ports.FitRunRecord, error) {
	var record ports.FitRunRecord
	err := r.db.GetContext(ctx, &record, r.db.Rebind(`SELECT `+fitRunColumns+` FROM fit_runs WHERE run_id = ?`), runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("fit run not found: %s", runID))
		}
		return nil, errors.DatabaseError("failed to get fit run", err)
	}
	return &record, nil
}

// ListRuns returns the most recent runs first
func (r *fitRunRepository) ListRuns(ctx context.Context, limit int) ([]ports.FitRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records := []ports.FitRunRecord{}
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`SELECT `+fitRunColumns+` FROM fit_runs
	ORDER BY created_at DESC, run_id DESC
	LIMIT ?`), limit)
	if err != nil {
		return nil, errors.DatabaseError("failed to list fit runs", err)
	}
	return records, nil
}
