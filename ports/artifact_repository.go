package ports

import (
	"context"
	"time"

	"sigfit/domain/core"
	"sigfit/domain/result"
)

// FitRunRecord is the ledger row for one completed fit.
type FitRunRecord struct {
	RunID            core.RunID `db:"run_id" json:"run_id"`
	POI              string     `db:"poi" json:"poi"`
	Variable         string     `db:"variable" json:"variable"`
	BestFit          float64    `db:"best_fit" json:"best_fit"`
	ErrorUp          float64    `db:"error_up" json:"error_up"`
	ErrorDown        float64    `db:"error_down" json:"error_down"`
	LowerOpen        bool       `db:"lower_open" json:"lower_open"`
	UpperOpen        bool       `db:"upper_open" json:"upper_open"`
	ConfidenceLevel  float64    `db:"confidence_level" json:"confidence_level"`
	InputFingerprint core.Hash  `db:"input_fingerprint" json:"input_fingerprint"`
	Label            string     `db:"label" json:"label"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// ResultRepository is the append-only ledger of fit runs.
type ResultRepository interface {
	SaveRun(ctx context.Context, record FitRunRecord, res *result.FitResult) error
	GetRun(ctx context.Context, runID core.RunID) (*FitRunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]FitRunRecord, error)
}
