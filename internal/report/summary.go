package report

import (
	"fmt"
	"sort"
	"time"

	"sigfit/domain/core"
	"sigfit/domain/result"
	"sigfit/ports"

	"github.com/montanaflynn/stats"
)

// Yield summarizes one process before and after the fit.
type Yield struct {
	Process string  `json:"process"`
	Prefit  float64 `json:"prefit"`
	Postfit float64 `json:"postfit"`
	// PeakBin is the bin with the largest post-fit content.
	PeakBin   int     `json:"peak_bin"`
	PeakValue float64 `json:"peak_value"`
}

// Summary is the machine-readable result handed to the plotting collaborator.
type Summary struct {
	RunID            core.RunID                    `json:"run_id"`
	CreatedAt        time.Time                     `json:"created_at"`
	Variable         string                        `json:"variable"`
	POI              string                        `json:"poi"`
	BestFit          float64                       `json:"best_fit"`
	ErrorUp          float64                       `json:"error_up"`
	ErrorDown        float64                       `json:"error_down"`
	Interval         result.Interval               `json:"interval"`
	Label            string                        `json:"label"`
	InputFingerprint string                        `json:"input_fingerprint"`
	Status           string                        `json:"status"`
	Evaluations      int                           `json:"evaluations"`
	DurationSeconds  float64                       `json:"duration_seconds"`
	MinNLL           float64                       `json:"min_nll"`
	Parameters       []result.ParameterValue       `json:"parameters"`
	Correlation      map[string]map[string]float64 `json:"correlation,omitempty"`
	Yields           []Yield                       `json:"yields"`
	DataYield        float64                       `json:"data_yield"`
	Scan             []result.ScanPoint            `json:"scan"`
}

// Label renders "POI: best +up -down" with three decimals.
func Label(res *result.FitResult) string {
	return fmt.Sprintf("%s: %.3f +%.3f -%.3f", res.POI, res.BestFit, res.ErrorUp(), res.ErrorDown())
}

// NewSummary packages a fit result.
func NewSummary(res *result.FitResult, variable string, fingerprint core.Hash, yields []Yield, data []float64) *Summary {
	dataYield, _ := stats.Sum(data)
	return &Summary{
		RunID:            res.RunID,
		CreatedAt:        time.Now().UTC(),
		Variable:         variable,
		POI:              res.POI,
		BestFit:          res.BestFit,
		ErrorUp:          res.ErrorUp(),
		ErrorDown:        res.ErrorDown(),
		Interval:         res.Interval,
		Label:            Label(res),
		InputFingerprint: fingerprint.String(),
		Status:           res.Status,
		Evaluations:      res.Evaluations,
		DurationSeconds:  res.Duration.Seconds(),
		MinNLL:           res.MinNLL,
		Parameters:       res.Parameters,
		Correlation:      res.Correlation,
		Yields:           yields,
		DataYield:        dataYield,
		Scan:             res.Scan,
	}
}

// Record is the ledger row for the summary.
func (s *Summary) Record() ports.FitRunRecord {
	return ports.FitRunRecord{
		RunID:            s.RunID,
		POI:              s.POI,
		Variable:         s.Variable,
		BestFit:          s.BestFit,
		ErrorUp:          s.ErrorUp,
		ErrorDown:        s.ErrorDown,
		LowerOpen:        s.Interval.Lower.Open,
		UpperOpen:        s.Interval.Upper.Open,
		ConfidenceLevel:  s.Interval.ConfidenceLevel,
		InputFingerprint: core.Hash(s.InputFingerprint),
		Label:            s.Label,
		CreatedAt:        s.CreatedAt,
	}
}

// Result reconstructs the fit result a summary was built from.
func (s *Summary) Result() *result.FitResult {
	return &result.FitResult{
		RunID:       s.RunID,
		POI:         s.POI,
		BestFit:     s.BestFit,
		MinNLL:      s.MinNLL,
		Parameters:  s.Parameters,
		Correlation: s.Correlation,
		Interval:    s.Interval,
		Scan:        s.Scan,
		Status:      s.Status,
		Evaluations: s.Evaluations,
		Duration:    time.Duration(s.DurationSeconds * float64(time.Second)),
	}
}

// BuildYields totals each process's per-bin expectation. Processes are
// ordered by decreasing post-fit yield.
func BuildYields(prefit, postfit map[string][]float64) []Yield {
	out := make([]Yield, 0, len(postfit))
	for process, post := range postfit {
		y := Yield{Process: process}
		y.Postfit, _ = stats.Sum(post)
		y.Prefit, _ = stats.Sum(prefit[process])
		if len(post) > 0 {
			y.PeakValue, _ = stats.Max(post)
			for i, v := range post {
				if v == y.PeakValue {
					y.PeakBin = i
					break
				}
			}
		}
		out = append(out, y)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Postfit != out[j].Postfit {
			return out[i].Postfit > out[j].Postfit
		}
		return out[i].Process < out[j].Process
	})
	return out
}
