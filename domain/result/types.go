package result

import (
	"time"

	"sigfit/domain/core"
)

// ParameterValue is a fitted parameter with its parabolic (Hesse) uncertainty.
type ParameterValue struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Error    float64 `json:"error"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
	Constant bool    `json:"constant,omitempty"`
	AtLimit  bool    `json:"at_limit,omitempty"`
}

// Bound is one side of a confidence interval. Open means the profile likelihood
// ratio never reached the threshold before the POI limit, and Value is that limit.
type Bound struct {
	Value float64 `json:"value"`
	Open  bool    `json:"open"`
}

// Interval is a profile-likelihood confidence interval for the POI.
type Interval struct {
	ConfidenceLevel float64 `json:"confidence_level"`
	Threshold       float64 `json:"threshold"`
	Lower           Bound   `json:"lower"`
	Upper           Bound   `json:"upper"`
}

// ScanPoint is one profiled point: q = -2 ln(L(mu, θ̂(mu)) / L(mû, θ̂)).
type ScanPoint struct {
	POI       float64 `json:"poi"`
	NLL       float64 `json:"nll"`
	Q         float64 `json:"q"`
	Converged bool    `json:"converged"`
}

// FitResult is the terminal artifact of a fit. Read-only once produced.
type FitResult struct {
	RunID       core.RunID                    `json:"run_id"`
	POI         string                        `json:"poi"`
	BestFit     float64                       `json:"best_fit"`
	MinNLL      float64                       `json:"min_nll"`
	Parameters  []ParameterValue              `json:"parameters"`
	Correlation map[string]map[string]float64 `json:"correlation,omitempty"`
	Interval    Interval                      `json:"interval"`
	Scan        []ScanPoint                   `json:"scan"`
	Status      string                        `json:"status"`
	Evaluations int                           `json:"evaluations"`
	Duration    time.Duration                 `json:"duration"`
}

// ErrorUp is the distance from the best fit to the upper bound.
func (r *FitResult) ErrorUp() float64 { return r.Interval.Upper.Value - r.BestFit }

// ErrorDown is the distance from the lower bound to the best fit.
func (r *FitResult) ErrorDown() float64 { return r.BestFit - r.Interval.Lower.Value }

// Parameter returns the named fitted parameter.
func (r *FitResult) Parameter(name string) (ParameterValue, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterValue{}, false
}

// Nuisances returns the profiled values of every parameter except the POI.
func (r *FitResult) Nuisances() map[string]float64 {
	out := make(map[string]float64, len(r.Parameters))
	for _, p := range r.Parameters {
		if p.Name != r.POI {
			out[p.Name] = p.Value
		}
	}
	return out
}
