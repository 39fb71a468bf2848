package model

import (
	"fmt"

	"sigfit/domain/histogram"
)

// InterpCode selects how a normalization nuisance responds between and beyond ±1σ.
type InterpCode string

const (
	InterpLinear      InterpCode = "linear"      // 1 + θ·(hi-1) / 1 + θ·(1-lo)
	InterpExponential InterpCode = "exponential" // hi^θ / lo^-θ (log-normal)
	InterpPolyExp     InterpCode = "polyexp"     // 6th order polynomial inside |θ|<1, exponential outside
)

// Valid reports whether the code is a known interpolation scheme.
func (c InterpCode) Valid() bool {
	switch c {
	case InterpLinear, InterpExponential, InterpPolyExp:
		return true
	}
	return false
}

// ConstraintType is the per-bin statistical uncertainty treatment.
type ConstraintType string

const (
	ConstraintPoisson  ConstraintType = "Poisson"
	ConstraintGaussian ConstraintType = "Gaussian"
)

// NormFactor is a freely floating multiplicative factor within [Low, High].
type NormFactor struct {
	Name string  `json:"name"`
	Val  float64 `json:"val"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// OverallSys is a constrained normalization uncertainty: the sample is scaled by
// Low at θ=-1 and High at θ=+1.
type OverallSys struct {
	Name string  `json:"name"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Sample is one process contributing to a channel.
type Sample struct {
	Name              string              `json:"name"`
	Nominal           histogram.Histogram `json:"nominal"`
	NormFactors       []NormFactor        `json:"norm_factors,omitempty"`
	OverallSys        []OverallSys        `json:"overall_sys,omitempty"`
	NormalizeByTheory bool                `json:"normalize_by_theory"`
	StatError         bool                `json:"stat_error"`
}

// StatErrorConfig controls which bins get a statistical nuisance parameter.
type StatErrorConfig struct {
	RelThreshold float64        `json:"rel_threshold"`
	Constraint   ConstraintType `json:"constraint"`
}

// Channel is one observed histogram and the samples that explain it.
type Channel struct {
	Name       string              `json:"name"`
	Data       histogram.Histogram `json:"data"`
	DataName   string              `json:"data_name"`
	Samples    []Sample            `json:"samples"`
	StatConfig StatErrorConfig     `json:"stat_config"`
}

// Measurement is the complete model specification handed to the fit engine.
// It is built once and must not be modified afterwards.
type Measurement struct {
	Name       string     `json:"name"`
	POI        string     `json:"poi"`
	Lumi       float64    `json:"lumi"`
	LumiRelErr float64    `json:"lumi_rel_err"`
	Interp     InterpCode `json:"interp"`
	Channels   []Channel  `json:"channels"`
}

// Sample returns the named sample of the named channel.
func (m *Measurement) Sample(channel, sample string) (Sample, bool) {
	for _, ch := range m.Channels {
		if ch.Name != channel {
			continue
		}
		for _, s := range ch.Samples {
			if s.Name == sample {
				return s, true
			}
		}
	}
	return Sample{}, false
}

// POIFactor locates the NormFactor declared as parameter of interest.
func (m *Measurement) POIFactor() (NormFactor, error) {
	for _, ch := range m.Channels {
		for _, s := range ch.Samples {
			for _, nf := range s.NormFactors {
				if nf.Name == m.POI {
					return nf, nil
				}
			}
		}
	}
	return NormFactor{}, fmt.Errorf("parameter of interest %q is not a norm factor of any sample", m.POI)
}

// PrintTree renders the measurement structure for logs.
func (m *Measurement) PrintTree() string {
	out := fmt.Sprintf("Measurement %s (POI %s, lumi %.3g ± %.2g%%, interp %s)\n", m.Name, m.POI, m.Lumi, 100*m.LumiRelErr, m.Interp)
	for _, ch := range m.Channels {
		out += fmt.Sprintf("  Channel %s: data %s (%d bins, %.1f events), stat threshold %.3g %s\n",
			ch.Name, ch.DataName, ch.Data.NBins(), ch.Data.Integral(), ch.StatConfig.RelThreshold, ch.StatConfig.Constraint)
		for _, s := range ch.Samples {
			out += fmt.Sprintf("    Sample %s: %.2f events\n", s.Name, s.Nominal.Integral())
			for _, nf := range s.NormFactors {
				out += fmt.Sprintf("      NormFactor %s = %g in [%g, %g]\n", nf.Name, nf.Val, nf.Low, nf.High)
			}
			for _, sys := range s.OverallSys {
				out += fmt.Sprintf("      OverallSys %s [%g, %g]\n", sys.Name, sys.Low, sys.High)
			}
		}
	}
	return out
}
