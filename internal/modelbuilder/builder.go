package modelbuilder

import (
	"fmt"

	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/domain/model"
	"sigfit/internal"
	"sigfit/internal/config"
)

// Bounds is the multiplicative response of a normalization nuisance at θ = -1 and θ = +1.
type Bounds struct {
	Low  float64
	High float64
}

// Options describes how templates become a Measurement.
type Options struct {
	MeasurementName string
	ChannelName     string

	POI     string
	POIInit float64
	POILow  float64
	POIHigh float64

	Signal string
	// Processes lists every sample in model order; Signal must be among them.
	Processes []string
	Norm      map[string]Bounds

	Lumi       float64
	LumiRelErr float64
	Interp     model.InterpCode

	StatErrors       bool
	StatRelThreshold float64
	StatConstraint   model.ConstraintType
}

// OptionsFromConfig maps the application configuration onto builder options.
func OptionsFromConfig(cfg *config.Config) Options {
	norm := make(map[string]Bounds)
	for _, p := range cfg.AllModelProcesses() {
		b := cfg.NormBounds(p)
		norm[p] = Bounds{Low: b.Low, High: b.High}
	}
	u := cfg.Uncertainties
	return Options{
		MeasurementName:  "measurement",
		ChannelName:      "channel",
		POI:              cfg.POI(),
		POIInit:          u.POIInit,
		POILow:           u.POILow,
		POIHigh:          u.POIHigh,
		Signal:           cfg.Processes.Signal,
		Processes:        cfg.AllModelProcesses(),
		Norm:             norm,
		Lumi:             u.Lumi,
		LumiRelErr:       u.LumiRelErr,
		Interp:           model.InterpCode(u.Interp),
		StatErrors:       u.StatErrors,
		StatRelThreshold: u.StatRelThreshold,
		StatConstraint:   model.ConstraintType(u.StatConstraint),
	}
}

// Inputs are the nominal templates keyed by process plus the observed data.
type Inputs struct {
	Data      histogram.Histogram
	DataName  string
	Templates map[string]histogram.Histogram
}

// Builder assembles a Measurement. It performs no numerical work.
type Builder struct {
	opts   Options
	logger *internal.Logger
}

// NewBuilder creates a builder.
func NewBuilder(opts Options, logger *internal.Logger) *Builder {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Builder{opts: opts, logger: logger}
}

// Build validates the inputs and returns the measurement. Every failure is a
// ModelError naming the offending process.
func (b *Builder) Build(in Inputs) (*model.Measurement, error) {
	o := b.opts
	if err := b.validateOptions(); err != nil {
		return nil, err
	}
	if in.Data.IsZero() {
		return nil, core.NewModelError("channel "+o.ChannelName, "observed data histogram is empty")
	}
	for i := 0; i < in.Data.NBins(); i++ {
		if in.Data.Content(i) < 0 {
			return nil, core.NewModelError("data "+in.DataName, fmt.Sprintf("bin %d has negative count %g", i, in.Data.Content(i)))
		}
	}

	ch := model.Channel{
		Name:     o.ChannelName,
		Data:     in.Data,
		DataName: in.DataName,
		StatConfig: model.StatErrorConfig{
			RelThreshold: o.StatRelThreshold,
			Constraint:   o.StatConstraint,
		},
	}

	for _, process := range o.Processes {
		nominal, ok := in.Templates[process]
		if !ok {
			return nil, core.NewModelError("sample "+process, "no nominal template")
		}
		if err := in.Data.CheckCoBinned(nominal); err != nil {
			return nil, fmt.Errorf("sample %s vs data %s: %w", process, in.DataName, err)
		}
		if nominal.MinContent() < 0 {
			b.logger.Warn("sample %s has negative nominal bins (min %.4g)", process, nominal.MinContent())
		}

		bounds := o.Norm[process]
		s := model.Sample{
			Name:              process,
			Nominal:           nominal,
			NormalizeByTheory: true,
			StatError:         o.StatErrors,
			OverallSys:        []model.OverallSys{{Name: process + "_xsec_sys", Low: bounds.Low, High: bounds.High}},
		}
		if process == o.Signal {
			s.NormFactors = []model.NormFactor{{Name: o.POI, Val: o.POIInit, Low: o.POILow, High: o.POIHigh}}
		}
		ch.Samples = append(ch.Samples, s)
	}

	m := &model.Measurement{
		Name:       o.MeasurementName,
		POI:        o.POI,
		Lumi:       o.Lumi,
		LumiRelErr: o.LumiRelErr,
		Interp:     o.Interp,
		Channels:   []model.Channel{ch},
	}

	b.logger.Info("built measurement %s: %d samples, %d bins, POI %s in [%g, %g]",
		m.Name, len(ch.Samples), in.Data.NBins(), o.POI, o.POILow, o.POIHigh)
	b.logger.Debug("%s", m.PrintTree())
	return m, nil
}

func (b *Builder) validateOptions() error {
	o := b.opts
	if o.POI == "" {
		return core.NewModelError("measurement", "parameter of interest is unnamed")
	}
	if !(o.POILow < o.POIHigh) {
		return core.NewModelError("norm factor "+o.POI, fmt.Sprintf("degenerate range [%g, %g]", o.POILow, o.POIHigh))
	}
	if o.POIInit < o.POILow || o.POIInit > o.POIHigh {
		return core.NewModelError("norm factor "+o.POI, fmt.Sprintf("initial value %g outside [%g, %g]", o.POIInit, o.POILow, o.POIHigh))
	}
	if !o.Interp.Valid() {
		return core.NewModelError("measurement", fmt.Sprintf("unknown interpolation code %q", o.Interp))
	}
	if o.Lumi <= 0 || o.LumiRelErr < 0 {
		return core.NewModelError("lumi", fmt.Sprintf("invalid luminosity %g ± %g", o.Lumi, o.LumiRelErr))
	}
	switch o.StatConstraint {
	case model.ConstraintPoisson, model.ConstraintGaussian:
	default:
		return core.NewModelError("channel "+o.ChannelName, fmt.Sprintf("unknown stat constraint %q", o.StatConstraint))
	}

	signal := false
	for _, p := range o.Processes {
		if p == o.Signal {
			signal = true
		}
		bounds, ok := o.Norm[p]
		if !ok {
			return core.NewModelError("sample "+p, "no normalization bounds")
		}
		if !(bounds.Low < bounds.High) {
			return core.NewModelError(p+"_xsec_sys", fmt.Sprintf("degenerate bounds [%g, %g]", bounds.Low, bounds.High))
		}
		if o.Interp != model.InterpLinear && bounds.Low <= 0 {
			return core.NewModelError(p+"_xsec_sys", fmt.Sprintf("lower bound %g must be positive for %s interpolation", bounds.Low, o.Interp))
		}
	}
	if !signal {
		return core.NewModelError("measurement", fmt.Sprintf("signal %q is not among the samples", o.Signal))
	}
	return nil
}
