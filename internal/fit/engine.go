package fit

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"sigfit/domain/result"
	"sigfit/internal"
	"sigfit/internal/config"
	"sigfit/internal/likelihood"

	"gonum.org/v1/gonum/stat/distuv"
)

// Options configures the fit engine.
type Options struct {
	ConfidenceLevel float64
	ScanPoints      int
	PlotLow         float64
	PlotHigh        float64
	Workers         int
	MaxIterations   int
	Tolerance       float64
	Timeout         time.Duration
}

// OptionsFromConfig maps fit configuration onto engine options.
func OptionsFromConfig(cfg config.FitConfig) Options {
	return Options{
		ConfidenceLevel: cfg.ConfidenceLevel,
		ScanPoints:      cfg.ScanPoints,
		PlotLow:         cfg.PlotLow,
		PlotHigh:        cfg.PlotHigh,
		Workers:         cfg.Workers,
		MaxIterations:   cfg.MaxIterations,
		Tolerance:       cfg.Tolerance,
		Timeout:         cfg.Timeout,
	}
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Fit)
}

// Engine maximizes the likelihood, profiles the nuisances and builds the
// confidence interval of the parameter of interest.
type Engine struct {
	opts   Options
	logger *internal.Logger
}

// NewEngine creates an engine; zero-valued options fall back to defaults.
func NewEngine(opts Options, logger *internal.Logger) *Engine {
	def := DefaultOptions()
	if opts.ConfidenceLevel <= 0 || opts.ConfidenceLevel >= 1 {
		opts.ConfidenceLevel = def.ConfidenceLevel
	}
	if opts.ScanPoints < 2 {
		opts.ScanPoints = def.ScanPoints
	}
	if !(opts.PlotLow < opts.PlotHigh) {
		opts.PlotLow, opts.PlotHigh = def.PlotLow, def.PlotHigh
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Engine{opts: opts, logger: logger}
}

// Threshold is the profile likelihood ratio defining the interval: the
// chi-squared (1 dof) quantile at the confidence level.
func Threshold(cl float64) float64 {
	return distuv.ChiSquared{K: 1}.Quantile(cl)
}

// Fit runs the global fit, the Hesse step, the interval search and the plot scan.
func (e *Engine) Fit(ctx context.Context, m *likelihood.Model) (*result.FitResult, error) {
	start := time.Now()
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var evals atomic.Int64
	params := m.Parameters()
	poi := m.POI()

	global := newProblem(m, m.Init(), &evals)
	best, err := e.minimize(ctx, global, m.Init(), "global")
	if err != nil {
		return nil, err
	}
	muHat := best.x[poi]
	e.logger.Info("global fit (%s, %v): %s = %.6g, NLL = %.6g", best.method, best.status, params[poi].Name, muHat, best.nll)

	cov := hesse(global, best.x)
	if !cov.ok {
		e.logger.Warn("Hessian at the best fit is not positive definite; parabolic errors unavailable")
	}

	pf := &profiler{engine: e, model: m, best: best, evals: &evals}
	threshold := Threshold(e.opts.ConfidenceLevel)
	interval, err := pf.interval(ctx, threshold, cov.errorOf(poi))
	if err != nil {
		return nil, err
	}
	interval.ConfidenceLevel = e.opts.ConfidenceLevel
	e.logger.Info("%.0f%% interval for %s: [%.6g%s, %.6g%s] (threshold q = %.4f)",
		100*e.opts.ConfidenceLevel, params[poi].Name,
		interval.Lower.Value, openMark(interval.Lower.Open), interval.Upper.Value, openMark(interval.Upper.Open), threshold)

	scan, err := pf.scan(ctx)
	if err != nil {
		return nil, err
	}

	res := &result.FitResult{
		POI:         params[poi].Name,
		BestFit:     muHat,
		MinNLL:      best.nll,
		Interval:    interval,
		Scan:        scan,
		Status:      fmt.Sprintf("%s/%v", best.method, best.status),
		Evaluations: int(evals.Load()),
		Duration:    time.Since(start),
	}
	for i, par := range params {
		pv := result.ParameterValue{
			Name:     par.Name,
			Value:    best.x[i],
			Error:    cov.errorOf(i),
			Low:      par.Low,
			High:     par.High,
			Constant: par.Constant,
		}
		if !par.Constant {
			span := par.High - par.Low
			pv.AtLimit = math.Abs(best.x[i]-par.Low) < 1e-6*span || math.Abs(best.x[i]-par.High) < 1e-6*span
		}
		res.Parameters = append(res.Parameters, pv)
	}
	if cov.ok {
		res.Correlation = make(map[string]map[string]float64, len(cov.free))
		for a, i := range cov.free {
			row := make(map[string]float64, len(cov.free))
			for b, j := range cov.free {
				row[params[j].Name] = cov.corr.At(a, b)
			}
			res.Correlation[params[i].Name] = row
		}
	}
	return res, nil
}

// Profile returns the NLL minimized over all nuisances with the POI fixed at mu.
func (e *Engine) Profile(ctx context.Context, m *likelihood.Model, mu float64) (float64, []float64, error) {
	x := m.Init()
	x[m.POI()] = mu
	p := newProblem(m, x, nil, m.POI())
	found, err := e.minimize(ctx, p, x, fmt.Sprintf("profile at %g", mu))
	if err != nil {
		return 0, nil, err
	}
	return found.nll, found.x, nil
}

func openMark(open bool) string {
	if open {
		return " (open)"
	}
	return ""
}
