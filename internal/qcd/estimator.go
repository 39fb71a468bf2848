package qcd

import (
	"context"
	"fmt"
	"strings"

	"sigfit/domain/histogram"
	"sigfit/internal"
	"sigfit/ports"
)

// Options configures the control-region extrapolation.
type Options struct {
	Variable      string
	DataProcess   string
	Subtract      []string
	ControlRegion histogram.Region
	ScaleFactor   float64
}

// Estimate is the derived background template and its provenance.
type Estimate struct {
	Template    histogram.Histogram
	PreClip     histogram.Histogram
	ClippedBins []int
	ScaleFactor float64
}

// Estimator derives a background shape from control-region data minus the
// simulated contributions, extrapolated into the signal region.
type Estimator struct {
	store  ports.HistogramStore
	opts   Options
	logger *internal.Logger
}

// NewEstimator creates a new estimator reading from store.
func NewEstimator(store ports.HistogramStore, opts Options, logger *internal.Logger) *Estimator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Estimator{store: store, opts: opts, logger: logger}
}

// Estimate loads the control-region histograms and derives the template.
// Missing inputs propagate the store's NotFoundError unchanged.
func (e *Estimator) Estimate(ctx context.Context) (*Estimate, error) {
	dataKey := histogram.Key{Process: e.opts.DataProcess, Variable: e.opts.Variable, Region: e.opts.ControlRegion}
	dataCR, err := e.store.Get(ctx, dataKey)
	if err != nil {
		return nil, fmt.Errorf("load control-region data: %w", err)
	}

	subtract := make([]histogram.Histogram, 0, len(e.opts.Subtract))
	for _, process := range e.opts.Subtract {
		key := histogram.Key{Process: process, Variable: e.opts.Variable, Region: e.opts.ControlRegion}
		h, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load control-region %s: %w", process, err)
		}
		subtract = append(subtract, h)
	}

	est, err := Derive(dataCR, subtract, e.opts.ScaleFactor)
	if err != nil {
		return nil, err
	}

	if len(est.ClippedBins) > 0 {
		pre := est.PreClip.Contents()
		parts := make([]string, len(est.ClippedBins))
		for i, bin := range est.ClippedBins {
			parts[i] = fmt.Sprintf("bin %d [%g,%g)=%.4g", bin, est.PreClip.BinLow(bin), est.PreClip.BinHigh(bin), pre[bin])
		}
		e.logger.Warn("data-driven estimate for %s: clipped %d negative bin(s) to zero after subtracting %s: %s",
			e.opts.Variable, len(est.ClippedBins), strings.Join(e.opts.Subtract, ","), strings.Join(parts, "; "))
	}
	e.logger.Info("data-driven estimate for %s: control-region data %.2f, subtracted %d processes, scale %.3g, template integral %.2f",
		e.opts.Variable, dataCR.Integral(), len(subtract), e.opts.ScaleFactor, est.Template.Integral())

	return est, nil
}

// Derive computes clip(R - Σ subtract) · scale. Subtraction order does not matter.
func Derive(dataCR histogram.Histogram, subtract []histogram.Histogram, scale float64) (*Estimate, error) {
	remainder := dataCR
	for _, h := range subtract {
		var err error
		remainder, err = remainder.Subtract(h)
		if err != nil {
			return nil, err
		}
	}

	clipped, bins := remainder.ClipNegative()
	return &Estimate{
		Template:    clipped.Scale(scale),
		PreClip:     remainder,
		ClippedBins: bins,
		ScaleFactor: scale,
	}, nil
}
