package fit

import (
	"context"
	"math"

	"sigfit/domain/core"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// minimum is the outcome of one minimization.
type minimum struct {
	x      []float64
	nll    float64
	status optimize.Status
	method string
}

// contextRecorder aborts the optimizer once ctx is done.
type contextRecorder struct {
	ctx context.Context
}

var _ optimize.Recorder = contextRecorder{}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

// minimize runs BFGS with a central-difference gradient and falls back to
// Nelder-Mead from the last BFGS point. A problem with no free parameters is
// evaluated directly.
func (e *Engine) minimize(ctx context.Context, p *problem, start []float64, stage string) (*minimum, error) {
	if len(p.free) == 0 {
		x := append([]float64(nil), p.base...)
		return &minimum{x: x, nll: p.model.NLL(x), status: optimize.Success, method: "none"}, nil
	}

	u0 := p.internal(start)
	prob := optimize.Problem{
		Func: p.nll,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, p.nll, u, &fd.Settings{Formula: fd.Central})
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: e.opts.Tolerance,
		Converger:         &optimize.FunctionConverge{Absolute: e.opts.Tolerance * 1e-3, Iterations: 20},
		MajorIterations:   e.opts.MaxIterations,
		Recorder:          contextRecorder{ctx: ctx},
	}
	res, err := optimize.Minimize(prob, u0, settings, &optimize.BFGS{})
	if err == nil && res != nil && converged(res.Status) && !math.IsNaN(res.F) {
		return &minimum{x: p.external(res.X), nll: res.F, status: res.Status, method: "BFGS"}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, e.convergenceError(p, stage, optimize.RuntimeLimit, u0, res, ctxErr)
	}

	status := optimize.Failure
	if res != nil {
		status = res.Status
		if finite(res.X) {
			u0 = res.X
		}
	}
	e.logger.Debug("%s: BFGS stopped with status %v (%v), retrying with Nelder-Mead", stage, status, err)

	settings = &optimize.Settings{
		Converger:       &optimize.FunctionConverge{Absolute: e.opts.Tolerance * 1e-3, Iterations: 200},
		MajorIterations: e.opts.MaxIterations * 10,
		Recorder:        contextRecorder{ctx: ctx},
	}
	res, err = optimize.Minimize(optimize.Problem{Func: p.nll}, u0, settings, &optimize.NelderMead{})
	if err == nil && res != nil && converged(res.Status) && !math.IsNaN(res.F) {
		return &minimum{x: p.external(res.X), nll: res.F, status: res.Status, method: "NelderMead"}, nil
	}
	if res != nil {
		status = res.Status
	}
	if err == nil {
		err = ctx.Err()
	}
	return nil, e.convergenceError(p, stage, status, u0, res, err)
}

func (e *Engine) convergenceError(p *problem, stage string, status optimize.Status, u0 []float64, res *optimize.Result, err error) error {
	last := u0
	if res != nil && finite(res.X) {
		last = res.X
	}
	return &core.FitConvergenceError{
		Stage:  stage,
		Status: status.String(),
		Params: p.model.Values(p.external(last)),
		Err:    err,
	}
}

func finite(x []float64) bool {
	if len(x) == 0 {
		return false
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
