package fit

import (
	"math"
	"sync/atomic"

	"sigfit/internal/likelihood"
)

// problem is the NLL restricted to the free parameters, seen through a sine
// transform so the optimizer works on an unbounded space.
type problem struct {
	model  *likelihood.Model
	params []likelihood.Parameter
	base   []float64
	free   []int
	evals  *atomic.Int64
}

// newProblem fixes every constant parameter and every index in fixed to the
// value given in base.
func newProblem(m *likelihood.Model, base []float64, evals *atomic.Int64, fixed ...int) *problem {
	params := m.Parameters()
	isFixed := make(map[int]bool, len(fixed))
	for _, i := range fixed {
		isFixed[i] = true
	}
	p := &problem{model: m, params: params, base: append([]float64(nil), base...), evals: evals}
	for i, par := range params {
		if par.Constant || isFixed[i] {
			continue
		}
		p.free = append(p.free, i)
	}
	return p
}

// external maps internal coordinates to a full parameter vector.
func (p *problem) external(u []float64) []float64 {
	x := append([]float64(nil), p.base...)
	for k, i := range p.free {
		par := p.params[i]
		x[i] = par.Low + (par.High-par.Low)*(math.Sin(u[k])+1)/2
	}
	return x
}

// internal maps a full parameter vector to internal coordinates. Values on or
// beyond a limit are pulled just inside so the transform keeps a gradient.
func (p *problem) internal(x []float64) []float64 {
	u := make([]float64, len(p.free))
	for k, i := range p.free {
		par := p.params[i]
		s := 2*(x[i]-par.Low)/(par.High-par.Low) - 1
		s = math.Max(-1+1e-8, math.Min(1-1e-8, s))
		u[k] = math.Asin(s)
	}
	return u
}

func (p *problem) nll(u []float64) float64 {
	if p.evals != nil {
		p.evals.Add(1)
	}
	return p.model.NLL(p.external(u))
}

// externalNLL evaluates the NLL on free parameters given in external coordinates.
func (p *problem) externalNLL(xf []float64) float64 {
	x := append([]float64(nil), p.base...)
	for k, i := range p.free {
		x[i] = xf[k]
	}
	if p.evals != nil {
		p.evals.Add(1)
	}
	return p.model.NLL(x)
}

func (p *problem) freeValues(x []float64) []float64 {
	out := make([]float64, len(p.free))
	for k, i := range p.free {
		out[k] = x[i]
	}
	return out
}
