package fit

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"sigfit/domain/core"
	"sigfit/domain/result"
	"sigfit/internal/likelihood"

	"golang.org/x/sync/errgroup"
)

// maxBisections bounds the refinement of one interval side.
const maxBisections = 60

// profiler evaluates the profile likelihood ratio relative to a global minimum.
type profiler struct {
	engine *Engine
	model  *likelihood.Model
	best   *minimum
	evals  *atomic.Int64
}

// profilePoint is the profiled NLL at a fixed POI value.
type profilePoint struct {
	mu  float64
	nll float64
	q   float64
}

func (pf *profiler) at(ctx context.Context, mu float64, stage string) (profilePoint, error) {
	poi := pf.model.POI()
	x := append([]float64(nil), pf.best.x...)
	x[poi] = mu
	p := newProblem(pf.model, x, pf.evals, poi)
	found, err := pf.engine.minimize(ctx, p, x, stage)
	if err != nil {
		return profilePoint{mu: mu}, err
	}
	return pf.point(mu, found.nll), nil
}

func (pf *profiler) point(mu, nll float64) profilePoint {
	q := 2 * (nll - pf.best.nll)
	if q < -1e-3 {
		pf.engine.logger.Warn("profile at %s=%.6g is below the global minimum by %.3g; the global fit may be a local minimum",
			pf.model.Parameters()[pf.model.POI()].Name, mu, -q/2)
	}
	return profilePoint{mu: mu, nll: nll, q: math.Max(q, 0)}
}

// interval brackets both crossings of q = threshold.
func (pf *profiler) interval(ctx context.Context, threshold, sigma float64) (result.Interval, error) {
	lower, err := pf.side(ctx, -1, threshold, sigma)
	if err != nil {
		return result.Interval{}, err
	}
	upper, err := pf.side(ctx, +1, threshold, sigma)
	if err != nil {
		return result.Interval{}, err
	}
	return result.Interval{Threshold: threshold, Lower: lower, Upper: upper}, nil
}

// side walks from the best fit toward the POI limit in direction dir with a
// growing step until q crosses the threshold, then bisects the bracketing cell.
// A side that reaches the limit without crossing is open.
func (pf *profiler) side(ctx context.Context, dir, threshold, sigma float64) (result.Bound, error) {
	par := pf.model.Parameters()[pf.model.POI()]
	muHat := pf.best.x[pf.model.POI()]
	limit := par.High
	if dir < 0 {
		limit = par.Low
	}
	span := par.High - par.Low
	stage := "interval"

	if math.Abs(limit-muHat) < 1e-9*span {
		pf.engine.logger.Warn("best fit %.6g sits at the %s limit; that interval side is open", muHat, par.Name)
		return result.Bound{Value: limit, Open: true}, nil
	}

	step := sigma * math.Sqrt(threshold)
	if !(step > 0) || math.IsInf(step, 0) {
		step = math.Abs(limit-muHat) / 10
	}

	inside := profilePoint{mu: muHat}
	for {
		mu := inside.mu + dir*step
		if dir*(mu-limit) >= 0 {
			mu = limit
		}
		pt, err := pf.at(ctx, mu, stage)
		if err != nil {
			return result.Bound{}, err
		}
		if pt.q >= threshold {
			return pf.bisect(ctx, inside, pt, threshold, span)
		}
		if mu == limit {
			pf.engine.logger.Warn("q(%s=%.6g) = %.4g never reaches %.4g; interval side is open at the limit",
				par.Name, limit, pt.q, threshold)
			return result.Bound{Value: limit, Open: true}, nil
		}
		inside = pt
		step *= 2
	}
}

// bisect narrows [in, out] where q(in) < threshold <= q(out) and finishes with
// a linear interpolation across the final cell.
func (pf *profiler) bisect(ctx context.Context, in, out profilePoint, threshold, span float64) (result.Bound, error) {
	tol := pf.engine.opts.Tolerance * span
	for i := 0; i < maxBisections && math.Abs(out.mu-in.mu) > tol; i++ {
		mid, err := pf.at(ctx, (in.mu+out.mu)/2, "interval")
		if err != nil {
			return result.Bound{}, err
		}
		if math.Abs(mid.q-threshold) < pf.engine.opts.Tolerance {
			return result.Bound{Value: mid.mu}, nil
		}
		if mid.q >= threshold {
			out = mid
		} else {
			in = mid
		}
	}
	if out.q == in.q {
		return result.Bound{Value: out.mu}, nil
	}
	frac := (threshold - in.q) / (out.q - in.q)
	return result.Bound{Value: in.mu + frac*(out.mu-in.mu)}, nil
}

// scan profiles ScanPoints evenly spaced POI values across the plot range in
// parallel and returns them sorted by POI.
func (pf *profiler) scan(ctx context.Context) ([]result.ScanPoint, error) {
	opts := pf.engine.opts
	par := pf.model.Parameters()[pf.model.POI()]
	lo := math.Max(opts.PlotLow, par.Low)
	hi := math.Min(opts.PlotHigh, par.High)
	if !(lo < hi) {
		return nil, core.NewModelError("scan", fmt.Sprintf("plot range [%g, %g] lies outside %s limits [%g, %g]",
			opts.PlotLow, opts.PlotHigh, par.Name, par.Low, par.High))
	}

	points := make([]result.ScanPoint, opts.ScanPoints)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range points {
		mu := lo + (hi-lo)*float64(i)/float64(opts.ScanPoints-1)
		g.Go(func() error {
			pt, err := pf.at(gctx, mu, fmt.Sprintf("scan at %g", mu))
			var conv *core.FitConvergenceError
			switch {
			case err == nil:
				points[i] = result.ScanPoint{POI: mu, NLL: pt.nll, Q: pt.q, Converged: true}
			case gctx.Err() == nil && stderrors.As(err, &conv):
				// keep the point with the last parameters so the curve has no hole
				last := pf.lastState(conv.Params, mu)
				pt := pf.point(mu, pf.model.NLL(last))
				points[i] = result.ScanPoint{POI: mu, NLL: pt.nll, Q: pt.q}
				pf.engine.logger.Warn("scan point %s=%.4g did not converge: %v", par.Name, mu, err)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(points, func(a, b int) bool { return points[a].POI < points[b].POI })
	return points, nil
}

func (pf *profiler) lastState(values map[string]float64, mu float64) []float64 {
	x := append([]float64(nil), pf.best.x...)
	for name, v := range values {
		if i, ok := pf.model.Index(name); ok {
			x[i] = v
		}
	}
	x[pf.model.POI()] = mu
	return x
}
