package fit

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// covariance holds the parabolic uncertainties of the free parameters.
type covariance struct {
	free   []int
	errors []float64
	corr   *mat.SymDense
	ok     bool
}

// hesse inverts the finite-difference Hessian of the NLL at x. The NLL is
// -ln L, so the covariance is the plain inverse.
func hesse(p *problem, x []float64) covariance {
	n := len(p.free)
	cov := covariance{free: p.free, errors: make([]float64, n)}
	if n == 0 {
		return cov
	}

	h := mat.NewSymDense(n, nil)
	fd.Hessian(h, p.externalNLL, p.freeValues(x), &fd.Settings{Formula: fd.Central})

	var chol mat.Cholesky
	if !chol.Factorize(h) {
		return cov
	}
	inv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(inv); err != nil {
		return cov
	}

	cov.corr = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.errors[i] = math.Sqrt(inv.At(i, i))
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.corr.SetSym(i, j, inv.At(i, j)/(cov.errors[i]*cov.errors[j]))
		}
	}
	cov.ok = true
	return cov
}

// errorOf returns the parabolic error of parameter index i, or 0.
func (c covariance) errorOf(i int) float64 {
	for k, f := range c.free {
		if f == i {
			return c.errors[k]
		}
	}
	return 0
}
