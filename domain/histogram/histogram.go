package histogram

import (
	"fmt"
	"math"

	"sigfit/domain/core"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// Histogram is an immutable binned distribution. Bin i spans [Edges[i], Edges[i+1]).
// Operations never modify the receiver; they return a new Histogram.
type Histogram struct {
	edges    []float64
	contents []float64
	errors   []float64
}

// New builds a histogram from explicit edges, contents and per-bin statistical
// uncertainties. A nil errs slice defaults to Poisson errors sqrt(|content|).
func New(edges, contents, errs []float64) (Histogram, error) {
	if len(edges) < 2 {
		return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("need at least 2 edges, got %d", len(edges)))
	}
	if len(contents) != len(edges)-1 {
		return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("%d contents for %d bins", len(contents), len(edges)-1))
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("edges not strictly increasing at index %d", i))
		}
	}
	if errs == nil {
		errs = make([]float64, len(contents))
		for i, c := range contents {
			errs[i] = math.Sqrt(math.Abs(c))
		}
	} else if len(errs) != len(contents) {
		return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("%d errors for %d bins", len(errs), len(contents)))
	}
	for i := range contents {
		if math.IsNaN(contents[i]) || math.IsInf(contents[i], 0) {
			return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("bin %d content is not finite", i))
		}
		if errs[i] < 0 || math.IsNaN(errs[i]) {
			return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("bin %d error must be non-negative", i))
		}
	}
	return Histogram{
		edges:    append([]float64(nil), edges...),
		contents: append([]float64(nil), contents...),
		errors:   append([]float64(nil), errs...),
	}, nil
}

// Uniform builds nbins equal-width bins over [low, high).
func Uniform(nbins int, low, high float64, contents, errs []float64) (Histogram, error) {
	if nbins <= 0 {
		return Histogram{}, core.NewModelError("histogram", "number of bins must be positive")
	}
	if !(high > low) {
		return Histogram{}, core.NewModelError("histogram", fmt.Sprintf("range [%g, %g) is empty", low, high))
	}
	edges := make([]float64, nbins+1)
	floats.Span(edges, low, high)
	return New(edges, contents, errs)
}

// NBins returns the number of bins.
func (h Histogram) NBins() int { return len(h.contents) }

// Edges returns a copy of the bin edges.
func (h Histogram) Edges() []float64 { return append([]float64(nil), h.edges...) }

// Contents returns a copy of the bin contents.
func (h Histogram) Contents() []float64 { return append([]float64(nil), h.contents...) }

// Errors returns a copy of the per-bin statistical uncertainties.
func (h Histogram) Errors() []float64 { return append([]float64(nil), h.errors...) }

// Content returns the content of bin i.
func (h Histogram) Content(i int) float64 { return h.contents[i] }

// Error returns the uncertainty of bin i.
func (h Histogram) Error(i int) float64 { return h.errors[i] }

// BinLow returns the lower edge of bin i.
func (h Histogram) BinLow(i int) float64 { return h.edges[i] }

// BinHigh returns the upper edge of bin i.
func (h Histogram) BinHigh(i int) float64 { return h.edges[i+1] }

// IsZero reports whether h is the zero value (no bins).
func (h Histogram) IsZero() bool { return len(h.edges) == 0 }

// Integral is the sum of all bin contents.
func (h Histogram) Integral() float64 {
	if len(h.contents) == 0 {
		return 0
	}
	sum, _ := stats.Sum(h.contents)
	return sum
}

// IntegralError is the quadrature sum of the bin errors.
func (h Histogram) IntegralError() float64 {
	return floats.Norm(h.errors, 2)
}

// CoBinned reports whether h and other share identical bin edges.
func (h Histogram) CoBinned(other Histogram) bool {
	if len(h.edges) != len(other.edges) {
		return false
	}
	for i := range h.edges {
		if !sameEdge(h.edges[i], other.edges[i]) {
			return false
		}
	}
	return true
}

// CheckCoBinned returns a binning ModelError naming the first mismatch.
func (h Histogram) CheckCoBinned(other Histogram) error {
	if len(h.edges) != len(other.edges) {
		return core.NewBinningError("histogram", fmt.Sprintf("%d bins vs %d bins", h.NBins(), other.NBins()))
	}
	for i := range h.edges {
		if !sameEdge(h.edges[i], other.edges[i]) {
			return core.NewBinningError("histogram", fmt.Sprintf("edge %d differs: %g vs %g", i, h.edges[i], other.edges[i]))
		}
	}
	return nil
}

// Add returns h + other bin-wise; errors add in quadrature.
func (h Histogram) Add(other Histogram) (Histogram, error) {
	return h.combine(other, 1)
}

// Subtract returns h - other bin-wise; errors add in quadrature.
func (h Histogram) Subtract(other Histogram) (Histogram, error) {
	return h.combine(other, -1)
}

func (h Histogram) combine(other Histogram, sign float64) (Histogram, error) {
	if err := h.CheckCoBinned(other); err != nil {
		return Histogram{}, err
	}
	out := h.clone()
	floats.AddScaled(out.contents, sign, other.contents)
	for i := range out.errors {
		out.errors[i] = math.Hypot(h.errors[i], other.errors[i])
	}
	return out, nil
}

// Scale multiplies contents and errors by k.
func (h Histogram) Scale(k float64) Histogram {
	out := h.clone()
	floats.Scale(k, out.contents)
	floats.Scale(math.Abs(k), out.errors)
	return out
}

// ClipNegative sets negative bin contents to zero and reports which bins were clipped.
// Errors of clipped bins are kept.
func (h Histogram) ClipNegative() (Histogram, []int) {
	out := h.clone()
	var clipped []int
	for i, c := range out.contents {
		if c < 0 {
			out.contents[i] = 0
			clipped = append(clipped, i)
		}
	}
	return out, clipped
}

// MinContent returns the smallest bin content.
func (h Histogram) MinContent() float64 {
	if len(h.contents) == 0 {
		return 0
	}
	return floats.Min(h.contents)
}

// String gives a compact representation for logs.
func (h Histogram) String() string {
	if h.IsZero() {
		return "Histogram{}"
	}
	return fmt.Sprintf("Histogram{bins=%d range=[%g,%g) integral=%.4g}", h.NBins(), h.edges[0], h.edges[len(h.edges)-1], h.Integral())
}

func (h Histogram) clone() Histogram {
	return Histogram{
		edges:    append([]float64(nil), h.edges...),
		contents: append([]float64(nil), h.contents...),
		errors:   append([]float64(nil), h.errors...),
	}
}

const edgeTolerance = 1e-9

func sameEdge(a, b float64) bool {
	return scalar.EqualWithinAbsOrRel(a, b, edgeTolerance, edgeTolerance)
}
