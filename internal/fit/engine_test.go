package fit

import (
	"context"
	"math"
	"testing"
	"time"

	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/internal"
	"sigfit/internal/config"
	"sigfit/internal/likelihood"
	"sigfit/internal/modelbuilder"
	"sigfit/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nbins = 20

func template(t *testing.T, shape testkit.Shape) histogram.Histogram {
	t.Helper()
	edges := make([]float64, nbins+1)
	for i := range edges {
		edges[i] = float64(i)
	}
	h, err := histogram.New(edges, shape(edges), nil)
	require.NoError(t, err)
	return h
}

// compile builds the default five-sample model with the given signal shape and
// data equal to signalStrength·signal + Σ backgrounds.
func compile(t *testing.T, signal testkit.Shape, signalStrength float64) *likelihood.Model {
	t.Helper()
	sig := template(t, signal)
	templates := map[string]histogram.Histogram{"ZTT": sig}
	data := sig.Scale(signalStrength)
	for _, p := range []string{"ZLL", "TT", "W", "QCD"} {
		bkg := template(t, testkit.Flat(100))
		templates[p] = bkg
		var err error
		data, err = data.Add(bkg)
		require.NoError(t, err)
	}

	b := modelbuilder.NewBuilder(modelbuilder.OptionsFromConfig(config.Default()), internal.NopLogger())
	m, err := b.Build(modelbuilder.Inputs{Data: data, DataName: "2022G", Templates: templates})
	require.NoError(t, err)
	c, err := likelihood.Compile(m)
	require.NoError(t, err)
	return c
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ScanPoints = 11
	return opts
}

func TestThreshold(t *testing.T) {
	assert.InDelta(t, 0.98895, Threshold(0.68), 1e-4)
	assert.InDelta(t, 1.0, Threshold(0.682689492), 1e-6)
	assert.InDelta(t, 3.84146, Threshold(0.95), 1e-4)
}

func TestFit_FlatScenario(t *testing.T) {
	m := compile(t, testkit.Flat(50), 1)
	e := NewEngine(testOptions(), internal.NopLogger())

	res, err := e.Fit(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, "ZTT_mu", res.POI)
	assert.InDelta(t, 1.0, res.BestFit, 1e-3)
	assert.InDelta(t, 0, res.MinNLL, 1e-6)

	// the flat backgrounds absorb a flat signal within their normalization
	// bounds, so q stays below the threshold up to both POI limits
	iv := res.Interval
	assert.True(t, iv.Lower.Open)
	assert.True(t, iv.Upper.Open)
	assert.Equal(t, 0.0, iv.Lower.Value)
	assert.Equal(t, 2.0, iv.Upper.Value)

	for _, limit := range []float64{0, 2} {
		nll, _, err := e.Profile(context.Background(), m, limit)
		require.NoError(t, err)
		q := 2 * (nll - res.MinNLL)
		assert.Greater(t, q, 0.1, "mu=%g", limit)
		assert.Less(t, q, iv.Threshold, "mu=%g", limit)
	}
}

func TestFit_PeakedSignalClosedInterval(t *testing.T) {
	m := compile(t, testkit.Gaussian(400, 10, 1.5), 1)
	e := NewEngine(testOptions(), internal.NopLogger())

	res, err := e.Fit(context.Background(), m)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.BestFit, 1e-3)
	iv := res.Interval
	require.False(t, iv.Lower.Open)
	require.False(t, iv.Upper.Open)
	assert.Less(t, iv.Lower.Value, res.BestFit)
	assert.Greater(t, iv.Upper.Value, res.BestFit)
	assert.Greater(t, res.ErrorUp(), 0.0)
	assert.Greater(t, res.ErrorDown(), 0.0)

	for _, mu := range []float64{iv.Lower.Value, iv.Upper.Value} {
		nll, _, err := e.Profile(context.Background(), m, mu)
		require.NoError(t, err)
		assert.InDelta(t, iv.Threshold, 2*(nll-res.MinNLL), 0.02, "q at %g", mu)
	}

	// the parabolic error should be in the neighbourhood of the profile interval
	poi, ok := res.Parameter("ZTT_mu")
	require.True(t, ok)
	half := (iv.Upper.Value - iv.Lower.Value) / 2
	assert.InEpsilon(t, half, poi.Error, 0.3)
	assert.InDelta(t, 1.0, res.Correlation["ZTT_mu"]["ZTT_mu"], 1e-9)
}

func TestFit_BestFitIsMaximumOfScan(t *testing.T) {
	m := compile(t, testkit.Gaussian(400, 10, 1.5), 1.2)
	e := NewEngine(testOptions(), internal.NopLogger())

	res, err := e.Fit(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, res.BestFit, 5e-3)

	require.Len(t, res.Scan, 11)
	assert.InDelta(t, 0.75, res.Scan[0].POI, 1e-12)
	assert.InDelta(t, 1.10, res.Scan[10].POI, 1e-12)
	for i, pt := range res.Scan {
		assert.True(t, pt.Converged)
		assert.GreaterOrEqual(t, pt.NLL, res.MinNLL-1e-6, "scan point %g", pt.POI)
		assert.GreaterOrEqual(t, pt.Q, 0.0)
		if i > 0 {
			assert.Greater(t, pt.POI, res.Scan[i-1].POI)
		}
	}
}

func TestFit_NuisancesProfiledAtTruth(t *testing.T) {
	m := compile(t, testkit.Gaussian(400, 10, 1.5), 1)
	res, err := NewEngine(testOptions(), internal.NopLogger()).Fit(context.Background(), m)
	require.NoError(t, err)

	for name, v := range res.Nuisances() {
		want := 0.0
		if name == likelihood.LumiName {
			want = 1
		}
		assert.InDelta(t, want, v, 1e-2, name)
	}
}

func TestFit_ConvergenceFailures(t *testing.T) {
	m := compile(t, testkit.Gaussian(400, 10, 1.5), 1.3)

	t.Run("iteration budget", func(t *testing.T) {
		opts := testOptions()
		opts.MaxIterations = 1
		_, err := NewEngine(opts, internal.NopLogger()).Fit(context.Background(), m)
		require.Error(t, err)
		assert.True(t, core.IsFitConvergenceError(err))

		var fce *core.FitConvergenceError
		require.ErrorAs(t, err, &fce)
		assert.Equal(t, "global", fce.Stage)
		assert.Contains(t, fce.Params, "ZTT_mu")
	})

	t.Run("time budget", func(t *testing.T) {
		opts := testOptions()
		opts.Timeout = time.Nanosecond
		_, err := NewEngine(opts, internal.NopLogger()).Fit(context.Background(), m)
		require.Error(t, err)
		assert.True(t, core.IsFitConvergenceError(err))
	})
}

func TestProblem_TransformRoundTrip(t *testing.T) {
	m := compile(t, testkit.Flat(50), 1)
	x := m.Init()
	x[m.POI()] = 1.7
	p := newProblem(m, x, nil)

	back := p.external(p.internal(x))
	for i := range x {
		assert.InDelta(t, x[i], back[i], 1e-6)
	}
	for _, u := range []float64{-100, -1, 0, 3, 1e3} {
		ext := p.external([]float64{u, u, u, u, u, u, u})
		poi := ext[m.POI()]
		assert.False(t, math.IsNaN(poi))
		assert.GreaterOrEqual(t, poi, 0.0)
		assert.LessOrEqual(t, poi, 2.0)
	}
}
