package qcd

import (
	"context"
	"math/rand/v2"
	"testing"

	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/internal"
	"sigfit/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(t *testing.T, contents ...float64) histogram.Histogram {
	t.Helper()
	h, err := histogram.Uniform(len(contents), 0, float64(len(contents)), contents, nil)
	require.NoError(t, err)
	return h
}

func crKey(process string) histogram.Key {
	return histogram.Key{Process: process, Variable: "m_vis", Region: histogram.ControlRegion}
}

func defaultOptions(subtract ...string) Options {
	return Options{
		Variable:      "m_vis",
		DataProcess:   "2022G",
		Subtract:      subtract,
		ControlRegion: histogram.ControlRegion,
		ScaleFactor:   0.80,
	}
}

func TestEstimate_ClipsThenScales(t *testing.T) {
	store := testkit.NewMemoryStore(map[histogram.Key]histogram.Histogram{
		crKey("2022G"): uniform(t, 10, 20),
		crKey("W"):     uniform(t, 12, 15),
	})

	est, err := NewEstimator(store, defaultOptions("W"), internal.NopLogger()).Estimate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float64{-2, 5}, est.PreClip.Contents())
	assert.Equal(t, []int{0}, est.ClippedBins)
	assert.InDeltaSlice(t, []float64{0, 4.0}, est.Template.Contents(), 1e-12)
	assert.Equal(t, 0.80, est.ScaleFactor)
}

func TestEstimate_RecoversInjectedTemplate(t *testing.T) {
	toy := testkit.MustToy(testkit.DefaultToySpec())
	opts := defaultOptions("ZTT", "ZLL", "TT", "W")

	est, err := NewEstimator(toy.Store(), opts, internal.NopLogger()).Estimate(context.Background())
	require.NoError(t, err)

	assert.Empty(t, est.ClippedBins)
	assert.InDeltaSlice(t, toy.TrueQCD.Contents(), est.Template.Contents(), 1e-9)
}

func TestDerive_NeverNegativeAndOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	random := func() histogram.Histogram {
		c := make([]float64, 6)
		for i := range c {
			c[i] = rng.Float64() * 50
		}
		return uniform(t, c...)
	}

	for trial := 0; trial < 25; trial++ {
		data := random()
		a, b, c := random(), random(), random()

		fwd, err := Derive(data, []histogram.Histogram{a, b, c}, 0.8)
		require.NoError(t, err)
		rev, err := Derive(data, []histogram.Histogram{c, a, b}, 0.8)
		require.NoError(t, err)

		for i, v := range fwd.Template.Contents() {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.InDelta(t, v, rev.Template.Content(i), 1e-9)
		}
		assert.Equal(t, fwd.ClippedBins, rev.ClippedBins)
	}
}

func TestDerive_ErrorsAddInQuadratureAndScale(t *testing.T) {
	data, err := histogram.Uniform(1, 0, 1, []float64{100}, []float64{3})
	require.NoError(t, err)
	sim, err := histogram.Uniform(1, 0, 1, []float64{40}, []float64{4})
	require.NoError(t, err)

	est, err := Derive(data, []histogram.Histogram{sim}, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 30, est.Template.Content(0), 1e-12)
	assert.InDelta(t, 2.5, est.Template.Error(0), 1e-12)
}

func TestEstimate_MissingInputIsNotFound(t *testing.T) {
	store := testkit.NewMemoryStore(map[histogram.Key]histogram.Histogram{
		crKey("2022G"): uniform(t, 10, 20),
	})

	_, err := NewEstimator(store, defaultOptions("W"), internal.NopLogger()).Estimate(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsNotFoundError(err))
	assert.Contains(t, err.Error(), "W_m_vis_cr")
}

func TestEstimate_BinningMismatch(t *testing.T) {
	other, err := histogram.Uniform(3, 0, 2, []float64{1, 1, 1}, nil)
	require.NoError(t, err)
	store := testkit.NewMemoryStore(map[histogram.Key]histogram.Histogram{
		crKey("2022G"): uniform(t, 10, 20),
		crKey("W"):     other,
	})

	_, err = NewEstimator(store, defaultOptions("W"), internal.NopLogger()).Estimate(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsModelError(err))
}
