package histogram

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"sigfit/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustUniform(t *testing.T, contents []float64) Histogram {
	t.Helper()
	h, err := Uniform(len(contents), 20, 140, contents, nil)
	require.NoError(t, err)
	return h
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		edges    []float64
		contents []float64
		errs     []float64
	}{
		{"too few edges", []float64{1}, []float64{}, nil},
		{"content count mismatch", []float64{0, 1, 2}, []float64{1}, nil},
		{"edges not increasing", []float64{0, 1, 1}, []float64{1, 2}, nil},
		{"edges decreasing", []float64{0, 2, 1}, []float64{1, 2}, nil},
		{"error count mismatch", []float64{0, 1, 2}, []float64{1, 2}, []float64{1}},
		{"negative error", []float64{0, 1, 2}, []float64{1, 2}, []float64{1, -1}},
		{"nan content", []float64{0, 1}, []float64{math.NaN()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.edges, tt.contents, tt.errs)
			require.Error(t, err)
			assert.True(t, core.IsModelError(err))
		})
	}
}

func TestNew_DefaultsPoissonErrors(t *testing.T) {
	h, err := New([]float64{0, 1, 2}, []float64{4, 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, h.Errors())
	assert.InDelta(t, 13, h.Integral(), 1e-12)
	assert.InDelta(t, math.Sqrt(13), h.IntegralError(), 1e-12)
}

func TestHistogram_IsImmutable(t *testing.T) {
	contents := []float64{1, 2, 3}
	h := mustUniform(t, contents)
	contents[0] = 100
	assert.Equal(t, 1.0, h.Content(0), "constructor must copy input")

	got := h.Contents()
	got[1] = 100
	assert.Equal(t, 2.0, h.Content(1), "accessor must return a copy")

	_ = h.Scale(3)
	assert.Equal(t, 3.0, h.Content(2), "Scale must not modify receiver")
}

func TestSubtractAddRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(20)
		a := make([]float64, n)
		b := make([]float64, n)
		for i := range a {
			a[i] = rng.Float64()*1000 - 200
			b[i] = rng.Float64()*1000 - 200
		}
		ha := mustUniform(t, a)
		hb := mustUniform(t, b)

		diff, err := ha.Subtract(hb)
		require.NoError(t, err)
		back, err := diff.Add(hb)
		require.NoError(t, err)

		assert.InDeltaSlice(t, ha.Contents(), back.Contents(), 1e-9)
	}
}

func TestCombine_RequiresCoBinning(t *testing.T) {
	a, err := Uniform(3, 0, 3, []float64{1, 1, 1}, nil)
	require.NoError(t, err)
	b, err := Uniform(3, 0, 4, []float64{1, 1, 1}, nil)
	require.NoError(t, err)
	c, err := Uniform(2, 0, 3, []float64{1, 1}, nil)
	require.NoError(t, err)

	assert.True(t, a.CoBinned(a))
	assert.False(t, a.CoBinned(b))
	assert.False(t, a.CoBinned(c))

	// edges that differ only by rounding still combine
	nudged, err := New([]float64{0, 1 + 1e-12, 2, 3 - 1e-12}, []float64{1, 1, 1}, nil)
	require.NoError(t, err)
	assert.True(t, a.CoBinned(nudged))
	sum, err := a.Add(nudged)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2}, sum.Contents())

	_, err = a.Add(b)
	assert.ErrorIs(t, err, core.ErrBinning)
	_, err = a.Subtract(c)
	assert.ErrorIs(t, err, core.ErrBinning)
}

func TestScale_InverseRestores(t *testing.T) {
	h := mustUniform(t, []float64{0, 3.5, 12, 7.25})
	for _, k := range []float64{0.8, 2, 1e-3, 37} {
		back := h.Scale(k).Scale(1 / k)
		assert.InDeltaSlice(t, h.Contents(), back.Contents(), 1e-12)
		assert.InDeltaSlice(t, h.Errors(), back.Errors(), 1e-12)
	}
}

func TestClipNegative(t *testing.T) {
	h, err := New([]float64{0, 1, 2, 3}, []float64{-2, 5, -0.1}, []float64{1, 1, 1})
	require.NoError(t, err)

	clipped, bins := h.ClipNegative()
	assert.Equal(t, []float64{0, 5, 0}, clipped.Contents())
	assert.Equal(t, []int{0, 2}, bins)
	assert.Equal(t, []float64{1, 1, 1}, clipped.Errors())
	assert.GreaterOrEqual(t, clipped.MinContent(), 0.0)
}

func TestKey_NameAndParse(t *testing.T) {
	sr := Key{Process: "ZTT", Variable: "m_vis"}
	cr := Key{Process: "ZTT", Variable: "m_vis", Region: ControlRegion}
	assert.Equal(t, "ZTT_m_vis", sr.Name())
	assert.Equal(t, "ZTT_m_vis_cr", cr.Name())

	got, ok := ParseKey("2022G_m_vis_cr", "m_vis", ControlRegion)
	require.True(t, ok)
	assert.Equal(t, Key{Process: "2022G", Variable: "m_vis", Region: ControlRegion}, got)

	got, ok = ParseKey("W_m_vis", "m_vis", ControlRegion)
	require.True(t, ok)
	assert.Equal(t, Key{Process: "W", Variable: "m_vis"}, got)

	_, ok = ParseKey("W_pt_1", "m_vis", ControlRegion)
	assert.False(t, ok)
}

func TestJSONRoundTripValidates(t *testing.T) {
	h := mustUniform(t, []float64{1, 2, 3})
	data, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded Histogram
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, h.CoBinned(decoded))
	assert.Equal(t, h.Contents(), decoded.Contents())

	var bad Histogram
	err = json.Unmarshal([]byte(`{"edges":[0,1],"contents":[1,2]}`), &bad)
	assert.True(t, core.IsModelError(err))
}
