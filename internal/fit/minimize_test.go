package fit

import (
	"context"
	"testing"

	"sigfit/domain/core"
	"sigfit/internal"
	"sigfit/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"
)

func TestContextRecorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var rec optimize.Recorder = contextRecorder{ctx: ctx}

	require.NoError(t, rec.Init())
	require.NoError(t, rec.Record(&optimize.Location{}, optimize.MajorIteration, &optimize.Stats{}))

	cancel()
	assert.ErrorIs(t, rec.Init(), context.Canceled)
	assert.ErrorIs(t, rec.Record(&optimize.Location{}, optimize.MajorIteration, &optimize.Stats{}), context.Canceled)
}

func TestFit_CancelledContext(t *testing.T) {
	m := compile(t, testkit.Gaussian(400, 10, 1.5), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(testOptions(), internal.NopLogger()).Fit(ctx, m)
	require.Error(t, err)
	assert.True(t, core.IsFitConvergenceError(err))
}
