package ports

import (
	"context"

	"sigfit/domain/histogram"
)

// HistogramStore serves named histograms from a persisted artifact.
// Get must fail with a core.NotFoundError when the key is absent; it never
// substitutes a default histogram.
type HistogramStore interface {
	Get(ctx context.Context, key histogram.Key) (histogram.Histogram, error)
	Names(ctx context.Context) ([]string, error)
}

// HistogramWriter persists named histograms, e.g. the fit-input artifact.
type HistogramWriter interface {
	WriteHistograms(ctx context.Context, path string, hists map[string]histogram.Histogram) error
}
