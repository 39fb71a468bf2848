package testkit

import (
	"context"
	"sort"
	"sync"

	"sigfit/domain/core"
	"sigfit/domain/histogram"
)

// MemoryStore is an in-memory ports.HistogramStore keyed by artifact name.
type MemoryStore struct {
	mu    sync.RWMutex
	hists map[string]histogram.Histogram
}

// NewMemoryStore creates a store preloaded with hists.
func NewMemoryStore(hists map[histogram.Key]histogram.Histogram) *MemoryStore {
	s := &MemoryStore{hists: make(map[string]histogram.Histogram, len(hists))}
	for k, h := range hists {
		s.hists[k.Name()] = h
	}
	return s
}

// Put adds or replaces a histogram.
func (s *MemoryStore) Put(key histogram.Key, h histogram.Histogram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hists[key.Name()] = h
}

// Delete removes a histogram; used to exercise missing-input paths.
func (s *MemoryStore) Delete(key histogram.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hists, key.Name())
}

// Get returns the histogram or a NotFoundError.
func (s *MemoryStore) Get(ctx context.Context, key histogram.Key) (histogram.Histogram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hists[key.Name()]
	if !ok {
		return histogram.Histogram{}, core.NewNotFoundError(key.Process, key.Variable, string(key.Region), key.Name())
	}
	return h, nil
}

// Names lists the stored artifact names in sorted order.
func (s *MemoryStore) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.hists))
	for name := range s.hists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Snapshot returns a copy of the stored histograms keyed by name.
func (s *MemoryStore) Snapshot() map[string]histogram.Histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]histogram.Histogram, len(s.hists))
	for k, v := range s.hists {
		out[k] = v
	}
	return out
}
