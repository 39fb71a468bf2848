package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/internal"
)

// Store implements ports.HistogramStore over a JSON object mapping artifact
// names to {edges, contents, errors}. The file is decoded once on first access.
type Store struct {
	path   string
	logger *internal.Logger

	once  sync.Once
	hists map[string]histogram.Histogram
	err   error
}

// NewStore creates a store reading path.
func NewStore(path string, logger *internal.Logger) *Store {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) load() (map[string]histogram.Histogram, error) {
	s.once.Do(func() {
		f, err := os.Open(s.path)
		if err != nil {
			s.err = fmt.Errorf("open histogram artifact: %w", err)
			return
		}
		defer f.Close()

		hists := make(map[string]histogram.Histogram)
		if err := json.NewDecoder(f).Decode(&hists); err != nil {
			s.err = fmt.Errorf("decode histogram artifact %s: %w", s.path, err)
			return
		}
		s.hists = hists
		s.logger.Info("[jsonstore] loaded %d histograms from %s", len(hists), s.path)
	})
	return s.hists, s.err
}

// Get returns the histogram stored under key.Name().
func (s *Store) Get(ctx context.Context, key histogram.Key) (histogram.Histogram, error) {
	hists, err := s.load()
	if err != nil {
		return histogram.Histogram{}, err
	}
	h, ok := hists[key.Name()]
	if !ok {
		return histogram.Histogram{}, core.NewNotFoundError(key.Process, key.Variable, string(key.Region), key.Name())
	}
	return h, nil
}

// Lookup returns the histogram stored under an arbitrary artifact name, such as
// the bare process names of a fit-input artifact.
func (s *Store) Lookup(ctx context.Context, name string) (histogram.Histogram, bool, error) {
	hists, err := s.load()
	if err != nil {
		return histogram.Histogram{}, false, err
	}
	h, ok := hists[name]
	return h, ok, nil
}

// Names lists every histogram in the artifact, sorted.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	hists, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(hists))
	for name := range hists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Writer implements ports.HistogramWriter. Output is indented with sorted keys
// so identical inputs produce identical files.
type Writer struct{}

// WriteHistograms writes hists to path through a temporary file and rename.
func (Writer) WriteHistograms(ctx context.Context, path string, hists map[string]histogram.Histogram) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(hists, "", "  ")
	if err != nil {
		return fmt.Errorf("encode histograms: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".histograms-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
