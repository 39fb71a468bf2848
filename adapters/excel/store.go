package excel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/internal"

	"github.com/xuri/excelize/v2"
)

// Store implements ports.HistogramStore over a workbook or CSV export.
// The file is read once on first access.
type Store struct {
	reader *DataReader

	once  sync.Once
	hists map[string]histogram.Histogram
	err   error
}

// NewStore creates a store reading cfg.FilePath
func NewStore(cfg Config, logger *internal.Logger) *Store {
	return &Store{reader: NewDataReader(cfg, logger)}
}

func (s *Store) load() (map[string]histogram.Histogram, error) {
	s.once.Do(func() {
		s.hists, s.err = s.reader.Histograms()
	})
	return s.hists, s.err
}

// Get returns the histogram stored under key.Name()
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

// Names lists every histogram in the file, sorted
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

// Writer implements ports.HistogramWriter producing a single-sheet workbook.
type Writer struct {
	Sheet string
}

// WriteHistograms writes one row per bin, histograms in name order.
func (w Writer) WriteHistograms(ctx context.Context, path string, hists map[string]histogram.Histogram) error {
	sheet := w.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	names := make([]string, 0, len(hists))
	for name := range hists {
		names = append(names, name)
	}
	sort.Strings(names)

	row := 2
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := hists[name]
		for i := 0; i < h.NBins(); i++ {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			values := []interface{}{name, i, h.BinLow(i), h.BinHigh(i), h.Content(i), h.Error(i)}
			if err := sw.SetRow(cell, values); err != nil {
				return fmt.Errorf("write %s bin %d: %w", name, i, err)
			}
			row++
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush workbook: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}
