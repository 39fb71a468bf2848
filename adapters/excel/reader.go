package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigfit/domain/histogram"
	"sigfit/internal"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading histogram sheets from Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
	logger   *internal.Logger
}

// NewDataReader creates a reader that handles both Excel and CSV files
func NewDataReader(cfg Config, logger *internal.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(cfg.FilePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	sheet := cfg.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &DataReader{filePath: cfg.FilePath, fileType: fileType, sheet: sheet, logger: logger}
}

// ReadData reads the raw sheet rows
func (r *DataReader) ReadData() (*SheetData, error) {
	r.logger.Debug("[DataReader] reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); err != nil {
		return nil, fmt.Errorf("%s file not found: %s: %w", strings.ToUpper(r.fileType), r.filePath, err)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

func (r *DataReader) readExcelData() (*SheetData, error) {
	start := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", r.sheet, err)
	}
	r.logger.Debug("[DataReader] sheet %s read in %.2fms (%d rows)", r.sheet, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %s must have a header row and at least one bin row", r.sheet)
	}
	return r.processRows(rows)
}

func (r *DataReader) readCSVData() (*SheetData, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have a header row and at least one bin row")
	}
	return r.processRows(rows)
}

// processRows converts raw string rows into header-keyed rows
func (r *DataReader) processRows(rows [][]string) (*SheetData, error) {
	headers := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(header))
	}
	for _, want := range Header {
		if !slices.Contains(headers, want) {
			return nil, fmt.Errorf("%s header is missing column %q", r.filePath, want)
		}
	}

	data := make([]RawRowData, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rowData := make(RawRowData, len(headers))
		empty := true
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
				if rowData[headers[j]] != "" {
					empty = false
				}
			}
		}
		if !empty {
			data = append(data, rowData)
		}
	}
	return &SheetData{Headers: headers, Rows: data}, nil
}

// Histograms groups the rows by name and assembles one histogram per name.
// Bins must be contiguous: each bin's low edge equals the previous high edge.
func (r *DataReader) Histograms() (map[string]histogram.Histogram, error) {
	data, err := r.ReadData()
	if err != nil {
		return nil, err
	}

	type bin struct {
		index                   int
		low, high, content, err float64
	}
	grouped := make(map[string][]bin)
	for i, row := range data.Rows {
		line := i + 2
		name := row["name"]
		if name == "" {
			return nil, fmt.Errorf("row %d: empty histogram name", line)
		}
		idx, err := strconv.Atoi(row["bin"])
		if err != nil {
			return nil, fmt.Errorf("row %d: bin index %q: %w", line, row["bin"], err)
		}
		var b bin
		b.index = idx
		for col, dst := range map[string]*float64{"low": &b.low, "high": &b.high, "content": &b.content, "error": &b.err} {
			if *dst, err = strconv.ParseFloat(row[col], 64); err != nil {
				return nil, fmt.Errorf("row %d: %s %q: %w", line, col, row[col], err)
			}
		}
		grouped[name] = append(grouped[name], b)
	}

	out := make(map[string]histogram.Histogram, len(grouped))
	for name, bins := range grouped {
		sort.Slice(bins, func(i, j int) bool { return bins[i].index < bins[j].index })
		edges := make([]float64, 0, len(bins)+1)
		contents := make([]float64, len(bins))
		errs := make([]float64, len(bins))
		for i, b := range bins {
			if b.index != i {
				return nil, fmt.Errorf("histogram %s: expected bin %d, found %d", name, i, b.index)
			}
			if i == 0 {
				edges = append(edges, b.low)
			} else if b.low != edges[i] {
				return nil, fmt.Errorf("histogram %s: bin %d low edge %g does not match previous high edge %g", name, i, b.low, edges[i])
			}
			edges = append(edges, b.high)
			contents[i] = b.content
			errs[i] = b.err
		}
		h, err := histogram.New(edges, contents, errs)
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", name, err)
		}
		out[name] = h
	}

	r.logger.Info("[DataReader] loaded %d histograms from %s", len(out), r.filePath)
	return out, nil
}
