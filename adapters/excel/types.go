package excel

// Header is the column layout of a histogram sheet, one row per bin.
var Header = []string{"name", "bin", "low", "high", "content", "error"}

// RawRowData represents a row of raw sheet data as header-keyed strings
type RawRowData map[string]string

// SheetData represents the complete sheet
type SheetData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}
