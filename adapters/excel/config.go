package excel

// Config locates a histogram workbook or CSV export
type Config struct {
	FilePath string `json:"file_path"`
	Sheet    string `json:"sheet"`
}

// DefaultSheet is the sheet histograms are read from and written to.
const DefaultSheet = "Histograms"

// DefaultConfig returns a config reading path from the default sheet
func DefaultConfig(path string) Config {
	return Config{FilePath: path, Sheet: DefaultSheet}
}
