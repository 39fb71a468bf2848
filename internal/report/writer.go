package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sigfit/domain/core"
	"sigfit/internal"
	"sigfit/internal/errors"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Artifact file names inside a run directory.
const (
	SummaryFile  = "result.json"
	ScanFile     = "scan.csv"
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
)

// Paths lists the files written for one run.
type Paths struct {
	Dir      string
	Summary  string
	Scan     string
	Markdown string
	HTML     string
}

// Reporter writes a Summary to a directory.
type Reporter struct {
	logger *internal.Logger
}

// NewReporter creates a reporter.
func NewReporter(logger *internal.Logger) *Reporter {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Reporter{logger: logger}
}

// Write produces result.json, scan.csv, report.md and report.html under dir.
func (r *Reporter) Write(dir string, s *Summary) (*Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.IOError("create report directory", err)
	}
	p := &Paths{
		Dir:      dir,
		Summary:  filepath.Join(dir, SummaryFile),
		Scan:     filepath.Join(dir, ScanFile),
		Markdown: filepath.Join(dir, MarkdownFile),
		HTML:     filepath.Join(dir, HTMLFile),
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode summary")
	}
	if err := os.WriteFile(p.Summary, append(data, '\n'), 0o644); err != nil {
		return nil, errors.IOError("write summary", err)
	}

	scan, err := ScanCSV(s)
	if err != nil {
		return nil, errors.Wrap(err, "encode scan")
	}
	if err := os.WriteFile(p.Scan, scan, 0o644); err != nil {
		return nil, errors.IOError("write scan", err)
	}

	md := Markdown(s)
	if err := os.WriteFile(p.Markdown, md, 0o644); err != nil {
		return nil, errors.IOError("write markdown report", err)
	}
	if err := os.WriteFile(p.HTML, HTML(md, s.Label), 0o644); err != nil {
		return nil, errors.IOError("write html report", err)
	}

	r.logger.Info("%s", s.Label)
	r.logger.Info("wrote report to %s", dir)
	return p, nil
}

// ReadSummary loads a result.json.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &s, nil
}

// ScanCSV renders the profile scan as poi,nll,q,converged rows.
func ScanCSV(s *Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{s.POI, "nll", "q", "converged"}); err != nil {
		return nil, err
	}
	for _, pt := range s.Scan {
		row := []string{
			strconv.FormatFloat(pt.POI, 'g', -1, 64),
			strconv.FormatFloat(pt.NLL, 'g', -1, 64),
			strconv.FormatFloat(pt.Q, 'g', -1, 64),
			strconv.FormatBool(pt.Converged),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Markdown renders the human-readable report.
func Markdown(s *Summary) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Label)
	fmt.Fprintf(&b, "Run `%s` on `%s`, inputs `%s`.\n\n", s.RunID, s.Variable, core.Hash(s.InputFingerprint).Short())

	b.WriteString("## Result\n\n")
	b.WriteString("| Quantity | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Best fit %s | %.4f |\n", s.POI, s.BestFit)
	fmt.Fprintf(&b, "| %.0f%% interval | [%s, %s] |\n", 100*s.Interval.ConfidenceLevel,
		bound(s.Interval.Lower.Value, s.Interval.Lower.Open), bound(s.Interval.Upper.Value, s.Interval.Upper.Open))
	fmt.Fprintf(&b, "| Uncertainty | +%.4f / -%.4f |\n", s.ErrorUp, s.ErrorDown)
	fmt.Fprintf(&b, "| Threshold q | %.4f |\n", s.Interval.Threshold)
	fmt.Fprintf(&b, "| Min NLL | %.6g |\n", s.MinNLL)
	fmt.Fprintf(&b, "| Status | %s (%d evaluations, %.2fs) |\n\n", s.Status, s.Evaluations, s.DurationSeconds)

	if len(s.Yields) > 0 {
		b.WriteString("## Yields\n\n")
		b.WriteString("| Process | Pre-fit | Post-fit | Peak bin |\n|---|---:|---:|---:|\n")
		var pre, post float64
		for _, y := range s.Yields {
			fmt.Fprintf(&b, "| %s | %.1f | %.1f | %d |\n", y.Process, y.Prefit, y.Postfit, y.PeakBin)
			pre += y.Prefit
			post += y.Postfit
		}
		fmt.Fprintf(&b, "| Total | %.1f | %.1f | |\n", pre, post)
		fmt.Fprintf(&b, "| Data | %.0f | %.0f | |\n\n", s.DataYield, s.DataYield)
	}

	b.WriteString("## Parameters\n\n")
	b.WriteString("| Parameter | Value | Error | Range |\n|---|---:|---:|---|\n")
	for _, p := range s.Parameters {
		note := ""
		switch {
		case p.Constant:
			note = " (constant)"
		case p.AtLimit:
			note = " (at limit)"
		}
		fmt.Fprintf(&b, "| %s%s | %.4f | %.4f | [%g, %g] |\n", p.Name, note, p.Value, p.Error, p.Low, p.High)
	}

	if len(s.Scan) > 0 {
		b.WriteString("\n## Profile scan\n\n")
		fmt.Fprintf(&b, "| %s | q |\n|---:|---:|\n", s.POI)
		for _, pt := range s.Scan {
			mark := ""
			if !pt.Converged {
				mark = " *"
			}
			fmt.Fprintf(&b, "| %.4f | %.4f%s |\n", pt.POI, pt.Q, mark)
		}
	}
	return []byte(b.String())
}

// HTML renders markdown as a standalone page.
func HTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	})
	return markdown.ToHTML(md, p, renderer)
}

func bound(v float64, open bool) string {
	if open {
		return fmt.Sprintf("%.4f (open)", v)
	}
	return fmt.Sprintf("%.4f", v)
}
