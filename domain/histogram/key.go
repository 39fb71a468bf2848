package histogram

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Region tags a selection. The empty region is the signal region.
type Region string

const (
	SignalRegion  Region = ""
	ControlRegion Region = "cr"
)

func (r Region) String() string {
	if r == SignalRegion {
		return "signal"
	}
	return string(r)
}

// Key addresses one histogram in a persisted artifact.
type Key struct {
	Process  string
	Variable string
	Region   Region
}

// Name renders the artifact name: {process}_{variable} or {process}_{variable}_{region}.
func (k Key) Name() string {
	if k.Region == SignalRegion {
		return fmt.Sprintf("%s_%s", k.Process, k.Variable)
	}
	return fmt.Sprintf("%s_%s_%s", k.Process, k.Variable, k.Region)
}

func (k Key) String() string { return k.Name() }

// ParseKey reverses Name for a known variable. Process names may contain
// underscores; the variable must be supplied since it may too.
func ParseKey(name, variable string, regions ...Region) (Key, bool) {
	for _, r := range regions {
		if r == SignalRegion {
			continue
		}
		suffix := "_" + variable + "_" + string(r)
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return Key{Process: strings.TrimSuffix(name, suffix), Variable: variable, Region: r}, true
		}
	}
	suffix := "_" + variable
	if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
		return Key{Process: strings.TrimSuffix(name, suffix), Variable: variable}, true
	}
	return Key{}, false
}

type wireHistogram struct {
	Edges    []float64 `json:"edges"`
	Contents []float64 `json:"contents"`
	Errors   []float64 `json:"errors,omitempty"`
}

// MarshalJSON encodes edges, contents and errors.
func (h Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireHistogram{Edges: h.edges, Contents: h.contents, Errors: h.errors})
}

// UnmarshalJSON decodes and validates a histogram.
func (h *Histogram) UnmarshalJSON(data []byte) error {
	var w wireHistogram
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := New(w.Edges, w.Contents, w.Errors)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
