package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

func TestParseRunID(t *testing.T) {
	tests := []struct {
		input    string
		expected RunID
		hasError bool
	}{
		{"0192f1c2-run", RunID("0192f1c2-run"), false},
		{"  padded  ", RunID("padded"), false},
		{"", "", true},
		{"   ", "", true},
		{"../etc", "", true},
		{"a/b", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRunID(tt.input)
		if tt.hasError {
			if err == nil {
				t.Errorf("ParseRunID(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRunID(%q) unexpected error: %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("ParseRunID(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestComputeSeriesHash_OrderIndependent(t *testing.T) {
	a := map[string][]float64{"ZTT": {1, 2}, "QCD": {0, 4}}
	b := map[string][]float64{"QCD": {0, 4}, "ZTT": {1, 2}}
	if ComputeSeriesHash(a) != ComputeSeriesHash(b) {
		t.Error("hash should not depend on map iteration order")
	}

	c := map[string][]float64{"ZTT": {1, 2}, "QCD": {0, 4.000001}}
	if ComputeSeriesHash(a) == ComputeSeriesHash(c) {
		t.Error("hash should change when a bin changes")
	}
	if len(ComputeSeriesHash(a).Short()) != 12 {
		t.Errorf("Short() length = %d, want 12", len(ComputeSeriesHash(a).Short()))
	}
}

func TestTypedErrors_UnwrapToSentinels(t *testing.T) {
	nf := NewNotFoundError("TT", "m_vis", "cr", "TT_m_vis_cr")
	if !IsNotFoundError(nf) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	var target *NotFoundError
	if !errors.As(fmt.Errorf("load: %w", nf), &target) || target.Process != "TT" {
		t.Error("wrapped NotFoundError should be recoverable with errors.As")
	}

	be := NewBinningError("channel", "bin 3 edge differs")
	if !IsModelError(be) || !errors.Is(be, ErrBinning) {
		t.Error("binning error should match both ErrBinning and ErrModel")
	}
	if IsNotFoundError(be) {
		t.Error("binning error must not match ErrNotFound")
	}

	fe := &FitConvergenceError{Stage: "global", Status: "Failure", Params: map[string]float64{"mu": 1.2, "alpha": -0.3}}
	if !IsFitConvergenceError(fe) {
		t.Error("FitConvergenceError should match ErrFitConvergence")
	}
	msg := fe.Error()
	if want := "alpha=-0.3 mu=1.2"; !strings.Contains(msg, want) {
		t.Errorf("message %q should list sorted params %q", msg, want)
	}
}
