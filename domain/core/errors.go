package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors - centralized error definitions
var (
	ErrNotFound       = errors.New("histogram not found")
	ErrModel          = errors.New("invalid statistical model")
	ErrBinning        = fmt.Errorf("%w: histograms are not co-binned", ErrModel)
	ErrFitConvergence = errors.New("fit did not converge")
)

// NotFoundError identifies a histogram that a stage required but the store lacks.
type NotFoundError struct {
	Process  string
	Variable string
	Region   string
	Name     string
}

func (e *NotFoundError) Error() string {
	region := e.Region
	if region == "" {
		region = "signal"
	}
	return fmt.Sprintf("%v: process=%s variable=%s region=%s (key %q)", ErrNotFound, e.Process, e.Variable, region, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ModelError reports a structural inconsistency found while assembling a model.
type ModelError struct {
	Component string
	Reason    string
	Err       error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %s", e.Err, e.Component, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrModel, e.Component, e.Reason)
}

func (e *ModelError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrModel
}

// FitConvergenceError carries the last known parameter state for diagnosis.
type FitConvergenceError struct {
	Stage  string
	Status string
	Params map[string]float64
	Err    error
}

func (e *FitConvergenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v during %s", ErrFitConvergence, e.Stage)
	if e.Status != "" {
		fmt.Fprintf(&b, " (status %s)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Params) > 0 {
		names := make([]string, 0, len(e.Params))
		for name := range e.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("; last parameters:")
		for _, name := range names {
			fmt.Fprintf(&b, " %s=%.6g", name, e.Params[name])
		}
	}
	return b.String()
}

func (e *FitConvergenceError) Unwrap() error { return ErrFitConvergence }

// Error constructors with context
func NewNotFoundError(process, variable, region, name string) error {
	return &NotFoundError{Process: process, Variable: variable, Region: region, Name: name}
}

func NewModelError(component, reason string) error {
	return &ModelError{Component: component, Reason: reason}
}

func NewBinningError(component, reason string) error {
	return &ModelError{Component: component, Reason: reason, Err: ErrBinning}
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsModelError(err error) bool {
	return errors.Is(err, ErrModel)
}

func IsFitConvergenceError(err error) bool {
	return errors.Is(err, ErrFitConvergence)
}
