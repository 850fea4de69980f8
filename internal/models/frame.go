// Package models defines the shared data shapes of the detection pipeline:
// the date-by-metric frame, per-metric model parameters, and the alert and
// forecast tables a run produces.
package models

import (
	"math"
	"time"
)

// Missing returns the sentinel used for an absent observation.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether a value is the absent-observation sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Frame is a dense date-by-metric table. Dates are consecutive calendar days
// oldest first; each metric column has exactly len(Dates) values, with
// Missing marking holes.
type Frame struct {
	Dates   []time.Time
	Metrics []string
	Values  map[string][]float64
	Integer map[string]bool
}

// NewFrame allocates a frame over the given date spine with every metric
// column pre-filled as missing.
func NewFrame(dates []time.Time, metrics []string) *Frame {
	f := &Frame{
		Dates:   dates,
		Metrics: append([]string(nil), metrics...),
		Values:  make(map[string][]float64, len(metrics)),
		Integer: make(map[string]bool, len(metrics)),
	}
	for _, m := range f.Metrics {
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = Missing()
		}
		f.Values[m] = col
	}
	return f
}

// Len returns the number of rows (dates).
func (f *Frame) Len() int { return len(f.Dates) }

// Column returns the backing slice for a metric. Mutations are visible to
// the frame.
func (f *Frame) Column(metric string) []float64 { return f.Values[metric] }

// IsInteger reports whether a metric is integer-typed.
func (f *Frame) IsInteger(metric string) bool { return f.Integer[metric] }

// AllMissing reports whether a metric column holds no observation at all.
func (f *Frame) AllMissing(metric string) bool {
	for _, v := range f.Values[metric] {
		if !IsMissing(v) {
			return false
		}
	}
	return true
}

// ActualRow holds the evaluation date's observed values by metric. A metric
// absent from the map, or mapped to Missing, had no observation that day.
type ActualRow map[string]float64

// SplitActual removes the last row from the frame and returns the shortened
// history together with that row's observations.
func (f *Frame) SplitActual() (*Frame, ActualRow) {
	n := f.Len()
	if n == 0 {
		return f, ActualRow{}
	}
	actuals := make(ActualRow, len(f.Metrics))
	hist := &Frame{
		Dates:   f.Dates[:n-1],
		Metrics: f.Metrics,
		Values:  make(map[string][]float64, len(f.Metrics)),
		Integer: f.Integer,
	}
	for _, m := range f.Metrics {
		col := f.Values[m]
		actuals[m] = col[n-1]
		hist.Values[m] = col[:n-1]
	}
	return hist, actuals
}

// InferIntegerColumns marks each metric integer-typed when every observed
// value is a whole number. Explicit overrides win over inference.
func (f *Frame) InferIntegerColumns(overrides map[string]bool) {
	for _, m := range f.Metrics {
		if forced, ok := overrides[m]; ok {
			f.Integer[m] = forced
			continue
		}
		integer := true
		for _, v := range f.Values[m] {
			if IsMissing(v) {
				continue
			}
			if v != math.Trunc(v) {
				integer = false
				break
			}
		}
		f.Integer[m] = integer
	}
}
