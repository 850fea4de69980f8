// Package forecast provides the pluggable per-metric forecasting backends:
// a seasonal-decomposition model, an order-searching autoregressive model,
// and the fixed-constraint check that carries no numeric forecast.
package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

// seasonalPeriod is the weekly cycle every numeric backend models explicitly.
const seasonalPeriod = 7

// TimeSeries is a cleaned single-metric history: consecutive calendar days
// with their values, oldest first.
type TimeSeries struct {
	Dates  []time.Time
	Values []float64
}

// Backend produces a Result for one metric. Implementations must honour
// context cancellation between fitting phases.
type Backend interface {
	Forecast(ctx context.Context, hist TimeSeries, evalDate time.Time) (*Result, error)
}

// New selects the backend variant for the metric's configured method.
func New(params models.ModelParams) (Backend, error) {
	switch params.Method {
	case models.MethodSeasonal:
		return &seasonalBackend{params: params}, nil
	case models.MethodAutoregressive:
		return &autoregressiveBackend{}, nil
	case models.MethodConstraint:
		return constraintBackend{}, nil
	}
	return nil, fmt.Errorf("forecast: unknown method %q for %s", params.Method, params.KPI)
}

// Point is one dated prediction with its confidence band.
type Point struct {
	Date  time.Time
	Value float64
	Lower float64
	Upper float64
}

// Result is a date-indexed forecast covering the fit start through the end of
// the evaluation date's month. Lookups are O(1) on the day offset.
type Result struct {
	Constraint bool

	start  time.Time
	points []Point
}

// NewResult builds a date-indexed result whose first point falls on start.
func NewResult(start time.Time, points []Point) *Result {
	return &Result{start: utils.Day(start), points: points}
}

// ConstraintResult returns the sentinel result for the constraint method.
func ConstraintResult() *Result {
	return &Result{Constraint: true}
}

// At returns the point for a calendar day, and whether the day is in range.
func (r *Result) At(date time.Time) (Point, bool) {
	if r.Constraint || len(r.points) == 0 {
		return Point{}, false
	}
	idx := int(utils.Day(date).Sub(r.start).Hours() / 24)
	if idx < 0 || idx >= len(r.points) {
		return Point{}, false
	}
	return r.points[idx], true
}

// From returns all points dated at or after the given day, date-ascending.
func (r *Result) From(date time.Time) []Point {
	if r.Constraint {
		return nil
	}
	day := utils.Day(date)
	for i, p := range r.points {
		if !p.Date.Before(day) {
			return r.points[i:]
		}
	}
	return nil
}

// Len returns the number of forecast points.
func (r *Result) Len() int { return len(r.points) }
