package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/forecast"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

// Detail strings surfaced on alert records.
const (
	DetailNoAlert             = "No alert"
	DetailMissingData         = "Missing data"
	DetailDecreasing          = "Decreasing tendency"
	DetailIncreasing          = "Increasing tendency"
	DetailConstraintViolated  = "Constraint violated"
	DetailForecastUnavailable = "Forecast unavailable"
)

// missingSentinel is how an undefined actual is recorded; the formatting
// policy later renders it as "No data".
const missingSentinel = -1.0

// DecisionInput carries everything the state machine needs for one metric.
type DecisionInput struct {
	Params        models.ModelParams
	Integer       bool
	Actual        float64
	ActualMissing bool
	Result        *forecast.Result
	EvalDate      time.Time
	LimSupAlert   bool
	Hooks         *HookRegistry
	Decided       models.AlertsTable
}

// Decide evaluates the per-metric alert state machine and returns the
// terminal record. The only error case is a numeric forecast that does not
// cover the evaluation date, which callers degrade rather than abort on.
func Decide(in DecisionInput) (models.AlertRecord, error) {
	rec := models.AlertRecord{
		Metric:     DisplayName(in.Params.KPI),
		Integer:    in.Integer,
		Constraint: in.Params.Method == models.MethodConstraint,
		Actual:     in.Actual,
	}

	if in.Params.Method.Numeric() {
		if in.Result == nil {
			return rec, fmt.Errorf("decide %s: no forecast result", in.Params.KPI)
		}
		point, ok := in.Result.At(in.EvalDate)
		if !ok {
			return rec, fmt.Errorf("decide %s: forecast does not cover %s", in.Params.KPI, in.EvalDate.Format("2006-01-02"))
		}

		pred, lower, upper := point.Value, point.Lower, point.Upper
		if in.Params.IsRelated {
			pred, lower, upper = in.Hooks.Apply(in.Decided, rec.Metric, pred, lower, upper)
		}

		// Clamp order is fixed: prediction floor, zero-prediction lower
		// bound, then the independent non-negativity clamps.
		if pred < 0 {
			pred = 0
		}
		if pred == 0 {
			lower = 0
		}
		if lower < 0 {
			lower = 0
		}
		if upper < 0 {
			upper = 0
		}

		switch {
		case in.ActualMissing:
			rec.State = models.StateMissingData
			rec.Detail = DetailMissingData
			rec.Actual = missingSentinel
			rec.ActualMissing = true
		case in.Actual < lower:
			rec.State = models.StateAlert
			rec.Detail = DetailDecreasing
		case in.Actual > upper && in.LimSupAlert:
			rec.State = models.StateAlert
			rec.Detail = DetailIncreasing
		default:
			rec.State = models.StateNoAlert
			rec.Detail = DetailNoAlert
		}

		rec.Lower = lower
		rec.Upper = upper
		if in.Integer {
			rec.Prediction = math.Round(pred)
			if !rec.ActualMissing {
				rec.Actual = math.Round(rec.Actual)
			}
		} else {
			rec.Prediction = round3(pred)
			if !rec.ActualMissing {
				rec.Actual = round3(rec.Actual)
			}
		}
	} else {
		switch {
		case in.ActualMissing:
			rec.State = models.StateMissingData
			rec.Detail = DetailMissingData
			rec.Actual = missingSentinel
			rec.ActualMissing = true
		case in.Actual == 1:
			rec.State = models.StateAlert
			rec.Detail = DetailConstraintViolated
		default:
			rec.State = models.StateNoAlert
			rec.Detail = DetailNoAlert
		}
	}

	// A muted metric still produces its record but never surfaces as
	// actionable; missing data stays visible regardless.
	if !in.Params.SendAlert && !rec.ActualMissing {
		rec.State = models.StateDisabled
	}

	return rec, nil
}

// DisplayName renders a KPI identifier for reports and tables.
func DisplayName(kpi string) string {
	return strings.ReplaceAll(kpi, "_", " ")
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
