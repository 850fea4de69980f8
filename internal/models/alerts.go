package models

import "time"

// AlertState is the terminal verdict of the per-metric decision.
type AlertState int

const (
	StateNoAlert AlertState = iota
	StateAlert
	StateMissingData
	StateDisabled
)

func (s AlertState) String() string {
	switch s {
	case StateNoAlert:
		return "no_alert"
	case StateAlert:
		return "alert"
	case StateMissingData:
		return "missing_data"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// AlertRecord is one metric's evaluated row: the numeric verdict fields plus
// the rendered text columns the formatting pass fills in.
type AlertRecord struct {
	Metric        string
	State         AlertState
	Prediction    float64
	Actual        float64
	ActualMissing bool
	Lower         float64
	Upper         float64
	Integer       bool
	Constraint    bool
	Detail        string

	PredictionText string
	ActualText     string
}

// AlertsTable holds every metric's record for one run, in metric order.
type AlertsTable []AlertRecord

// Alerts returns only the records in the alert state.
func (t AlertsTable) Alerts() AlertsTable {
	out := make(AlertsTable, 0, len(t))
	for _, r := range t {
		if r.State == StateAlert {
			out = append(out, r)
		}
	}
	return out
}

// ForecastRow is one forward-looking prediction for the future table.
type ForecastRow struct {
	Date       time.Time
	Metric     string
	Prediction float64
}

// ForecastTable lists forward predictions metric-major, dates ascending.
type ForecastTable []ForecastRow

// RunResult is the full output of one detection run.
type RunResult struct {
	EvalDate    time.Time
	Alerts      AlertsTable
	Forecasts   ForecastTable
	GeneratedAt time.Time
}
