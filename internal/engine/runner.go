// Package engine orchestrates a detection run: imputation, per-metric
// forecasting, the alert decision per metric, and assembly of the alerts and
// future-prediction tables.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/forecast"
	"github.com/kpiwatch/kpiwatch-engine/internal/format"
	"github.com/kpiwatch/kpiwatch-engine/internal/imputer"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

// BackendFactory builds the forecasting backend for one metric's parameters.
type BackendFactory func(models.ModelParams) (forecast.Backend, error)

// Runner executes detection runs. Fits fan out over a bounded worker pool;
// decisions then run sequentially in metric iteration order so that related-
// metric hooks see a deterministic "decided so far" table.
type Runner struct {
	Logger     *slog.Logger
	Hooks      *HookRegistry
	Workers    int
	FitTimeout time.Duration
	NewBackend BackendFactory

	// OnFit, when set, observes every backend fit (instrumentation).
	OnFit func(metric string, d time.Duration, err error)
}

// NewRunner constructs a Runner with production defaults.
func NewRunner(logger *slog.Logger, hooks *HookRegistry) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = DefaultHooks()
	}
	return &Runner{
		Logger:     logger,
		Hooks:      hooks,
		Workers:    4,
		FitTimeout: 2 * time.Minute,
		NewBackend: forecast.New,
	}
}

// RunInput is one detection run's payload: the modelling window with the
// evaluation-date row already split out, plus the per-metric policy records.
type RunInput struct {
	History           *models.Frame
	Actuals           models.ActualRow
	EvalDate          time.Time
	Params            map[string]models.ModelParams
	LimSupAlert       bool
	FuturePredictions bool
}

type fitOutcome struct {
	result *forecast.Result
	err    error
}

// Run executes the full per-metric flow and returns the formatted tables.
// Fatal conditions (a metric without parameters, an unknown method, a history
// that is entirely missing after imputation) abort the run; a single backend
// failure degrades that metric's record instead.
func (r *Runner) Run(ctx context.Context, in RunInput) (*models.RunResult, error) {
	if in.History == nil || in.History.Len() == 0 {
		return nil, fmt.Errorf("run: empty history frame")
	}

	backends := make(map[string]forecast.Backend, len(in.History.Metrics))
	for _, metric := range in.History.Metrics {
		params, ok := in.Params[metric]
		if !ok {
			return nil, utils.NewAppError("run", fmt.Sprintf("metric %s has no model parameters", metric), nil)
		}
		backend, err := r.NewBackend(params)
		if err != nil {
			return nil, utils.NewAppError("run", fmt.Sprintf("metric %s backend", metric), err)
		}
		backends[metric] = backend
	}

	hist := imputer.RemoveOutliers(in.History)
	hist = imputer.FillGaps(hist)
	for _, metric := range hist.Metrics {
		if hist.AllMissing(metric) {
			return nil, utils.NewAppError("run", fmt.Sprintf("metric %s history is entirely missing after imputation", metric), nil)
		}
	}

	outcomes := r.fitAll(ctx, hist, backends, in.EvalDate)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	alerts := make(models.AlertsTable, 0, len(hist.Metrics))
	var forecasts models.ForecastTable
	for _, metric := range hist.Metrics {
		params := in.Params[metric]
		actual, actualMissing := actualFor(in.Actuals, metric)
		out := outcomes[metric]

		var rec models.AlertRecord
		if params.Method.Numeric() && out.err != nil {
			r.Logger.Warn("forecast backend degraded",
				slog.String("metric", metric),
				slog.Any("error", out.err))
			rec = degradedRecord(params, hist.IsInteger(metric), actual, actualMissing)
		} else {
			var err error
			rec, err = Decide(DecisionInput{
				Params:        params,
				Integer:       hist.IsInteger(metric),
				Actual:        actual,
				ActualMissing: actualMissing,
				Result:        out.result,
				EvalDate:      in.EvalDate,
				LimSupAlert:   in.LimSupAlert,
				Hooks:         r.Hooks,
				Decided:       alerts,
			})
			if err != nil {
				r.Logger.Warn("decision degraded", slog.String("metric", metric), slog.Any("error", err))
				rec = degradedRecord(params, hist.IsInteger(metric), actual, actualMissing)
			}
		}
		alerts = append(alerts, rec)

		if params.Method.Numeric() && out.err == nil && out.result != nil {
			forecasts = appendForecastRows(forecasts, metric, hist.IsInteger(metric), out.result, in.EvalDate)
		}
	}

	// The forward table is always assembled (the per-date lookups exist
	// either way) and dropped when future output was not requested.
	if !in.FuturePredictions {
		forecasts = nil
	}

	format.Apply(alerts)
	return &models.RunResult{
		EvalDate:    utils.Day(in.EvalDate),
		Alerts:      alerts,
		Forecasts:   forecasts,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// fitAll runs every metric's backend under the worker pool, each fit bounded
// by the per-metric timeout.
func (r *Runner) fitAll(ctx context.Context, hist *models.Frame, backends map[string]forecast.Backend, evalDate time.Time) map[string]fitOutcome {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	var mu sync.Mutex
	outcomes := make(map[string]fitOutcome, len(hist.Metrics))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for metric := range jobs {
				series := forecast.TimeSeries{Dates: hist.Dates, Values: hist.Column(metric)}
				fitCtx, cancel := context.WithTimeout(ctx, r.FitTimeout)
				start := time.Now()
				res, err := backends[metric].Forecast(fitCtx, series, evalDate)
				cancel()
				if r.OnFit != nil {
					r.OnFit(metric, time.Since(start), err)
				}
				mu.Lock()
				outcomes[metric] = fitOutcome{result: res, err: err}
				mu.Unlock()
			}
		}()
	}
	for _, metric := range hist.Metrics {
		jobs <- metric
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// degradedRecord stands in when a backend failed or its output was unusable:
// the metric stays visible in the run without claiming a verdict.
func degradedRecord(params models.ModelParams, integer bool, actual float64, actualMissing bool) models.AlertRecord {
	rec := models.AlertRecord{
		Metric:  DisplayName(params.KPI),
		State:   models.StateMissingData,
		Detail:  DetailForecastUnavailable,
		Integer: integer,
		Actual:  actual,
	}
	if actualMissing {
		rec.Actual = missingSentinel
		rec.ActualMissing = true
	}
	return rec
}

// appendForecastRows adds the forward-looking slice of one metric's result:
// metric-major ordering, dates ascending, negatives clamped to zero.
func appendForecastRows(table models.ForecastTable, metric string, integer bool, res *forecast.Result, evalDate time.Time) models.ForecastTable {
	name := DisplayName(metric)
	for _, point := range res.From(evalDate) {
		v := point.Value
		if v < 0 {
			v = 0
		}
		if integer {
			v = math.Round(v)
		}
		table = append(table, models.ForecastRow{Date: point.Date, Metric: name, Prediction: v})
	}
	return table
}

func actualFor(actuals models.ActualRow, metric string) (float64, bool) {
	v, ok := actuals[metric]
	if !ok || models.IsMissing(v) {
		return models.Missing(), true
	}
	return v, false
}
