// Package services wires the detection pipeline end to end: load the frame
// from the warehouse, run the engine, persist the output, render the report,
// and cache the latest result for the API.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/cache"
	"github.com/kpiwatch/kpiwatch-engine/internal/config"
	"github.com/kpiwatch/kpiwatch-engine/internal/engine"
	"github.com/kpiwatch/kpiwatch-engine/internal/metrics"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/repo"
	"github.com/kpiwatch/kpiwatch-engine/internal/report"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

const (
	latestRunKey    = "kpiwatch:latest-run"
	latestReportKey = "kpiwatch:latest-report"

	evaluationWindowDays = 30
)

// FrameSource loads the date-by-metric frame for a run window.
type FrameSource interface {
	LoadFrame(ctx context.Context, specs []config.MetricSpec, evalDate time.Time, pastDays int) (*models.Frame, error)
}

// ResultSink persists run output and scores stored predictions.
type ResultSink interface {
	SaveAlerts(ctx context.Context, evalDate time.Time, table models.AlertsTable) error
	SaveForecasts(ctx context.Context, table models.ForecastTable) error
	EvaluatePredictions(ctx context.Context, specs []config.MetricSpec, evalDate time.Time, windowDays int) ([]repo.Evaluation, error)
}

// RunOptions selects one detection run's window and optional outputs. A zero
// EvalDate means yesterday, the most recent day with complete data.
type RunOptions struct {
	EvalDate            time.Time
	PastDays            int
	FuturePredictions   bool
	EvaluatePredictions bool
}

// RunOutcome is the full product of one detection run.
type RunOutcome struct {
	Result      *models.RunResult
	Report      []byte
	Evaluations []repo.Evaluation
}

// DetectService orchestrates detection runs and serves the latest outcome.
type DetectService struct {
	logger    *slog.Logger
	specs     []config.MetricSpec
	detection config.DetectionConfig
	source    FrameSource
	sink      ResultSink
	cache     cache.Provider
	runner    *engine.Runner
	latencies *utils.FitTracker

	mu     sync.RWMutex
	latest *RunOutcome
}

// NewDetectService constructs the facade. The sink may be nil when the
// deployment is read-only (nothing is persisted, reports still render).
func NewDetectService(logger *slog.Logger, specs []config.MetricSpec, detection config.DetectionConfig, source FrameSource, sink ResultSink, cacheProvider cache.Provider) *DetectService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}

	runner := engine.NewRunner(logger, engine.DefaultHooks())
	if detection.Workers > 0 {
		runner.Workers = detection.Workers
	}
	if detection.FitTimeout > 0 {
		runner.FitTimeout = detection.FitTimeout
	}

	s := &DetectService{
		logger:    logger,
		specs:     specs,
		detection: detection,
		source:    source,
		sink:      sink,
		cache:     cacheProvider,
		runner:    runner,
		latencies: utils.NewFitTracker(1024),
	}
	runner.OnFit = func(metric string, d time.Duration, err error) {
		metrics.ObserveFit(metric, d)
		if err == nil {
			s.latencies.Observe(d)
		}
	}
	return s
}

// RunDetection executes one detection run end to end.
func (s *DetectService) RunDetection(ctx context.Context, opts RunOptions) (*RunOutcome, error) {
	start := time.Now()
	outcome, err := s.runDetection(ctx, opts)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRun(duration, metrics.OutcomeError)
		return nil, err
	}
	metrics.ObserveRun(duration, metrics.OutcomeSuccess)

	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("fit latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return outcome, nil
}

func (s *DetectService) runDetection(ctx context.Context, opts RunOptions) (*RunOutcome, error) {
	evalDate := utils.Day(opts.EvalDate)
	if opts.EvalDate.IsZero() {
		evalDate = utils.Day(time.Now().UTC().AddDate(0, 0, -1))
	}
	pastDays := opts.PastDays
	if pastDays < 1 {
		pastDays = s.detection.PastDays
	}

	s.logger.Info("detection run started",
		slog.String("eval_date", evalDate.Format("2006-01-02")),
		slog.Int("past_days", pastDays),
		slog.Int("metrics", len(s.specs)))

	frame, err := s.source.LoadFrame(ctx, s.specs, evalDate, pastDays)
	if err != nil {
		return nil, fmt.Errorf("load frame: %w", err)
	}
	hist, actuals := frame.SplitActual()

	result, err := s.runner.Run(ctx, engine.RunInput{
		History:           hist,
		Actuals:           actuals,
		EvalDate:          evalDate,
		Params:            config.ParamsByKPI(s.specs),
		LimSupAlert:       s.detection.LimSupAlert,
		FuturePredictions: opts.FuturePredictions,
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range result.Alerts {
		metrics.CountAlertState(rec.State.String())
	}

	if s.sink != nil {
		if err := s.sink.SaveAlerts(ctx, evalDate, result.Alerts); err != nil {
			return nil, fmt.Errorf("persist alerts: %w", err)
		}
		if err := s.sink.SaveForecasts(ctx, result.Forecasts); err != nil {
			return nil, fmt.Errorf("persist forecasts: %w", err)
		}
	}

	var evals []repo.Evaluation
	if opts.EvaluatePredictions && s.sink != nil {
		evals, err = s.sink.EvaluatePredictions(ctx, s.specs, evalDate, evaluationWindowDays)
		if err != nil {
			// Evaluation failing must not lose an otherwise complete run.
			s.logger.Warn("prediction evaluation failed", slog.Any("error", err))
			evals = nil
		}
	}

	reportEvals := make([]report.Evaluation, 0, len(evals))
	for _, ev := range evals {
		reportEvals = append(reportEvals, report.Evaluation(ev))
	}
	html, err := report.Render(result, reportEvals)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	outcome := &RunOutcome{Result: result, Report: html, Evaluations: evals}
	s.storeLatest(ctx, outcome)

	s.logger.Info("detection run finished",
		slog.Int("records", len(result.Alerts)),
		slog.Int("alerts", len(result.Alerts.Alerts())),
		slog.Int("forecast_rows", len(result.Forecasts)))
	return outcome, nil
}

func (s *DetectService) storeLatest(ctx context.Context, outcome *RunOutcome) {
	s.mu.Lock()
	s.latest = outcome
	s.mu.Unlock()

	payload, err := json.Marshal(outcome.Result)
	if err != nil {
		s.logger.Warn("latest run not cached", slog.Any("error", err))
		return
	}
	ttl := 24 * time.Hour
	if err := s.cache.Set(ctx, latestRunKey, payload, ttl); err != nil {
		s.logger.Warn("latest run not cached", slog.Any("error", err))
	}
	if err := s.cache.Set(ctx, latestReportKey, outcome.Report, ttl); err != nil {
		s.logger.Warn("latest report not cached", slog.Any("error", err))
	}
}

// LatestRun returns the most recent run result, preferring the in-process
// copy and falling back to the cache after a restart.
func (s *DetectService) LatestRun(ctx context.Context) (*models.RunResult, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return latest.Result, nil
	}

	payload, err := s.cache.Get(ctx, latestRunKey)
	if err != nil {
		return nil, err
	}
	var result models.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode cached run: %w", err)
	}
	return &result, nil
}

// LatestReport returns the most recent rendered HTML corpus.
func (s *DetectService) LatestReport(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return latest.Report, nil
	}
	return s.cache.Get(ctx, latestReportKey)
}
