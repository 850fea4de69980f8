package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/config"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/repo"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

type stubSource struct {
	frame *models.Frame
	err   error
}

func (s stubSource) LoadFrame(context.Context, []config.MetricSpec, time.Time, int) (*models.Frame, error) {
	return s.frame, s.err
}

type stubSink struct {
	alerts    models.AlertsTable
	forecasts models.ForecastTable
	evals     []repo.Evaluation
	evalCalls int
}

func (s *stubSink) SaveAlerts(_ context.Context, _ time.Time, table models.AlertsTable) error {
	s.alerts = table
	return nil
}

func (s *stubSink) SaveForecasts(_ context.Context, table models.ForecastTable) error {
	s.forecasts = table
	return nil
}

func (s *stubSink) EvaluatePredictions(context.Context, []config.MetricSpec, time.Time, int) ([]repo.Evaluation, error) {
	s.evalCalls++
	return s.evals, nil
}

func constraintSpecs() []config.MetricSpec {
	return []config.MetricSpec{{
		Params: models.ModelParams{KPI: "backup_ok", Method: models.MethodConstraint, SendAlert: true},
		Query:  "SELECT day, failed FROM backups",
	}}
}

// constraintFrame yields a frame whose last row violates the constraint, so a
// run produces one alert without any numeric fitting.
func constraintFrame(days int) *models.Frame {
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	frame := models.NewFrame(utils.DaySpine(end, days), []string{"backup_ok"})
	col := frame.Column("backup_ok")
	for i := range col {
		col[i] = 0
	}
	col[len(col)-1] = 1
	return frame
}

func newTestService(source FrameSource, sink ResultSink) *DetectService {
	return NewDetectService(
		utils.NewLogger("error", false),
		constraintSpecs(),
		config.DetectionConfig{PastDays: 10, Workers: 2, FitTimeout: time.Second},
		source, sink, nil)
}

func TestRunDetectionEndToEnd(t *testing.T) {
	sink := &stubSink{}
	svc := newTestService(stubSource{frame: constraintFrame(11)}, sink)

	outcome, err := svc.RunDetection(context.Background(), RunOptions{
		EvalDate: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(outcome.Result.Alerts) != 1 {
		t.Fatalf("expected 1 record, got %d", len(outcome.Result.Alerts))
	}
	rec := outcome.Result.Alerts[0]
	if rec.State != models.StateAlert {
		t.Fatalf("expected constraint alert, got %s", rec.State)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts not persisted: %d", len(sink.alerts))
	}
	if !strings.Contains(string(outcome.Report), "backup ok") {
		t.Fatal("report missing the alerting metric")
	}
	if sink.evalCalls != 0 {
		t.Fatal("evaluation must not run unless requested")
	}
}

func TestRunDetectionEvaluatesOnRequest(t *testing.T) {
	sink := &stubSink{evals: []repo.Evaluation{{Metric: "backup ok", MAPE: 4.2, Samples: 10}}}
	svc := newTestService(stubSource{frame: constraintFrame(11)}, sink)

	outcome, err := svc.RunDetection(context.Background(), RunOptions{
		EvalDate:            time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		EvaluatePredictions: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.evalCalls != 1 || len(outcome.Evaluations) != 1 {
		t.Fatalf("evaluation not propagated: calls=%d evals=%d", sink.evalCalls, len(outcome.Evaluations))
	}
	if !strings.Contains(string(outcome.Report), "Prediction accuracy") {
		t.Fatal("report missing the accuracy table")
	}
}

func TestLatestRunAfterDetection(t *testing.T) {
	svc := newTestService(stubSource{frame: constraintFrame(11)}, &stubSink{})

	if _, err := svc.LatestRun(context.Background()); err == nil {
		t.Fatal("expected a miss before any run")
	}

	if _, err := svc.RunDetection(context.Background(), RunOptions{
		EvalDate: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	result, err := svc.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if !result.EvalDate.Equal(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected eval date %s", result.EvalDate)
	}

	html, err := svc.LatestReport(context.Background())
	if err != nil || len(html) == 0 {
		t.Fatalf("latest report: %v (%d bytes)", err, len(html))
	}
}

func TestRunDetectionSourceFailureIsFatal(t *testing.T) {
	svc := newTestService(stubSource{err: context.DeadlineExceeded}, &stubSink{})
	if _, err := svc.RunDetection(context.Background(), RunOptions{}); err == nil {
		t.Fatal("source failure must abort the run")
	}
}
