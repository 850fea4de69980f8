package engine

import (
	"math"
	"testing"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/forecast"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

var evalDay = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

func bandResult(prediction, lower, upper float64) *forecast.Result {
	return forecast.NewResult(evalDay, []forecast.Point{
		{Date: evalDay, Value: prediction, Lower: lower, Upper: upper},
	})
}

func numericParams(kpi string) models.ModelParams {
	return models.ModelParams{
		KPI:                    kpi,
		Method:                 models.MethodSeasonal,
		ConfidenceInterval:     95,
		SeasonalityMode:        models.SeasonalityAdditive,
		ChangePointSensitivity: 0.5,
		SendAlert:              true,
	}
}

func decide(t *testing.T, in DecisionInput) models.AlertRecord {
	t.Helper()
	rec, err := Decide(in)
	if err != nil {
		t.Fatalf("unexpected decision error: %v", err)
	}
	return rec
}

func TestDecideMissingActual(t *testing.T) {
	rec := decide(t, DecisionInput{
		Params:        numericParams("daily_sessions"),
		Actual:        models.Missing(),
		ActualMissing: true,
		Result:        bandResult(100, 90, 110),
		EvalDate:      evalDay,
	})

	if rec.State != models.StateMissingData {
		t.Fatalf("expected MissingData, got %s", rec.State)
	}
	if rec.Detail != DetailMissingData {
		t.Fatalf("unexpected detail %q", rec.Detail)
	}
	if rec.Actual != -1 || !rec.ActualMissing {
		t.Fatalf("expected -1 sentinel, got %v", rec.Actual)
	}
	if rec.Metric != "daily sessions" {
		t.Fatalf("expected display name, got %q", rec.Metric)
	}
}

func TestDecideDecreasingTendency(t *testing.T) {
	rec := decide(t, DecisionInput{
		Params:   numericParams("sessions"),
		Actual:   80,
		Result:   bandResult(100, 90, 110),
		EvalDate: evalDay,
	})
	if rec.State != models.StateAlert || rec.Detail != DetailDecreasing {
		t.Fatalf("expected decreasing alert, got %s / %q", rec.State, rec.Detail)
	}
}

func TestDecideIncreasingRequiresFlag(t *testing.T) {
	in := DecisionInput{
		Params:   numericParams("sessions"),
		Actual:   130,
		Result:   bandResult(100, 90, 110),
		EvalDate: evalDay,
	}

	if rec := decide(t, in); rec.State != models.StateNoAlert {
		t.Fatalf("upper breach without the flag should stay NoAlert, got %s", rec.State)
	}

	in.LimSupAlert = true
	if rec := decide(t, in); rec.State != models.StateAlert || rec.Detail != DetailIncreasing {
		t.Fatalf("expected increasing alert, got %s / %q", rec.State, rec.Detail)
	}
}

func TestDecideBoundaryIsNoAlert(t *testing.T) {
	for _, actual := range []float64{90, 110} {
		rec := decide(t, DecisionInput{
			Params:      numericParams("sessions"),
			Actual:      actual,
			Result:      bandResult(100, 90, 110),
			EvalDate:    evalDay,
			LimSupAlert: true,
		})
		if rec.State != models.StateNoAlert {
			t.Fatalf("actual %v exactly on a bound must be NoAlert, got %s", actual, rec.State)
		}
	}
}

func TestDecideClampOrder(t *testing.T) {
	rec := decide(t, DecisionInput{
		Params:   numericParams("sessions"),
		Actual:   0.5,
		Result:   bandResult(-4, -9, -1),
		EvalDate: evalDay,
	})

	if rec.Prediction != 0 {
		t.Fatalf("negative prediction must clamp to 0, got %v", rec.Prediction)
	}
	if rec.Lower != 0 || rec.Upper != 0 {
		t.Fatalf("bounds must clamp to 0, got [%v, %v]", rec.Lower, rec.Upper)
	}
	// With the whole band at zero, any positive actual sits above the
	// upper bound; without limsup alerting that is still NoAlert.
	if rec.State != models.StateNoAlert {
		t.Fatalf("expected NoAlert, got %s", rec.State)
	}
}

func TestDecideLowerForcedToZeroWhenPredictionZero(t *testing.T) {
	rec := decide(t, DecisionInput{
		Params:   numericParams("sessions"),
		Actual:   1,
		Result:   bandResult(-2, 3, 8),
		EvalDate: evalDay,
	})
	if rec.Prediction != 0 || rec.Lower != 0 {
		t.Fatalf("zero prediction must force lower to 0, got pred %v lower %v", rec.Prediction, rec.Lower)
	}
	if rec.Upper != 8 {
		t.Fatalf("upper bound should survive, got %v", rec.Upper)
	}
	if rec.State != models.StateNoAlert {
		t.Fatalf("actual inside [0, 8] is NoAlert, got %s", rec.State)
	}
}

func TestDecideDisabledOverride(t *testing.T) {
	params := numericParams("sessions")
	params.SendAlert = false
	rec := decide(t, DecisionInput{
		Params:   params,
		Actual:   10,
		Result:   bandResult(100, 90, 110),
		EvalDate: evalDay,
	})
	if rec.State != models.StateDisabled {
		t.Fatalf("muted metric must end Disabled, got %s", rec.State)
	}
	if rec.Detail != DetailDecreasing {
		t.Fatalf("underlying detail should survive, got %q", rec.Detail)
	}
	if rec.Prediction != 100 {
		t.Fatalf("record still carries the prediction, got %v", rec.Prediction)
	}
}

func TestDecideDisabledDoesNotMaskMissingData(t *testing.T) {
	params := numericParams("sessions")
	params.SendAlert = false
	rec := decide(t, DecisionInput{
		Params:        params,
		Actual:        models.Missing(),
		ActualMissing: true,
		Result:        bandResult(100, 90, 110),
		EvalDate:      evalDay,
	})
	if rec.State != models.StateMissingData {
		t.Fatalf("missing data wins over the mute, got %s", rec.State)
	}
}

func TestDecideConstraint(t *testing.T) {
	params := models.ModelParams{KPI: "backup_ok", Method: models.MethodConstraint, SendAlert: true}

	rec := decide(t, DecisionInput{Params: params, Actual: 1, Result: forecast.ConstraintResult(), EvalDate: evalDay})
	if rec.State != models.StateAlert || rec.Detail != DetailConstraintViolated {
		t.Fatalf("expected constraint violation, got %s / %q", rec.State, rec.Detail)
	}

	rec = decide(t, DecisionInput{Params: params, Actual: 0, Result: forecast.ConstraintResult(), EvalDate: evalDay})
	if rec.State != models.StateNoAlert {
		t.Fatalf("expected NoAlert for 0, got %s", rec.State)
	}
}

func TestDecideIntegerRounding(t *testing.T) {
	rec := decide(t, DecisionInput{
		Params:   numericParams("orders"),
		Integer:  true,
		Actual:   41,
		Result:   bandResult(41.6, 30.2, 52.9),
		EvalDate: evalDay,
	})
	if rec.Prediction != 42 {
		t.Fatalf("integer metric prediction should round, got %v", rec.Prediction)
	}
}

func TestDecideFloatRounding(t *testing.T) {
	rec := decide(t, DecisionInput{
		Params:   numericParams("rate"),
		Actual:   0.123456,
		Result:   bandResult(0.98765, 0.5, 1.5),
		EvalDate: evalDay,
	})
	if math.Abs(rec.Prediction-0.988) > 1e-9 {
		t.Fatalf("expected 3-decimal rounding, got %v", rec.Prediction)
	}
	if math.Abs(rec.Actual-0.123) > 1e-9 {
		t.Fatalf("expected 3-decimal actual, got %v", rec.Actual)
	}
}

func TestDecideRelatedHookAdjustsBand(t *testing.T) {
	hooks := NewHookRegistry()
	if err := hooks.Register("halve", func(_ models.AlertsTable, _ string, p, lo, hi float64) (float64, float64, float64) {
		return p / 2, lo / 2, hi / 2
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	params := numericParams("sessions")
	params.IsRelated = true
	rec := decide(t, DecisionInput{
		Params:   params,
		Actual:   40,
		Result:   bandResult(100, 90, 110),
		EvalDate: evalDay,
		Hooks:    hooks,
	})
	if rec.Prediction != 50 || rec.Lower != 45 || rec.Upper != 55 {
		t.Fatalf("hook not applied: pred %v band [%v, %v]", rec.Prediction, rec.Lower, rec.Upper)
	}
	if rec.State != models.StateAlert || rec.Detail != DetailDecreasing {
		t.Fatalf("decision should use the adjusted band, got %s", rec.State)
	}
}
