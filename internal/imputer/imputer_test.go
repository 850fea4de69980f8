package imputer

import (
	"math"
	"testing"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

func buildFrame(t *testing.T, metrics map[string][]float64, integer map[string]bool) *models.Frame {
	t.Helper()
	n := 0
	names := make([]string, 0, len(metrics))
	for name, col := range metrics {
		n = len(col)
		names = append(names, name)
	}
	frame := models.NewFrame(utils.DaySpine(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), n), names)
	for name, col := range metrics {
		copy(frame.Values[name], col)
		frame.Integer[name] = integer[name]
	}
	return frame
}

func approxEqual(a, b float64) bool {
	if models.IsMissing(a) || models.IsMissing(b) {
		return models.IsMissing(a) && models.IsMissing(b)
	}
	return math.Abs(a-b) < 1e-9
}

func TestFillGapsTrailingMean(t *testing.T) {
	na := models.Missing()
	frame := buildFrame(t, map[string][]float64{
		"sessions": {1, 2, na, 4, 5, na, na, 8, 9, 10},
		"revenue":  {11, 12, 13, na, 15, na, na, na, 19, 20},
	}, map[string]bool{"sessions": true})

	FillGaps(frame)

	wantSessions := []float64{1, 2, 2, 4, 5, 3, 3, 8, 9, 10}
	for i, want := range wantSessions {
		if got := frame.Column("sessions")[i]; !approxEqual(got, want) {
			t.Fatalf("sessions[%d]: expected %v, got %v", i, want, got)
		}
	}

	// Float column keeps fractional fills: mean of the trailing window
	// over the pre-fill values only.
	wantRevenue := []float64{11, 12, 13, 12, 15, 12.75, 12.75, 13.0 + 1.0/3.0, 19, 20}
	for i, want := range wantRevenue {
		if got := frame.Column("revenue")[i]; !approxEqual(got, want) {
			t.Fatalf("revenue[%d]: expected %v, got %v", i, want, got)
		}
	}
}

func TestFillGapsNoObservationsYet(t *testing.T) {
	na := models.Missing()
	frame := buildFrame(t, map[string][]float64{
		"signups": {na, na, 3, na},
	}, nil)

	FillGaps(frame)

	got := frame.Column("signups")
	want := []float64{0, 0, 3, 3}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Fatalf("signups[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestRemoveOutliersThreeSigma(t *testing.T) {
	col := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 1000}
	frame := buildFrame(t, map[string][]float64{"orders": col}, nil)

	RemoveOutliers(frame)

	got := frame.Column("orders")
	if !models.IsMissing(got[len(got)-1]) {
		t.Fatalf("expected spike to be removed, got %v", got[len(got)-1])
	}
	for i := 0; i < len(got)-1; i++ {
		if !approxEqual(got[i], 10) {
			t.Fatalf("orders[%d]: expected 10 kept, got %v", i, got[i])
		}
	}
}

func TestRemoveOutliersIdempotent(t *testing.T) {
	col := []float64{9, 10, 11, 10, 9, 11, 10, 10, 9, 11, 1000}
	frame := buildFrame(t, map[string][]float64{"orders": col}, nil)

	RemoveOutliers(frame)
	first := append([]float64(nil), frame.Column("orders")...)
	RemoveOutliers(frame)

	for i, v := range frame.Column("orders") {
		if !approxEqual(v, first[i]) {
			t.Fatalf("orders[%d]: second pass changed %v to %v", i, first[i], v)
		}
	}
}

func TestImputationNoOpForAllMissingColumn(t *testing.T) {
	na := models.Missing()
	frame := buildFrame(t, map[string][]float64{"ghost": {na, na, na}}, nil)

	RemoveOutliers(frame)
	FillGaps(frame)
	for i, v := range frame.Column("ghost") {
		if !models.IsMissing(v) {
			t.Fatalf("ghost[%d]: imputation should not invent values, got %v", i, v)
		}
	}
	if !frame.AllMissing("ghost") {
		t.Fatal("expected column to stay fully missing")
	}
}
