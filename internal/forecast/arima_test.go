package forecast

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

func arimaBackendForTest(t *testing.T) Backend {
	t.Helper()
	backend, err := New(models.ModelParams{KPI: "orders", Method: models.MethodAutoregressive, SendAlert: true})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return backend
}

func TestAutoregressiveTrendContinuation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	values := make([]float64, 60)
	for i := range values {
		values[i] = 10 + 2*float64(i)
	}
	eval := start.AddDate(0, 0, 60)

	res, err := arimaBackendForTest(t).Forecast(context.Background(), seriesFrom(start, values), eval)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	point, ok := res.At(eval)
	if !ok {
		t.Fatal("evaluation date not covered")
	}
	want := 10 + 2*float64(60)
	if math.Abs(point.Value-want) > 5 {
		t.Fatalf("expected trend continuation near %f, got %f", want, point.Value)
	}
}

func TestAutoregressiveSymmetricBand(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	values := make([]float64, 56)
	for i := range values {
		values[i] = 100 + 5*math.Sin(2*math.Pi*float64(i)/7) + float64(i%3)
	}
	eval := start.AddDate(0, 0, 56)

	res, err := arimaBackendForTest(t).Forecast(context.Background(), seriesFrom(start, values), eval)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	for _, p := range res.From(eval) {
		below := p.Value - p.Lower
		above := p.Upper - p.Value
		if math.Abs(below-above) > 1e-6 {
			t.Fatalf("band around %s is not symmetric: -%f / +%f", p.Date.Format("2006-01-02"), below, above)
		}
		if below < 0 {
			t.Fatalf("band inverted at %s", p.Date.Format("2006-01-02"))
		}
	}
}

func TestAutoregressiveBandWidensWithHorizon(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	values := make([]float64, 56)
	for i := range values {
		values[i] = 50 + float64(i%5) + 0.5*float64(i%2)
	}
	eval := start.AddDate(0, 0, 56) // 2024-04-26, several forward days remain

	res, err := arimaBackendForTest(t).Forecast(context.Background(), seriesFrom(start, values), eval)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	future := res.From(eval)
	if len(future) < 2 {
		t.Fatalf("expected multiple forward points, got %d", len(future))
	}
	first := future[0].Upper - future[0].Lower
	last := future[len(future)-1].Upper - future[len(future)-1].Lower
	if last+1e-9 < first {
		t.Fatalf("band should not narrow with horizon: first %f, last %f", first, last)
	}
}

func TestAutoregressiveTooShort(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := arimaBackendForTest(t).Forecast(context.Background(), seriesFrom(start, []float64{1, 2, 3, 4, 5}), start.AddDate(0, 0, 5))
	if err == nil {
		t.Fatal("expected an error for an undersized history")
	}
}
