package utils

import (
	"testing"
	"time"
)

func TestFitTrackerPercentile(t *testing.T) {
	tracker := NewFitTracker(10)
	for _, d := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond} {
		tracker.Observe(d)
	}

	if tracker.Count() != 5 {
		t.Fatalf("expected 5 samples, got %d", tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 < 40*time.Millisecond {
		t.Fatalf("expected p95 >= 40ms, got %v", p95)
	}
	if p0 := tracker.Percentile(0); p0 != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", p0)
	}
}

func TestFitTrackerBoundedWindow(t *testing.T) {
	tracker := NewFitTracker(3)
	for i := 0; i < 12; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected window of 3, got %d", tracker.Count())
	}
	if max := tracker.Percentile(100); max != 11*time.Millisecond {
		t.Fatalf("expected newest sample retained, got %v", max)
	}
}
