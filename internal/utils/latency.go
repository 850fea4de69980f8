package utils

import (
	"sort"
	"sync"
	"time"
)

// FitTracker keeps a bounded window of model-fit durations so the service can
// report percentile latencies without a full histogram.
type FitTracker struct {
	mu      sync.RWMutex
	window  []time.Duration
	maxSize int
}

// NewFitTracker creates a tracker storing up to maxSize samples.
func NewFitTracker(maxSize int) *FitTracker {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &FitTracker{maxSize: maxSize}
}

// Observe records one fit duration, evicting the oldest sample when full.
func (t *FitTracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.window) == t.maxSize {
		copy(t.window, t.window[1:])
		t.window[len(t.window)-1] = d
		return
	}
	t.window = append(t.window, d)
}

// Count returns the number of samples currently tracked.
func (t *FitTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.window)
}

// Percentile returns the p-th (0-100) percentile duration, zero when empty.
func (t *FitTracker) Percentile(p float64) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.window)
	if n == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), t.window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}
	idx := int((p / 100.0) * float64(n-1))
	return sorted[idx]
}
