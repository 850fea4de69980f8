package forecast

import (
	"context"
	"time"
)

// constraintBackend performs no fitting: the decision is driven directly by
// the actual value being exactly 1 (violation) or 0.
type constraintBackend struct{}

func (constraintBackend) Forecast(context.Context, TimeSeries, time.Time) (*Result, error) {
	return ConstraintResult(), nil
}
