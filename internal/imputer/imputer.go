// Package imputer cleans a historical date-by-metric frame before it is
// handed to forecasting: extreme observations become missing values, and
// missing values are backfilled from a trailing moving average.
package imputer

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

// window is the number of trailing samples the gap-fill average looks at.
const window = 7

// outlierSigmas bounds the acceptance band around the column mean.
const outlierSigmas = 3.0

// RemoveOutliers converts every observation outside mean +/- 3 population
// standard deviations of its column into a missing value. Columns are
// processed independently; fully missing columns are left untouched.
func RemoveOutliers(frame *models.Frame) *models.Frame {
	for _, metric := range frame.Metrics {
		col := frame.Column(metric)
		observed := make([]float64, 0, len(col))
		for _, v := range col {
			if !models.IsMissing(v) {
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			continue
		}

		mean := stat.Mean(observed, nil)
		sigma := populationStdDev(observed, mean)
		lower := mean - outlierSigmas*sigma
		upper := mean + outlierSigmas*sigma

		for i, v := range col {
			if models.IsMissing(v) {
				continue
			}
			if v < lower || v > upper {
				col[i] = models.Missing()
			}
		}
	}
	return frame
}

// FillGaps replaces every missing value with the trailing moving average of
// the column: up to the window most recent rows including the current one,
// averaging whatever observations exist there (minimum one). The average is
// computed over the pre-fill column, so filled values never feed later
// windows. A position with no trailing observations at all is filled with
// zero. Integer-typed metrics get their fills rounded to the nearest integer.
func FillGaps(frame *models.Frame) *models.Frame {
	for _, metric := range frame.Metrics {
		// Entirely missing columns stay missing; the decision engine treats
		// them as a fatal configuration error rather than a flat-zero series.
		if frame.AllMissing(metric) {
			continue
		}
		col := frame.Column(metric)
		avg := trailingMean(col)
		for i, v := range col {
			if !models.IsMissing(v) {
				continue
			}
			fill := avg[i]
			if models.IsMissing(fill) {
				fill = 0
			}
			if frame.IsInteger(metric) {
				fill = math.Round(fill)
			}
			col[i] = fill
		}
	}
	return frame
}

// trailingMean returns, per position, the mean of the observed values in the
// trailing window, or Missing when the window holds no observations.
func trailingMean(col []float64) []float64 {
	out := make([]float64, len(col))
	for i := range col {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		sum, count := 0.0, 0
		for _, v := range col[start : i+1] {
			if models.IsMissing(v) {
				continue
			}
			sum += v
			count++
		}
		if count == 0 {
			out[i] = models.Missing()
			continue
		}
		out[i] = sum / float64(count)
	}
	return out
}

func populationStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
