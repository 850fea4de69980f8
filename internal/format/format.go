// Package format applies the type-aware rounding and decimal-trimming policy
// to collected run results before they are surfaced.
package format

import (
	"math"
	"strconv"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

// NoData replaces the missing-sentinel actual value in rendered output.
const NoData = "No data"

// constraintText renders the constraint method's non-numeric slots.
const constraintText = "-"

// Value renders a numeric value as text: integers without a fractional part,
// floats with three decimals, trimmed when every fractional digit is zero.
func Value(v float64, integer bool) string {
	if integer {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return TrimZeroDecimals(strconv.FormatFloat(v, 'f', 3, 64))
}

// TrimZeroDecimals strips the fractional part of a rendered number when its
// digits sum to zero ("7.00" becomes "7"); anything else passes unchanged.
func TrimZeroDecimals(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		for j := i + 1; j < len(s); j++ {
			if s[j] != '0' {
				return s
			}
		}
		return s[:i]
	}
	return s
}

// Apply fills in the rendered prediction and actual columns of every record.
// Mixed integer/float metrics land in one textual column on purpose; the
// numeric fields stay untouched for persistence.
func Apply(table models.AlertsTable) models.AlertsTable {
	for i := range table {
		r := &table[i]
		switch {
		case r.Constraint:
			r.PredictionText = constraintText
			if r.ActualMissing {
				r.ActualText = NoData
			} else if r.Actual == 1 {
				r.ActualText = "Yes"
			} else {
				r.ActualText = "No"
			}
		default:
			r.PredictionText = Value(r.Prediction, r.Integer)
			if r.ActualMissing {
				r.ActualText = NoData
			} else {
				r.ActualText = Value(r.Actual, r.Integer)
			}
		}
	}
	return table
}
