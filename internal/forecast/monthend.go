package forecast

import (
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

// MonthEnd returns the last day of the date's calendar month. Adding 31 days
// to the first of the month always lands inside the next month; walking back
// by that day-of-month lands on the current month's final day.
func MonthEnd(date time.Time) time.Time {
	day := utils.Day(date)
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 0, 31)
	return next.AddDate(0, 0, -next.Day())
}

// RemainingDays counts the days from date through the end of its month,
// inclusive of both endpoints.
func RemainingDays(date time.Time) int {
	day := utils.Day(date)
	return int(MonthEnd(day).Sub(day).Hours()/24) + 1
}

// horizonDays returns how many daily points a fit must produce to span the
// history start through the end of the evaluation date's month.
func horizonDays(fitStart, evalDate time.Time) int {
	return int(MonthEnd(evalDate).Sub(utils.Day(fitStart)).Hours()/24) + 1
}
