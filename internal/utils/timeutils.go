package utils

import (
	"fmt"
	"time"
)

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD calendar day.
func ParseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date: %w", err)
	}
	return t.UTC(), nil
}

// DaySpine returns consecutive calendar days ending at end, n entries long.
func DaySpine(end time.Time, n int) []time.Time {
	end = Day(end)
	spine := make([]time.Time, n)
	for i := 0; i < n; i++ {
		spine[i] = end.AddDate(0, 0, i-n+1)
	}
	return spine
}
