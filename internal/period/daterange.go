package period

import (
	"iter"
	"time"

	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
)

// NewDateRange truncates start and end to UTC calendar days and rejects ranges
// that do not span at least one day.
func NewDateRange(start, end time.Time) (models.DateRange, error) {
	r := models.DateRange{Start: Day(start), End: Day(end)}
	if !r.End.After(r.Start) {
		return models.DateRange{}, fault.New(fault.KindInvalidRange, "date range", r.String(), nil)
	}
	return r, nil
}

// Day returns t truncated to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days yields start, start+1 … end-1. Nothing is yielded when end <= start.
func Days(r models.DateRange) iter.Seq[time.Time] {
	start, end := Day(r.Start), Day(r.End)
	return func(yield func(time.Time) bool) {
		for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

// Len returns the number of days Days would yield.
func Len(r models.DateRange) int {
	start, end := Day(r.Start), Day(r.End)
	if !end.After(start) {
		return 0
	}
	// Calendar arithmetic on UTC midnights; no DST gaps.
	return int(end.Sub(start).Hours() / 24)
}
