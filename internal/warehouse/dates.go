package warehouse

import (
	"fmt"
	"time"
)

// RunDateLayout is the canonical run date format used across the pipeline.
const RunDateLayout = "2006-01-02"

// DateAttributes is one dim_date row, fully derived from the calendar date.
type DateAttributes struct {
	DateID    int       // YYYYMMDD surrogate key
	Date      time.Time // midnight UTC
	Day       int
	Week      int // ISO week number
	Month     int
	Quarter   int
	Year      int
	DayOfWeek int // 0=Sunday .. 6=Saturday
	DayName   string
	IsWeekend bool
}

// ParseRunDate parses a YYYY-MM-DD run date string into midnight UTC.
func ParseRunDate(runDate string) (time.Time, error) {
	t, err := time.Parse(RunDateLayout, runDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRunDate, runDate)
	}

	return t.UTC(), nil
}

// DeriveDateAttributes computes every dim_date attribute for a calendar date.
// The surrogate key is the date digits (2024-06-15 -> 20240615), so date rows
// are stable across loads and never depend on insertion order.
func DeriveDateAttributes(date time.Time) DateAttributes {
	date = date.UTC().Truncate(24 * time.Hour)

	_, isoWeek := date.ISOWeek()
	weekday := int(date.Weekday()) // time.Sunday == 0

	return DateAttributes{
		DateID:    date.Year()*10000 + int(date.Month())*100 + date.Day(),
		Date:      date,
		Day:       date.Day(),
		Week:      isoWeek,
		Month:     int(date.Month()),
		Quarter:   (int(date.Month())-1)/3 + 1,
		Year:      date.Year(),
		DayOfWeek: weekday,
		DayName:   date.Weekday().String(),
		IsWeekend: weekday == 0 || weekday == 6,
	}
}
