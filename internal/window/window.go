// Package window computes UTC calendar-day activity windows.
package window

import (
	"time"

	"github.com/sells-group/streakwatch/internal/model"
)

// Day is the length of one activity window.
const Day = 24 * time.Hour

// DayKeyLayout formats the UTC date that identifies a window.
const DayKeyLayout = "2006-01-02"

// Window is the current UTC day. Start is inclusive; End is the last
// representable microsecond of the same day (inclusive), matching the
// inclusive "to" bound of the GraphQL contributions range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Current returns the window containing now.
func Current(now time.Time) Window {
	start := startOfDay(now)
	return Window{
		Start: start,
		End:   start.Add(Day - time.Microsecond),
	}
}

// Reset returns the exclusive boundary where the next window starts.
func (w Window) Reset() time.Time {
	return w.Start.Add(Day)
}

// Contains reports whether t falls within [Start, Reset()).
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.Start) && t.Before(w.Reset())
}

// Key returns the YYYY-MM-DD date of the window.
func (w Window) Key() string {
	return w.Start.Format(DayKeyLayout)
}

// DayKey returns the YYYY-MM-DD UTC date of now.
func DayKey(now time.Time) string {
	return now.UTC().Format(DayKeyLayout)
}

// RemainingAt returns the time left until the next window starts, truncated
// to whole minutes. At exactly midnight the full 24h 0m remains.
func RemainingAt(now time.Time) model.Remaining {
	return Current(now).RemainingAt(now)
}

// RemainingAt returns the time left in w at now, truncated to whole minutes.
// Once w has ended the result is zero.
func (w Window) RemainingAt(now time.Time) model.Remaining {
	var left time.Duration
	if w.Contains(now) {
		left = w.Reset().Sub(now.UTC())
	} else if now.Before(w.Start) {
		left = Day
	}
	return model.Remaining{
		Hours:   int(left / time.Hour),
		Minutes: int((left % time.Hour) / time.Minute),
	}
}

func startOfDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
