// Package calendar provides calendar-month date arithmetic for rule windows.
package calendar

import "time"

// AddMonths returns t moved by n calendar months. When the target month is
// shorter than t's day-of-month, the result is the target month's last day.
// Clock time and location are preserved.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	// Normalise to the first of the target month, then clamp the day.
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := first.Date()
	if last := daysIn(ty, tm, t.Location()); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// SubMonths returns t moved back by n calendar months.
func SubMonths(t time.Time, n int) time.Time {
	return AddMonths(t, -n)
}

// AgesOut is the first instant at which an event stops counting toward an
// n-month window.
func AgesOut(event time.Time, months int) time.Time {
	return AddMonths(event, months)
}

// Within reports whether event falls in the n-month window ending at now.
// The window is closed at the event end and open at the age-out end, so an
// event exactly n months old no longer counts.
func Within(event, now time.Time, months int) bool {
	if event.After(now) {
		return false
	}
	return now.Before(AgesOut(event, months))
}

// MonthsBetween returns the number of whole calendar months elapsed from
// from to to. It is negative when to is before from.
func MonthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return -MonthsBetween(to, from)
	}
	fy, fm, _ := from.Date()
	ty, tm, _ := to.In(from.Location()).Date()
	n := (ty-fy)*12 + int(tm-fm)
	if n > 0 && AddMonths(from, n).After(to) {
		n--
	}
	return n
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Earliest returns the earliest non-nil time, or nil.
func Earliest(ts ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range ts {
		if t != nil && (out == nil || t.Before(*out)) {
			out = t
		}
	}
	return out
}

// Latest returns the latest non-nil time, or nil.
func Latest(ts ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range ts {
		if t != nil && (out == nil || t.After(*out)) {
			out = t
		}
	}
	return out
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
