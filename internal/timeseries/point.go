package timeseries

import (
	"sort"
	"time"
)

// DateLayout is the wire format for dates in samples, status files and reports.
const DateLayout = "2006-01-02"

// Point is one observation.
type Point struct {
	Date  time.Time
	Value *float64
}

// Series is an ascending, date-unique sequence of points.
type Series []Point

// Float returns a pointer to v, for building points.
func Float(v float64) *float64 {
	return &v
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween is the number of whole UTC calendar days from "from" to "to".
// It is negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// Len returns the number of points.
func (s Series) Len() int { return len(s) }

// Last returns the newest point.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// LastValid returns the newest point with a non-nil value.
func (s Series) LastValid() (Point, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Value != nil {
			return s[i], true
		}
	}
	return Point{}, false
}

// ValueOn returns the non-nil value observed exactly on day.
func (s Series) ValueOn(day time.Time) (float64, bool) {
	day = Day(day)
	i := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(day) })
	if i < len(s) && s[i].Date.Equal(day) && s[i].Value != nil {
		return *s[i].Value, true
	}
	return 0, false
}

// OnOrBefore returns the newest non-nil point dated on or before day.
func (s Series) OnOrBefore(day time.Time) (Point, bool) {
	day = Day(day)
	i := sort.Search(len(s), func(i int) bool { return s[i].Date.After(day) })
	for j := i - 1; j >= 0; j-- {
		if s[j].Value != nil {
			return s[j], true
		}
	}
	return Point{}, false
}

// Dedupe returns a copy of s with dates truncated to UTC days, sorted ascending,
// keeping the last occurrence of every date.
func Dedupe(s Series) Series {
	if len(s) == 0 {
		return Series{}
	}
	lastIdx := make(map[time.Time]int, len(s))
	norm := make(Series, len(s))
	for i, p := range s {
		p.Date = Day(p.Date)
		norm[i] = p
		lastIdx[p.Date] = i
	}
	out := make(Series, 0, len(lastIdx))
	for i, p := range norm {
		if lastIdx[p.Date] == i {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// sameValue reports whether two observations are equal. Two nils are equal.
func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
