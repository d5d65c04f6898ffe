package evm

import "time"

// =============================================================================
// TIME POINT - Day-granular dates (data dates, planned windows)
// =============================================================================

// TimePoint is a day-granular UTC date. EVM figures are keyed by data
// date; intra-day precision adds nothing and complicates snapshot keys.
type TimePoint struct {
	Time time.Time
}

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() TimePoint {
	now := time.Now().UTC()
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

func FromTime(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

// Comparison
func (tp TimePoint) Before(o TimePoint) bool        { return tp.normalize().Before(o.normalize()) }
func (tp TimePoint) After(o TimePoint) bool         { return tp.normalize().After(o.normalize()) }
func (tp TimePoint) Equal(o TimePoint) bool         { return tp.normalize().Equal(o.normalize()) }
func (tp TimePoint) BeforeOrEqual(o TimePoint) bool { return tp.Before(o) || tp.Equal(o) }
func (tp TimePoint) AfterOrEqual(o TimePoint) bool  { return tp.After(o) || tp.Equal(o) }
func (tp TimePoint) IsZero() bool                   { return tp.Time.IsZero() }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

func (tp TimePoint) String() string { return tp.normalize().Format("2006-01-02") }

// DaysBetween returns the whole days from one point to another.
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// PERIOD - Planned execution window
// =============================================================================

// Period is an inclusive [Start, End] date window, used for a work
// package's planned schedule and for trend query ranges.
type Period struct {
	Start TimePoint
	End   TimePoint
}

func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

func (p Period) Valid() bool { return !p.End.Before(p.Start) }

// DurationDays returns the inclusive day count of the window.
func (p Period) DurationDays() int { return DaysBetween(p.Start, p.End) + 1 }

func (p Period) String() string { return "[" + p.Start.String() + ", " + p.End.String() + "]" }
