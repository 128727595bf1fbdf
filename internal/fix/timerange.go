package fix

import "time"

// -------------------------------------------------------------------------
// TimeRange — session and logon windows
// -------------------------------------------------------------------------

// TimeRange is a daily or weekly recurring window. Times are seconds of day
// in either UTC or local time; when day-of-week bounds are set (1..7,
// Sunday = 1) the window recurs weekly and may span multiple days.
type TimeRange struct {
	startSec int // second of day
	endSec   int
	startDay int // 1..7 or DayUnset
	endDay   int
	local    bool
}

// NewTimeRange creates a daily window from start and end clock times.
// local selects local-time evaluation instead of UTC.
func NewTimeRange(start, end time.Time, local bool) TimeRange {
	return TimeRange{
		startSec: secondOfDay(start),
		endSec:   secondOfDay(end),
		startDay: DayUnset,
		endDay:   DayUnset,
		local:    local,
	}
}

// NewWeeklyTimeRange creates a weekly window with day-of-week bounds.
func NewWeeklyTimeRange(start, end time.Time, startDay, endDay int, local bool) TimeRange {
	tr := NewTimeRange(start, end, local)
	tr.startDay = startDay
	tr.endDay = endDay
	return tr
}

// IsZero reports whether the range was never configured.
func (tr TimeRange) IsZero() bool {
	return tr == TimeRange{} ||
		(tr.startSec == 0 && tr.endSec == 0 && tr.startDay == DayUnset && tr.endDay == DayUnset)
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// clock returns the evaluation view of t (UTC or local).
func (tr TimeRange) clock(t time.Time) time.Time {
	if tr.local {
		return t.Local()
	}
	return t.UTC()
}

// IsInRange reports whether the instant falls inside the window.
func (tr TimeRange) IsInRange(t time.Time) bool {
	c := tr.clock(t)
	if tr.startDay != DayUnset {
		return tr.inWeeklyRange(c)
	}
	return tr.inDailyRange(secondOfDay(c))
}

// inDailyRange handles windows that may cross midnight.
func (tr TimeRange) inDailyRange(sec int) bool {
	if tr.startSec < tr.endSec {
		return sec >= tr.startSec && sec <= tr.endSec
	}
	return sec >= tr.startSec || sec <= tr.endSec
}

// inWeeklyRange evaluates the day-of-week window, inclusive of the boundary
// clock times on the start and end days.
func (tr TimeRange) inWeeklyRange(c time.Time) bool {
	day := int(c.Weekday()) + 1 // Sunday = 1
	sec := secondOfDay(c)

	start, end := tr.startDay, tr.endDay
	pos := weekPos(day, sec, start)
	startPos := 0
	endPos := weekPos(end, tr.endSec, start) - tr.startSec

	return pos-tr.startSec >= startPos && pos-tr.startSec <= endPos
}

// weekPos flattens (day, second) into seconds since the start day's midnight,
// wrapping the week as needed.
func weekPos(day, sec, startDay int) int {
	d := day - startDay
	if d < 0 {
		d += 7
	}
	return d*86400 + sec
}

// IsInSameRange reports whether two instants fall inside the same window
// occurrence. Used for the day-schedule decision: when a session's creation
// time and the current time are in different occurrences, sequence numbers
// reset before the next logon.
func (tr TimeRange) IsInSameRange(t1, t2 time.Time) bool {
	if !tr.IsInRange(t1) || !tr.IsInRange(t2) {
		return false
	}
	if t2.Before(t1) {
		t1, t2 = t2, t1
	}
	c1, c2 := tr.clock(t1), tr.clock(t2)

	// Find the start instant of t2's window occurrence; t1 must not
	// precede it.
	start := tr.occurrenceStart(c2)
	return !c1.Before(start)
}

// occurrenceStart returns the start instant of the window occurrence
// containing c.
func (tr TimeRange) occurrenceStart(c time.Time) time.Time {
	startDay := tr.startDay
	if startDay == DayUnset {
		day := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, c.Location())
		start := day.Add(time.Duration(tr.startSec) * time.Second)
		if c.Before(start) {
			// Midnight-crossing window: occurrence started yesterday.
			start = start.AddDate(0, 0, -1)
		}
		return start
	}

	day := int(c.Weekday()) + 1
	delta := day - startDay
	if delta < 0 {
		delta += 7
	}
	base := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, c.Location()).AddDate(0, 0, -delta)
	start := base.Add(time.Duration(tr.startSec) * time.Second)
	if c.Before(start) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}
