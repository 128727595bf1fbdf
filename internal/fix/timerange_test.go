package fix_test

import (
	"testing"
	"time"

	"github.com/tradewire/gofix/internal/fix"
)

// clock builds a UTC time-of-day on an arbitrary reference date.
func clock(h, m, s int) time.Time {
	return time.Date(2024, 1, 1, h, m, s, 0, time.UTC)
}

// at builds a full UTC instant.
func at(day, h, m int) time.Time {
	return time.Date(2024, 1, day, h, m, 0, 0, time.UTC)
}

func TestTimeRangeDaily(t *testing.T) {
	t.Parallel()

	tr := fix.NewTimeRange(clock(9, 0, 0), clock(17, 0, 0), false)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside", at(10, 12, 0), true},
		{"at open", at(10, 9, 0), true},
		{"at close", at(10, 17, 0), true},
		{"before open", at(10, 8, 59), false},
		{"after close", at(10, 17, 1), false},
	}
	for _, tt := range tests {
		if got := tr.IsInRange(tt.at); got != tt.want {
			t.Errorf("%s: IsInRange(%v) = %v, want %v", tt.name, tt.at, got, tt.want)
		}
	}
}

func TestTimeRangeCrossesMidnight(t *testing.T) {
	t.Parallel()

	tr := fix.NewTimeRange(clock(22, 0, 0), clock(6, 0, 0), false)

	if !tr.IsInRange(at(10, 23, 30)) {
		t.Error("23:30 should be inside a 22:00-06:00 window")
	}
	if !tr.IsInRange(at(10, 3, 0)) {
		t.Error("03:00 should be inside a 22:00-06:00 window")
	}
	if tr.IsInRange(at(10, 12, 0)) {
		t.Error("12:00 should be outside a 22:00-06:00 window")
	}
}

func TestTimeRangeWeekly(t *testing.T) {
	t.Parallel()

	// Monday 09:00 through Friday 17:00.
	tr := fix.NewWeeklyTimeRange(clock(9, 0, 0), clock(17, 0, 0), 2, 6, false)

	// 2024-01-01 is a Monday.
	if !tr.IsInRange(at(1, 10, 0)) {
		t.Error("Monday 10:00 should be inside")
	}
	if !tr.IsInRange(at(3, 2, 0)) {
		t.Error("Wednesday 02:00 should be inside")
	}
	if !tr.IsInRange(at(5, 16, 59)) {
		t.Error("Friday 16:59 should be inside")
	}
	if tr.IsInRange(at(5, 18, 0)) {
		t.Error("Friday 18:00 should be outside")
	}
	if tr.IsInRange(at(6, 12, 0)) {
		t.Error("Saturday should be outside")
	}
	if tr.IsInRange(at(1, 8, 0)) {
		t.Error("Monday 08:00 should be outside")
	}
}

func TestIsInSameRange(t *testing.T) {
	t.Parallel()

	tr := fix.NewTimeRange(clock(9, 0, 0), clock(17, 0, 0), false)

	// Same trading day: same occurrence.
	if !tr.IsInSameRange(at(10, 10, 0), at(10, 16, 0)) {
		t.Error("same day instants should share the occurrence")
	}
	// Next trading day: different occurrence; the schedule resets seqnums.
	if tr.IsInSameRange(at(10, 10, 0), at(11, 10, 0)) {
		t.Error("different days should not share the occurrence")
	}
	// An instant outside the window is never in the same occurrence.
	if tr.IsInSameRange(at(10, 8, 0), at(10, 10, 0)) {
		t.Error("out-of-window instant cannot share the occurrence")
	}
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	var tr fix.TimeRange
	if !tr.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if fix.NewTimeRange(clock(9, 0, 0), clock(17, 0, 0), false).IsZero() {
		t.Error("configured range should not report IsZero")
	}
}
