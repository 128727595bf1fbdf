package fix_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tradewire/gofix/internal/fix"
)

func TestParseInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"1", 1, false},
		{"34", 34, false},
		{"-5", -5, false},
		{"", 0, true},
		{"-", 0, true},
		{"+5", 0, true},
		{"1_0", 0, true},
		{"12a", 0, true},
		{" 12", 0, true},
	}
	for _, tt := range tests {
		got, err := fix.ParseInt(tt.in)
		if tt.wantErr {
			if !errors.Is(err, fix.ErrFieldConvert) {
				t.Errorf("ParseInt(%q) error = %v, want ErrFieldConvert", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseInt(%q) = %d, %v, want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParseFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0", 0, false},
		{"1.5", 1.5, false},
		{"-2.25", -2.25, false},
		{"100", 100, false},
		{"", 0, true},
		{"1e5", 0, true},
		{"0x10", 0, true},
		{"1.2.3", 0, true},
	}
	for _, tt := range tests {
		got, err := fix.ParseFloat(tt.in)
		if tt.wantErr {
			if !errors.Is(err, fix.ErrFieldConvert) {
				t.Errorf("ParseFloat(%q) error = %v, want ErrFieldConvert", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFloat(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestFormatFloatRoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range []float64{0, 1.5, -2.25, 0.001, 12345.6789} {
		s := fix.FormatFloat(f)
		back, err := fix.ParseFloat(s)
		if err != nil || back != f {
			t.Errorf("round trip %v -> %q -> %v, %v", f, s, back, err)
		}
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	if v, err := fix.ParseBool("Y"); err != nil || !v {
		t.Errorf("ParseBool(Y) = %v, %v", v, err)
	}
	if v, err := fix.ParseBool("N"); err != nil || v {
		t.Errorf("ParseBool(N) = %v, %v", v, err)
	}
	for _, bad := range []string{"", "y", "n", "true", "YES"} {
		if _, err := fix.ParseBool(bad); !errors.Is(err, fix.ErrFieldConvert) {
			t.Errorf("ParseBool(%q) error = %v, want ErrFieldConvert", bad, err)
		}
	}
}

func TestParseUTCTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC)
	got, err := fix.ParseUTCTimestamp("20240101-12:30:45")
	if err != nil || !got.Equal(want) {
		t.Fatalf("ParseUTCTimestamp = %v, %v, want %v", got, err, want)
	}

	wantMillis := want.Add(123 * time.Millisecond)
	got, err = fix.ParseUTCTimestamp("20240101-12:30:45.123")
	if err != nil || !got.Equal(wantMillis) {
		t.Fatalf("ParseUTCTimestamp millis = %v, %v, want %v", got, err, wantMillis)
	}

	for _, bad := range []string{"", "2024-01-01 12:30:45", "20240101", "20240101-25:00:00"} {
		if _, err := fix.ParseUTCTimestamp(bad); !errors.Is(err, fix.ErrFieldConvert) {
			t.Errorf("ParseUTCTimestamp(%q) error = %v, want ErrFieldConvert", bad, err)
		}
	}
}

func TestFormatUTCTimestamp(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 1, 12, 30, 45, 123_000_000, time.UTC)
	if got := fix.FormatUTCTimestamp(ts, false); got != "20240101-12:30:45" {
		t.Errorf("FormatUTCTimestamp = %q", got)
	}
	if got := fix.FormatUTCTimestamp(ts, true); got != "20240101-12:30:45.123" {
		t.Errorf("FormatUTCTimestamp millis = %q", got)
	}
}

func TestParseDayOfWeek(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", fix.DayUnset, false},
		{"SU", 1, false},
		{"mo", 2, false},
		{"Tuesday", 3, false},
		{"WE", 4, false},
		{"th", 5, false},
		{"Friday", 6, false},
		{"sa", 7, false},
		{"X", 0, true},
		{"ZZ", 0, true},
	}
	for _, tt := range tests {
		got, err := fix.ParseDayOfWeek(tt.in)
		if tt.wantErr {
			if !errors.Is(err, fix.ErrFieldConvert) {
				t.Errorf("ParseDayOfWeek(%q) error = %v, want ErrFieldConvert", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDayOfWeek(%q) = %d, %v, want %d", tt.in, got, err, tt.want)
		}
	}
}
