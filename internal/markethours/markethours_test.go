package markethours

import (
	"testing"
	"time"
)

func ist(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid session", ist(time.September, 1, 11, 0), true}, // Tuesday
		{"at open", ist(time.September, 1, 9, 15), true},
		{"before open", ist(time.September, 1, 9, 14), false},
		{"at close", ist(time.September, 1, 15, 30), false},
		{"saturday", ist(time.September, 5, 11, 0), false},
		{"sunday", ist(time.September, 6, 11, 0), false},
		{"gandhi jayanti", ist(time.October, 2, 11, 0), false}, // Friday holiday
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.t); got != tt.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestNextOpen_SkipsWeekend(t *testing.T) {
	// Friday after close
	friday := ist(time.September, 4, 16, 0)
	next := NextOpen(friday)
	if next.Weekday() != time.Monday {
		t.Errorf("expected Monday open, got %v", next.Weekday())
	}
	if next.Hour() != OpenHour || next.Minute() != OpenMinute {
		t.Errorf("expected %02d:%02d, got %02d:%02d", OpenHour, OpenMinute, next.Hour(), next.Minute())
	}
}

func TestNextOpen_SameDayBeforeOpen(t *testing.T) {
	early := ist(time.September, 1, 8, 0)
	next := NextOpen(early)
	if next.Day() != 1 || next.Hour() != OpenHour {
		t.Errorf("expected same-day open, got %v", next)
	}
}

func TestNextPreOpen_BeforeOpen(t *testing.T) {
	early := ist(time.September, 1, 8, 0)
	pre := NextPreOpen(early)
	open := NextOpen(early)
	if got := open.Sub(pre); got != time.Duration(PreOpenMinutesBefore)*time.Minute {
		t.Errorf("pre-open lead = %v", got)
	}
}

func TestTimeUntilClose_ClosedIsZero(t *testing.T) {
	after := ist(time.September, 1, 16, 0)
	if d := TimeUntilClose(after); d != 0 {
		t.Errorf("expected 0 after close, got %v", d)
	}
}
