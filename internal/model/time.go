package model

import (
	"strings"
	"time"
)

// Layouts shared across the index, the tick store and the chain output.
const (
	ExpiryLayout    = "02-01-2006"          // dd-mm-yyyy
	TimestampLayout = "02-01-2006 15:04:05" // dd-mm-yyyy HH:MM:SS
)

// Time is a timestamp that marshals to the canonical display format used in
// persisted ticks and chains. A zero Time marshals to null, matching the
// upstream feed where last_trade_time is absent until the first trade.
type Time struct {
	time.Time
}

// NewTime wraps a time.Time.
func NewTime(t time.Time) Time { return Time{Time: t} }

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(TimestampLayout) + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
