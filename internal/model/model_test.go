package model

import (
	"encoding/json"
	"sort"
	"testing"
	"time"
)

func TestTime_MarshalDisplayFormat(t *testing.T) {
	ts := NewTime(time.Date(2026, time.May, 28, 15, 29, 59, 0, time.UTC))
	b, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"28-05-2026 15:29:59"` {
		t.Errorf("got %s, want \"28-05-2026 15:29:59\"", b)
	}
}

func TestTime_ZeroMarshalsNull(t *testing.T) {
	b, err := json.Marshal(Time{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "null" {
		t.Errorf("got %s, want null", b)
	}
}

func TestTime_RoundTrip(t *testing.T) {
	var parsed Time
	if err := json.Unmarshal([]byte(`"01-01-2026 09:15:00"`), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Day() != 1 || parsed.Month() != time.January || parsed.Hour() != 9 {
		t.Errorf("parsed wrong time: %v", parsed.Time)
	}

	var null Time
	if err := json.Unmarshal([]byte("null"), &null); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !null.IsZero() {
		t.Error("expected zero time from null")
	}
}

func TestInstrument_Key(t *testing.T) {
	i := Instrument{Exchange: "NFO", Name: "NIFTY"}
	if got := i.Key(); got != "NFO:NIFTY" {
		t.Errorf("Key() = %q, want NFO:NIFTY", got)
	}
}

func TestLess_StrikeThenType(t *testing.T) {
	list := []Instrument{
		{Token: 1, StrikePrice: 110, InstrumentType: InstrumentTypePut},
		{Token: 2, StrikePrice: 100, InstrumentType: InstrumentTypePut},
		{Token: 3, StrikePrice: 100, InstrumentType: InstrumentTypeCall},
		{Token: 4, StrikePrice: 110, InstrumentType: InstrumentTypeCall},
	}
	sort.SliceStable(list, func(i, j int) bool { return Less(&list[i], &list[j]) })

	want := []uint32{3, 2, 4, 1}
	for i, tok := range want {
		if list[i].Token != tok {
			t.Errorf("position %d: token %d, want %d", i, list[i].Token, tok)
		}
	}
}
