package model

// Option instrument types as they appear in the Kite instrument dump.
const (
	InstrumentTypeCall = "CE"
	InstrumentTypePut  = "PE"
)

// Instrument is one option contract from the daily instrument catalog.
// Instances are immutable: the whole index is rebuilt on every refresh,
// never patched in place.
type Instrument struct {
	Token          uint32  `json:"token"`
	ExchangeToken  string  `json:"exchange_token"`
	Exchange       string  `json:"exchange"`
	TradingSymbol  string  `json:"trading_symbol"`
	Name           string  `json:"name"`
	Expiry         string  `json:"expiry"` // dd-mm-yyyy
	StrikePrice    float64 `json:"strike_price"`
	TickSize       float64 `json:"tick_size"`
	LotSize        int     `json:"lot_size"`
	InstrumentType string  `json:"instrument_type"` // CE or PE
	Segment        string  `json:"segment"`
}

// Key returns the index key for the instrument's underlying: "exchange:name".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Name
}

// Less orders instruments by strike price ascending, calls before puts on
// equal strikes. This is the canonical order of every per-expiry list.
func Less(a, b *Instrument) bool {
	if a.StrikePrice == b.StrikePrice {
		return a.InstrumentType == InstrumentTypeCall && b.InstrumentType != InstrumentTypeCall
	}
	return a.StrikePrice < b.StrikePrice
}
