package model

// ChainSource identifies where chain quotes were sourced from.
const ChainSource = "kite_api"

// Quote is one side (call or put) of a strike entry, derived from the latest
// stored tick of that contract.
type Quote struct {
	BidQuantity        uint32      `json:"bid_quantity"`
	BidPrice           float64     `json:"bid_price"`
	AskQuantity        uint32      `json:"ask_quantity"`
	AskPrice           float64     `json:"ask_price"`
	Premium            float64     `json:"premium"`
	LastTradeTime      Time        `json:"last_trade_time"`
	ExchangeTimestamp  Time        `json:"exchange_timestamp"`
	LastTradedQuantity uint32      `json:"last_traded_quantity"`
	Change             float64     `json:"change"`
	OI                 uint32      `json:"oi"`
	OIDayHigh          uint32      `json:"oi_day_high"`
	OIDayLow           uint32      `json:"oi_day_low"`
	TotalBuyQuantity   uint32      `json:"total_buy_quantity"`
	OHLC               OHLC        `json:"ohlc"`
	TotalSellQuantity  uint32      `json:"total_sell_quantity"`
	Volume             uint32      `json:"volume"`
	Bid                []DepthItem `json:"bid"`
	Ask                []DepthItem `json:"ask"`
	Tradable           bool        `json:"tradable"`
	Depth              Depth       `json:"depth"`
	InstrumentToken    uint32      `json:"instrument_token"`
}

// StrikeEntry is one row of the chain: a strike and whichever sides have a
// known tick. A row exists only if at least one side is present.
type StrikeEntry struct {
	StrikePrice float64 `json:"strike_price"`
	CE          *Quote  `json:"ce,omitempty"`
	PE          *Quote  `json:"pe,omitempty"`
}

// OptionChain is the aggregated per-underlying view served to readers.
// The Expiry map holds one strike-ascending slice per aggregated expiry;
// each slice is replaced atomically on every aggregation pass.
type OptionChain struct {
	TradingSymbol   string                   `json:"trading_symbol"`
	Exchange        string                   `json:"exchange"`
	Segment         string                   `json:"segment"`
	UnderlyingValue *float64                 `json:"underlying_value"`
	Expiry          map[string][]StrikeEntry `json:"expiry"`
	Source          string                   `json:"source"`
	LotSize         int                      `json:"lot_size"`
}
