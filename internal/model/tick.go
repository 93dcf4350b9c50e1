package model

// Subscription modes of the streaming feed. Full mode is the only mode that
// carries the depth and open-interest fields the chain builder needs.
const (
	ModeLTP   = "ltp"
	ModeQuote = "quote"
	ModeFull  = "full"
)

// DepthItem is one level of the order book, best level first.
type DepthItem struct {
	Quantity uint32  `json:"quantity"`
	Price    float64 `json:"price"`
	Orders   uint32  `json:"orders"`
}

// Depth holds the five best bid and ask levels.
type Depth struct {
	Buy  []DepthItem `json:"buy"`
	Sell []DepthItem `json:"sell"`
}

// OHLC holds the day's open/high/low and previous close.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Tick is the latest market snapshot for one instrument token. It is
// last-write-wins: every inbound update for the token replaces the stored
// value wholesale, no history is kept.
type Tick struct {
	InstrumentToken    uint32  `json:"instrument_token"`
	Mode               string  `json:"mode"`
	Tradable           bool    `json:"tradable"`
	LastPrice          float64 `json:"last_price"`
	LastTradedQuantity uint32  `json:"last_traded_quantity"`
	AverageTradedPrice float64 `json:"average_traded_price"`
	VolumeTraded       uint32  `json:"volume_traded"`
	TotalBuyQuantity   uint32  `json:"total_buy_quantity"`
	TotalSellQuantity  uint32  `json:"total_sell_quantity"`
	OHLC               OHLC    `json:"ohlc"`
	Change             float64 `json:"change"`
	LastTradeTime      Time    `json:"last_trade_time"`
	ExchangeTimestamp  Time    `json:"exchange_timestamp"`
	OI                 uint32  `json:"oi"`
	OIDayHigh          uint32  `json:"oi_day_high"`
	OIDayLow           uint32  `json:"oi_day_low"`
	Depth              Depth   `json:"depth"`
}
