package kiteconnect

import (
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

func putU32(b []byte, off int, v uint32) { binary.BigEndian.PutUint32(b[off:off+4], v) }
func putU16(b []byte, off int, v uint16) { binary.BigEndian.PutUint16(b[off:off+2], v) }

// nfoToken builds a token whose low byte is not a special segment code.
func nfoToken(id uint32) uint32 { return id<<8 | 2 }

func TestParsePacket_LTP(t *testing.T) {
	b := make([]byte, 8)
	putU32(b, 0, nfoToken(7))
	putU32(b, 4, 12345) // 123.45

	tick, ok := parsePacket(b)
	if !ok {
		t.Fatal("expected packet parsed")
	}
	if tick.Mode != model.ModeLTP {
		t.Errorf("mode = %q, want ltp", tick.Mode)
	}
	if tick.LastPrice != 123.45 {
		t.Errorf("last price = %v, want 123.45", tick.LastPrice)
	}
	if !tick.Tradable {
		t.Error("expected tradable")
	}
}

func TestParsePacket_Quote(t *testing.T) {
	b := make([]byte, 44)
	putU32(b, 0, nfoToken(7))
	putU32(b, 4, 10050) // ltp 100.50
	putU32(b, 8, 75)    // last traded qty
	putU32(b, 12, 10010)
	putU32(b, 16, 500000) // volume
	putU32(b, 20, 1000)
	putU32(b, 24, 1200)
	putU32(b, 28, 9900)  // open
	putU32(b, 32, 10100) // high
	putU32(b, 36, 9800)  // low
	putU32(b, 40, 10000) // close 100.00

	tick, ok := parsePacket(b)
	if !ok {
		t.Fatal("expected packet parsed")
	}
	if tick.Mode != model.ModeQuote {
		t.Errorf("mode = %q, want quote", tick.Mode)
	}
	if tick.VolumeTraded != 500000 {
		t.Errorf("volume = %d, want 500000", tick.VolumeTraded)
	}
	if tick.OHLC.Close != 100 {
		t.Errorf("close = %v, want 100", tick.OHLC.Close)
	}
	// change = (100.50 - 100) / 100 * 100
	if math.Abs(tick.Change-0.5) > 1e-9 {
		t.Errorf("change = %v, want 0.5", tick.Change)
	}
}

func TestParsePacket_FullWithDepth(t *testing.T) {
	b := make([]byte, 184)
	putU32(b, 0, nfoToken(7))
	putU32(b, 4, 10050)
	putU32(b, 40, 10000)      // close
	putU32(b, 44, 1748000000) // last trade time
	putU32(b, 48, 42000)      // oi
	putU32(b, 52, 45000)      // oi day high
	putU32(b, 56, 41000)      // oi day low
	putU32(b, 60, 1748000005) // exchange timestamp

	// first bid level and first ask level
	putU32(b, 64, 75)
	putU32(b, 68, 10040)
	putU16(b, 72, 3)
	putU32(b, 64+5*12, 50)
	putU32(b, 68+5*12, 10060)
	putU16(b, 72+5*12, 2)

	tick, ok := parsePacket(b)
	if !ok {
		t.Fatal("expected packet parsed")
	}
	if tick.Mode != model.ModeFull {
		t.Errorf("mode = %q, want full", tick.Mode)
	}
	if tick.OI != 42000 || tick.OIDayHigh != 45000 || tick.OIDayLow != 41000 {
		t.Errorf("oi = %d/%d/%d, want 42000/45000/41000", tick.OI, tick.OIDayHigh, tick.OIDayLow)
	}
	if tick.LastTradeTime.IsZero() || tick.ExchangeTimestamp.IsZero() {
		t.Error("expected trade and exchange timestamps set")
	}
	if len(tick.Depth.Buy) != 5 || len(tick.Depth.Sell) != 5 {
		t.Fatalf("depth levels = %d/%d, want 5/5", len(tick.Depth.Buy), len(tick.Depth.Sell))
	}
	if tick.Depth.Buy[0].Quantity != 75 || tick.Depth.Buy[0].Price != 100.40 || tick.Depth.Buy[0].Orders != 3 {
		t.Errorf("best bid = %+v", tick.Depth.Buy[0])
	}
	if tick.Depth.Sell[0].Quantity != 50 || tick.Depth.Sell[0].Price != 100.60 {
		t.Errorf("best ask = %+v", tick.Depth.Sell[0])
	}
}

func TestParsePacket_CurrencyDivisor(t *testing.T) {
	b := make([]byte, 8)
	putU32(b, 0, 7<<8|segmentCDS)
	putU32(b, 4, 845000000) // 84.50 at divisor 1e7

	tick, ok := parsePacket(b)
	if !ok {
		t.Fatal("expected packet parsed")
	}
	if math.Abs(tick.LastPrice-84.5) > 1e-9 {
		t.Errorf("last price = %v, want 84.5", tick.LastPrice)
	}
}

func TestParsePacket_IndexQuote(t *testing.T) {
	b := make([]byte, 28)
	putU32(b, 0, 7<<8|segmentNSEIndices)
	putU32(b, 4, 2405000) // 24050.00
	putU32(b, 20, 2400000)

	tick, ok := parsePacket(b)
	if !ok {
		t.Fatal("expected packet parsed")
	}
	if tick.Tradable {
		t.Error("index packets must not be tradable")
	}
	if tick.Mode != model.ModeQuote {
		t.Errorf("mode = %q, want quote", tick.Mode)
	}
	if tick.OHLC.Close != 24000 {
		t.Errorf("close = %v, want 24000", tick.OHLC.Close)
	}
}

func TestParseFrame_MultiplePackets(t *testing.T) {
	p1 := make([]byte, 8)
	putU32(p1, 0, nfoToken(1))
	putU32(p1, 4, 100)
	p2 := make([]byte, 8)
	putU32(p2, 0, nfoToken(2))
	putU32(p2, 4, 200)

	frame := make([]byte, 2)
	putU16(frame, 0, 2)
	for _, p := range [][]byte{p1, p2} {
		l := make([]byte, 2)
		putU16(l, 0, uint16(len(p)))
		frame = append(frame, l...)
		frame = append(frame, p...)
	}

	tk := NewTicker("key", "token")
	ticks := tk.parseFrame(frame)
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].InstrumentToken != nfoToken(1) || ticks[1].InstrumentToken != nfoToken(2) {
		t.Errorf("wrong tokens: %d, %d", ticks[0].InstrumentToken, ticks[1].InstrumentToken)
	}
}

func tickerServer(t *testing.T) *Ticker {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	tk := NewTicker("key", "token")
	tk.SetRootURI("ws" + strings.TrimPrefix(srv.URL, "http"))
	return tk
}

func TestSubscribe_ReplacesRememberedSet(t *testing.T) {
	tk := tickerServer(t)
	if err := tk.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tk.Stop()

	if err := tk.Subscribe([]uint32{1, 2, 3}); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := tk.Subscribe([]uint32{1, 2, 3}); err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}
	if err := tk.SetFullMode([]uint32{1, 2, 3}); err != nil {
		t.Fatalf("first SetFullMode: %v", err)
	}
	if err := tk.SetFullMode([]uint32{1, 2, 3}); err != nil {
		t.Fatalf("second SetFullMode: %v", err)
	}

	tk.mu.Lock()
	nSub, nFull := len(tk.subscribed), len(tk.fullModeTokens)
	tk.mu.Unlock()
	if nSub != 3 {
		t.Errorf("remembered subscription has %d tokens, want 3", nSub)
	}
	if nFull != 3 {
		t.Errorf("remembered full-mode set has %d tokens, want 3", nFull)
	}
}

func TestSubscribe_FailedWriteLeavesNoState(t *testing.T) {
	tk := NewTicker("key", "token")

	if err := tk.Subscribe([]uint32{1, 2, 3}); err == nil {
		t.Fatal("expected error without a connection")
	}
	tk.Subscribe([]uint32{1, 2, 3})
	tk.SetFullMode([]uint32{1, 2, 3})

	tk.mu.Lock()
	nSub, nFull := len(tk.subscribed), len(tk.fullModeTokens)
	tk.mu.Unlock()
	if nSub != 0 || nFull != 0 {
		t.Errorf("failed writes recorded state: %d subscribed, %d full mode", nSub, nFull)
	}
}

func TestParseFrame_TruncatedFrame(t *testing.T) {
	frame := make([]byte, 4)
	putU16(frame, 0, 3) // claims 3 packets, carries none

	tk := NewTicker("key", "token")
	if ticks := tk.parseFrame(frame); len(ticks) != 0 {
		t.Errorf("expected no ticks from truncated frame, got %d", len(ticks))
	}
}
