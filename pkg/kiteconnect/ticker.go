package kiteconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

const (
	tickerRootURI     = "wss://ws.kite.trade"
	pingInterval      = 2500 * time.Millisecond
	writeWait         = 5 * time.Second
	defaultMaxRetries = 50
	reconnectBaseWait = 2 * time.Second
	reconnectMaxWait  = 30 * time.Second
)

// Exchange segment codes embedded in the low byte of an instrument token.
const (
	segmentCDS        = 3
	segmentBCD        = 6
	segmentNSEIndices = 9
)

// Ticker is a streaming client for the Kite websocket feed. One Ticker owns
// one connection; the caller subscribes a token set and receives parsed tick
// batches through OnTicks. Low-level reconnects are handled internally with
// exponential backoff and automatic resubscription.
type Ticker struct {
	apiKey      string
	accessToken string
	rootURI     string

	dialer *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	subscribed     []uint32
	fullModeTokens []uint32
	retries        int
	maxRetries     int

	ctx    context.Context
	cancel context.CancelFunc

	// Callbacks. Set before Connect; invoked from the ticker's goroutines.
	OnConnect   func()
	OnTicks     func([]model.Tick)
	OnClose     func(err error)
	OnError     func(err error)
	OnReconnect func(attempt int)
}

// NewTicker creates a Ticker. Credentials must already be valid; the feed
// rejects the dial otherwise.
func NewTicker(apiKey, accessToken string) *Ticker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{
		apiKey:      apiKey,
		accessToken: accessToken,
		rootURI:     tickerRootURI,
		dialer:      websocket.DefaultDialer,
		maxRetries:  defaultMaxRetries,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetRootURI overrides the feed endpoint, for tests.
func (t *Ticker) SetRootURI(uri string) { t.rootURI = uri }

// Connect dials the feed and starts the read and heartbeat loops.
func (t *Ticker) Connect() error {
	u, err := url.Parse(t.rootURI)
	if err != nil {
		return fmt.Errorf("kiteconnect: ticker uri: %w", err)
	}
	q := u.Query()
	q.Set("api_key", t.apiKey)
	q.Set("access_token", t.accessToken)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-Kite-Version", kiteVersion)

	conn, _, err := t.dialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("kiteconnect: ticker dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.retries = 0
	t.mu.Unlock()

	conn.SetPongHandler(func(string) error { return nil })

	go t.readLoop(conn)
	go t.pingLoop(conn)

	if t.OnConnect != nil {
		t.OnConnect()
	}
	return nil
}

// IsAlive reports whether the ticker currently holds a live connection.
func (t *Ticker) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Stop closes the connection permanently. The ticker will not reconnect.
func (t *Ticker) Stop() {
	t.cancel()
	t.mu.Lock()
	conn := t.conn
	t.connected = false
	t.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// Subscribe subscribes the given tokens. The set replaces the one remembered
// for replay after an internal reconnect; a failed write leaves the
// remembered set untouched.
func (t *Ticker) Subscribe(tokens []uint32) error {
	if err := t.writeJSON(map[string]interface{}{"a": "subscribe", "v": tokens}); err != nil {
		return err
	}
	t.mu.Lock()
	t.subscribed = append([]uint32(nil), tokens...)
	t.mu.Unlock()
	return nil
}

// SetFullMode switches the given tokens to full mode. Quote mode omits the
// depth and open-interest fields the chain builder requires. Like Subscribe,
// the remembered set is replaced only after a successful write.
func (t *Ticker) SetFullMode(tokens []uint32) error {
	if err := t.writeJSON(map[string]interface{}{
		"a": "mode",
		"v": []interface{}{model.ModeFull, tokens},
	}); err != nil {
		return err
	}
	t.mu.Lock()
	t.fullModeTokens = append([]uint32(nil), tokens...)
	t.mu.Unlock()
	return nil
}

func (t *Ticker) writeJSON(v interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("kiteconnect: ticker not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (t *Ticker) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (t *Ticker) readLoop(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.connected = false
			t.mu.Unlock()
			if t.ctx.Err() != nil {
				// deliberate Stop
				if t.OnClose != nil {
					t.OnClose(nil)
				}
				return
			}
			if t.OnError != nil {
				t.OnError(err)
			}
			t.reconnect()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			// 1-byte frames are server heartbeats
			if len(msg) < 2 {
				continue
			}
			ticks := t.parseFrame(msg)
			if len(ticks) > 0 && t.OnTicks != nil {
				t.OnTicks(ticks)
			}
		case websocket.TextMessage:
			// order postbacks and error notices; not consumed here
		}
	}
}

// reconnect redials with exponential backoff and replays the subscription.
func (t *Ticker) reconnect() {
	// Snapshot before redialing: OnConnect handlers usually resubscribe on
	// their own, and the replay below must not double up with them.
	t.mu.Lock()
	subscribed := t.subscribed
	fullMode := t.fullModeTokens
	t.subscribed = nil
	t.fullModeTokens = nil
	t.mu.Unlock()

	wait := reconnectBaseWait
	for {
		t.mu.Lock()
		t.retries++
		attempt := t.retries
		t.mu.Unlock()
		if attempt > t.maxRetries {
			if t.OnClose != nil {
				t.OnClose(fmt.Errorf("kiteconnect: ticker gave up after %d reconnect attempts", t.maxRetries))
			}
			return
		}

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > reconnectMaxWait {
			wait = reconnectMaxWait
		}

		if t.OnReconnect != nil {
			t.OnReconnect(attempt)
		}
		if err := t.Connect(); err != nil {
			continue
		}

		t.mu.Lock()
		needsSub := len(t.subscribed) == 0
		t.mu.Unlock()
		if needsSub && len(subscribed) > 0 {
			t.Subscribe(subscribed)
		}

		t.mu.Lock()
		needsMode := len(t.fullModeTokens) == 0
		t.mu.Unlock()
		if needsMode && len(fullMode) > 0 {
			t.SetFullMode(fullMode)
		}
		return
	}
}

// parseFrame splits a binary frame into packets and decodes each packet.
// Frame layout: int16 packet count, then per packet an int16 length followed
// by the packet bytes. All integers are big-endian.
func (t *Ticker) parseFrame(b []byte) []model.Tick {
	if len(b) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	ticks := make([]model.Tick, 0, count)

	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(b) {
			break
		}
		length := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if offset+length > len(b) {
			break
		}
		if tick, ok := parsePacket(b[offset : offset+length]); ok {
			ticks = append(ticks, tick)
		}
		offset += length
	}
	return ticks
}

func parsePacket(b []byte) (model.Tick, bool) {
	if len(b) < 8 {
		return model.Tick{}, false
	}
	token := binary.BigEndian.Uint32(b[0:4])
	segment := token & 0xff

	divisor := 100.0
	switch segment {
	case segmentCDS:
		divisor = 10000000.0
	case segmentBCD:
		divisor = 10000.0
	}
	price := func(off int) float64 {
		return float64(int32(binary.BigEndian.Uint32(b[off:off+4]))) / divisor
	}
	u32 := func(off int) uint32 {
		return binary.BigEndian.Uint32(b[off : off+4])
	}

	tick := model.Tick{
		InstrumentToken: token,
		Tradable:        segment != segmentNSEIndices,
		LastPrice:       price(4),
	}

	if segment == segmentNSEIndices {
		// Index packets: 28 bytes quote, 32 bytes full.
		switch len(b) {
		case 28, 32:
			tick.OHLC = model.OHLC{
				High:  price(8),
				Low:   price(12),
				Open:  price(16),
				Close: price(20),
			}
			if tick.OHLC.Close != 0 {
				tick.Change = (tick.LastPrice - tick.OHLC.Close) / tick.OHLC.Close * 100
			}
			if len(b) == 32 {
				tick.Mode = model.ModeFull
				tick.ExchangeTimestamp = model.NewTime(time.Unix(int64(u32(28)), 0))
			} else {
				tick.Mode = model.ModeQuote
			}
		default:
			tick.Mode = model.ModeLTP
		}
		return tick, true
	}

	switch len(b) {
	case 8:
		tick.Mode = model.ModeLTP

	case 44, 184:
		tick.Mode = model.ModeQuote
		tick.LastTradedQuantity = u32(8)
		tick.AverageTradedPrice = price(12)
		tick.VolumeTraded = u32(16)
		tick.TotalBuyQuantity = u32(20)
		tick.TotalSellQuantity = u32(24)
		tick.OHLC = model.OHLC{
			Open:  price(28),
			High:  price(32),
			Low:   price(36),
			Close: price(40),
		}
		if tick.OHLC.Close != 0 {
			tick.Change = (tick.LastPrice - tick.OHLC.Close) / tick.OHLC.Close * 100
		}

		if len(b) == 184 {
			tick.Mode = model.ModeFull
			if ltt := int64(u32(44)); ltt > 0 {
				tick.LastTradeTime = model.NewTime(time.Unix(ltt, 0))
			}
			tick.OI = u32(48)
			tick.OIDayHigh = u32(52)
			tick.OIDayLow = u32(56)
			if ets := int64(u32(60)); ets > 0 {
				tick.ExchangeTimestamp = model.NewTime(time.Unix(ets, 0))
			}
			tick.Depth = parseDepth(b[64:184], divisor)
		}

	default:
		return model.Tick{}, false
	}
	return tick, true
}

// parseDepth decodes ten 12-byte levels: five bids then five asks.
func parseDepth(b []byte, divisor float64) model.Depth {
	var depth model.Depth
	for i := 0; i < 10; i++ {
		off := i * 12
		if off+12 > len(b) {
			break
		}
		item := model.DepthItem{
			Quantity: binary.BigEndian.Uint32(b[off : off+4]),
			Price:    float64(int32(binary.BigEndian.Uint32(b[off+4:off+8]))) / divisor,
			Orders:   uint32(binary.BigEndian.Uint16(b[off+8 : off+10])),
		}
		if i < 5 {
			depth.Buy = append(depth.Buy, item)
		} else {
			depth.Sell = append(depth.Sell, item)
		}
	}
	return depth
}
