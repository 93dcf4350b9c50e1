package stream

import (
	"github.com/pramakrishn/express-option-chain/internal/model"
	"github.com/pramakrishn/express-option-chain/pkg/kiteconnect"
)

// Session is one websocket feed connection. Implementations own their
// reconnect behaviour; the stream layer only observes liveness and replaces
// sessions that die for good.
type Session interface {
	Connect() error
	Subscribe(tokens []uint32) error
	SetFullMode(tokens []uint32) error
	IsAlive() bool
	Stop()

	HandleConnect(fn func())
	HandleTicks(fn func([]model.Tick))
	HandleClose(fn func(error))
}

// SessionFactory builds a fresh Session. The supervisor calls it whenever a
// dead connection has to be replaced.
type SessionFactory func() Session

// NewTickerFactory returns a factory producing live Kite feed sessions.
func NewTickerFactory(apiKey, accessToken string) SessionFactory {
	return func() Session {
		return &tickerSession{t: kiteconnect.NewTicker(apiKey, accessToken)}
	}
}

type tickerSession struct {
	t *kiteconnect.Ticker
}

func (s *tickerSession) Connect() error                  { return s.t.Connect() }
func (s *tickerSession) Subscribe(tokens []uint32) error { return s.t.Subscribe(tokens) }
func (s *tickerSession) SetFullMode(tokens []uint32) error {
	return s.t.SetFullMode(tokens)
}
func (s *tickerSession) IsAlive() bool { return s.t.IsAlive() }
func (s *tickerSession) Stop()         { s.t.Stop() }

func (s *tickerSession) HandleConnect(fn func())           { s.t.OnConnect = fn }
func (s *tickerSession) HandleTicks(fn func([]model.Tick)) { s.t.OnTicks = fn }
func (s *tickerSession) HandleClose(fn func(error))        { s.t.OnClose = fn }
