// Package stream subscribes option token sets to the Kite websocket feed and
// keeps the tick table current. Token volume is spread over as few sessions
// as possible and every session is supervised until the whole set streams in
// full mode.
package stream

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// Store is the catalog state the stream validates requests against.
// Satisfied by *redisstore.Store.
type Store interface {
	TokenInfoKeys(ctx context.Context) ([]string, error)
	IsValidExpiry(ctx context.Context, expiry string) (bool, error)
}

// TokenResolver turns symbols plus an expiry into the instrument tokens to
// subscribe. Satisfied by *instruments.Fetcher.
type TokenResolver interface {
	Tokens(ctx context.Context, symbols []string, expiry string, criteria *model.Criteria) ([]uint32, error)
}

// Config assembles a Stream.
type Config struct {
	Symbols  []string
	Expiry   string
	Criteria *model.Criteria

	// MaxConnections caps concurrent feed sessions. Defaults to
	// MaxWebsocketConnections; the feed rejects more per API key.
	MaxConnections int

	Store    Store
	Resolver TokenResolver
	Factory  SessionFactory
	Ingestor *Ingestor

	// Chain, if set, runs chain aggregation once all workers are healthy.
	Chain ChainRunner

	// OnReplace and OnDegraded observe worker lifecycle events.
	OnReplace  func(workerID int)
	OnDegraded func(workerID int)
}

// ChainRunner aggregates streamed ticks into option chains. Satisfied by
// *chain.Builder.
type ChainRunner interface {
	Run(ctx context.Context, symbols []string, expiry string)
}

// Stream owns the full tick pipeline for one symbol set: a planned number of
// supervised feed sessions plus the chain aggregation loop behind them.
type Stream struct {
	cfg     Config
	tokens  []uint32
	workers []*Worker
	log     *slog.Logger
}

// New validates the request and resolves the token set. Unusable input comes
// back as a *ValidationError before anything connects.
func New(ctx context.Context, cfg Config) (*Stream, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = MaxWebsocketConnections
	}
	if err := validate(ctx, cfg); err != nil {
		return nil, err
	}
	tokens, err := cfg.Resolver.Tokens(ctx, cfg.Symbols, cfg.Expiry, cfg.Criteria)
	if err != nil {
		return nil, err
	}
	if budget := cfg.MaxConnections * MaxTokensPerSession; len(tokens) > budget {
		return nil, validationErrorf(
			"stream: %d tokens exceed the budget of %d across %d connections; raise max connections or narrow the strike criteria",
			len(tokens), budget, cfg.MaxConnections)
	}
	return &Stream{
		cfg:    cfg,
		tokens: tokens,
		log:    slog.Default().With("component", "stream"),
	}, nil
}

// Tokens returns the resolved subscription set.
func (s *Stream) Tokens() []uint32 { return s.tokens }

// Start brings up the feed sessions and blocks until a supervision pass finds
// them all healthy. Chain aggregation then runs on the caller's goroutine, or
// in the background when background is true.
func (s *Stream) Start(ctx context.Context, background bool) error {
	n := connectionCount(len(s.tokens), s.cfg.MaxConnections)
	s.log.Info("starting stream",
		"symbols", len(s.cfg.Symbols), "tokens", len(s.tokens), "connections", n)

	sup := NewSupervisor(s.cfg.Factory, s.cfg.Ingestor)
	sup.OnReplace = s.cfg.OnReplace
	sup.OnDegraded = s.cfg.OnDegraded

	s.workers = make([]*Worker, 0, n)
	for i, slice := range partition(s.tokens, n) {
		w := newWorker(ctx, i, slice, s.cfg.Factory(), s.cfg.Ingestor)
		w.OnDegraded = s.cfg.OnDegraded
		w.Start()
		s.workers = append(s.workers, w)
	}

	if err := sup.Run(ctx, s.workers); err != nil {
		return err
	}

	if s.cfg.Chain == nil {
		return nil
	}
	if background {
		go s.cfg.Chain.Run(ctx, s.cfg.Symbols, s.cfg.Expiry)
		return nil
	}
	s.cfg.Chain.Run(ctx, s.cfg.Symbols, s.cfg.Expiry)
	return nil
}

// AliveWorkers reports how many workers currently hold a healthy session.
func (s *Stream) AliveWorkers() int {
	n := 0
	for _, w := range s.workers {
		if w.Alive() {
			n++
		}
	}
	return n
}

// Stop tears down every worker session.
func (s *Stream) Stop() {
	for _, w := range s.workers {
		w.Stop()
	}
}

func validate(ctx context.Context, cfg Config) error {
	if cfg.Store == nil || cfg.Resolver == nil || cfg.Factory == nil || cfg.Ingestor == nil {
		return validationErrorf("stream: store, resolver, session factory and ingestor are all required")
	}
	if len(cfg.Symbols) == 0 {
		return validationErrorf("stream: no symbols requested")
	}
	for _, sym := range cfg.Symbols {
		if !strings.Contains(sym, ":") {
			return validationErrorf("stream: symbol %q must be exchange qualified, like NFO:NIFTY", sym)
		}
	}

	known, err := cfg.Store.TokenInfoKeys(ctx)
	if err != nil {
		return err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	for _, sym := range cfg.Symbols {
		if _, ok := knownSet[sym]; !ok {
			return validationErrorf("stream: symbol %q has no listed option contracts", sym)
		}
	}

	ok, err := cfg.Store.IsValidExpiry(ctx, cfg.Expiry)
	if err != nil {
		return err
	}
	if !ok {
		return validationErrorf("stream: %q is not a listed expiry date", cfg.Expiry)
	}
	return nil
}
