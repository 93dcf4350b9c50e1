// Package chain aggregates streamed ticks into per-underlying option chains.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

const (
	// passPause throttles aggregation when the symbol set is small enough
	// that a pass finishes almost instantly.
	passPause          = 200 * time.Millisecond
	smallSymbolSet     = 50
	passesPerHeartbeat = 30
)

// Store is the chain builder's view of the tick and catalog state.
// Satisfied by *redisstore.Store.
type Store interface {
	TokenInfo(ctx context.Context, symbol string) (map[string][]model.Instrument, error)
	Tick(ctx context.Context, token uint32) (*model.Tick, error)
	LTP(ctx context.Context, symbol string) (float64, bool, error)
	Chain(ctx context.Context, symbol string) (*model.OptionChain, error)
	WriteChain(ctx context.Context, symbol string, chain *model.OptionChain) error
}

// ErrNotFound reports a symbol or expiry with no listed option contracts.
var ErrNotFound = errors.New("chain: symbol not found")

// Journal receives periodic copies of built chains for offline history.
// Satisfied by *sqlite.Archive.
type Journal interface {
	SnapshotChain(ctx context.Context, symbol, expiry string, chain *model.OptionChain) error
}

// snapshotEvery spaces journal snapshots per symbol. Chains rebuild several
// times a second; journaling each pass would bloat the archive.
const snapshotEvery = time.Minute

// Builder assembles option chains from the latest stored ticks.
type Builder struct {
	store Store
	log   *slog.Logger

	// Journal, if set, receives a chain snapshot per symbol at most once
	// per snapshotEvery.
	Journal      Journal
	lastSnapshot map[string]time.Time

	// OnBuild, if set, observes every completed chain build. Used for metrics.
	OnBuild func(symbol string, took time.Duration)
}

func NewBuilder(store Store) *Builder {
	return &Builder{
		store: store,
		log:   slog.Default().With("component", "chain_builder"),
	}
}

// Build aggregates one symbol's contracts for one expiry and stores the
// result. Contracts whose tick has not arrived yet are skipped; the entry for
// the expiry is replaced wholesale while other expiries of the symbol are
// left as they are.
func (b *Builder) Build(ctx context.Context, symbol, expiry string) error {
	start := time.Now()

	index, err := b.store.TokenInfo(ctx, symbol)
	if err != nil {
		return err
	}
	if index == nil {
		return fmt.Errorf("%w: %q has no option contracts, was the instrument catalog refreshed?", ErrNotFound, symbol)
	}
	contracts := index[expiry]
	if len(contracts) == 0 {
		return fmt.Errorf("%w: %q lists no contracts expiring %s", ErrNotFound, symbol, expiry)
	}

	oc, err := b.chainBase(ctx, symbol, contracts[0])
	if err != nil {
		return err
	}

	entries := make([]model.StrikeEntry, 0, len(contracts)/2)
	byStrike := make(map[float64]int)
	for _, inst := range contracts {
		tick, err := b.store.Tick(ctx, inst.Token)
		if err != nil {
			return err
		}
		if tick == nil {
			continue
		}
		q := quoteFromTick(tick)
		i, ok := byStrike[inst.StrikePrice]
		if !ok {
			entries = append(entries, model.StrikeEntry{StrikePrice: inst.StrikePrice})
			i = len(entries) - 1
			byStrike[inst.StrikePrice] = i
		}
		if inst.InstrumentType == model.InstrumentTypeCall {
			entries[i].CE = q
		} else {
			entries[i].PE = q
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StrikePrice < entries[j].StrikePrice
	})

	oc.Expiry[expiry] = entries
	if err := b.store.WriteChain(ctx, symbol, oc); err != nil {
		return err
	}
	b.journal(ctx, symbol, expiry, oc)
	if b.OnBuild != nil {
		b.OnBuild(symbol, time.Since(start))
	}
	return nil
}

func (b *Builder) journal(ctx context.Context, symbol, expiry string, oc *model.OptionChain) {
	if b.Journal == nil {
		return
	}
	if b.lastSnapshot == nil {
		b.lastSnapshot = make(map[string]time.Time)
	}
	if time.Since(b.lastSnapshot[symbol]) < snapshotEvery {
		return
	}
	if err := b.Journal.SnapshotChain(ctx, symbol, expiry, oc); err != nil {
		// history is best effort, the live chain is already stored
		b.log.Error("chain snapshot failed", "symbol", symbol, "error", err)
		return
	}
	b.lastSnapshot[symbol] = time.Now()
}

// Run aggregates every symbol in a loop until the context ends. Per-symbol
// failures are logged and do not stop the loop.
func (b *Builder) Run(ctx context.Context, symbols []string, expiry string) {
	passes := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if passes%passesPerHeartbeat == 0 {
			b.log.Info("updating option chains in the background", "symbols", len(symbols), "expiry", expiry)
		}
		for _, sym := range symbols {
			if err := b.Build(ctx, sym, expiry); err != nil {
				b.log.Error("chain build failed", "symbol", sym, "error", err)
			}
		}
		passes++
		if len(symbols) <= smallSymbolSet {
			select {
			case <-ctx.Done():
				return
			case <-time.After(passPause):
			}
		}
	}
}

// chainBase builds the symbol-level frame of the chain, carrying over any
// previously aggregated expiries.
func (b *Builder) chainBase(ctx context.Context, symbol string, ref model.Instrument) (*model.OptionChain, error) {
	oc, err := b.store.Chain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if oc == nil {
		oc = &model.OptionChain{Expiry: map[string][]model.StrikeEntry{}}
	}
	oc.TradingSymbol = ref.Name
	oc.Exchange = ref.Exchange
	oc.Segment = ref.Segment
	oc.Source = model.ChainSource
	oc.LotSize = ref.LotSize
	oc.UnderlyingValue = b.underlyingValue(ctx, ref.Exchange, ref.Name)
	if oc.Expiry == nil {
		oc.Expiry = map[string][]model.StrikeEntry{}
	}
	return oc, nil
}

// underlyingValue resolves the spot price of the underlying. Only equity
// underlyings have one; index options and anything outside NFO get nil.
func (b *Builder) underlyingValue(ctx context.Context, exchange, name string) *float64 {
	if exchange != "NFO" || strings.Contains(name, "NIFTY") {
		return nil
	}
	spot, ok, err := b.store.LTP(ctx, "NSE:"+name)
	if err != nil {
		b.log.Error("spot lookup failed", "name", name, "error", err)
		return nil
	}
	if !ok {
		b.log.Error("no spot price for underlying", "name", name)
		return nil
	}
	return &spot
}

// quoteFromTick projects a stored full-mode tick onto one chain side.
func quoteFromTick(t *model.Tick) *model.Quote {
	q := &model.Quote{
		Premium:            t.LastPrice,
		LastTradeTime:      t.LastTradeTime,
		ExchangeTimestamp:  t.ExchangeTimestamp,
		LastTradedQuantity: t.LastTradedQuantity,
		Change:             t.Change,
		OI:                 t.OI,
		OIDayHigh:          t.OIDayHigh,
		OIDayLow:           t.OIDayLow,
		TotalBuyQuantity:   t.TotalBuyQuantity,
		OHLC:               t.OHLC,
		TotalSellQuantity:  t.TotalSellQuantity,
		Volume:             t.VolumeTraded,
		Bid:                t.Depth.Buy,
		Ask:                t.Depth.Sell,
		Tradable:           t.Tradable,
		Depth:              t.Depth,
		InstrumentToken:    t.InstrumentToken,
	}
	if len(t.Depth.Buy) > 0 {
		q.BidQuantity = t.Depth.Buy[0].Quantity
		q.BidPrice = t.Depth.Buy[0].Price
	}
	if len(t.Depth.Sell) > 0 {
		q.AskQuantity = t.Depth.Sell[0].Quantity
		q.AskPrice = t.Depth.Sell[0].Price
	}
	return q
}
