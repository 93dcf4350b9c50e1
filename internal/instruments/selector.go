package instruments

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// equityOptionsExchange is the exchange marker of equity options; the
// percentage filter is defined only for symbols carrying it.
const equityOptionsExchange = "NFO"

// Fetcher resolves the instrument tokens to subscribe for a symbol set.
type Fetcher struct {
	store Store
	log   *slog.Logger
}

// NewFetcher creates a Fetcher over the shared store.
func NewFetcher(store Store) *Fetcher {
	return &Fetcher{store: store, log: slog.With("component", "instruments")}
}

// Tokens resolves the token set for the given symbols and expiry. With a nil
// criteria it returns the union of every symbol's full token list. With the
// percentage criteria, equity-option symbols are narrowed to strikes within
// the band around the reference strike; symbols on other exchanges always
// contribute all their tokens. Resolution is read-only and idempotent.
func (f *Fetcher) Tokens(ctx context.Context, symbols []string, expiry string, criteria *model.Criteria) ([]uint32, error) {
	if criteria == nil {
		var all []uint32
		for _, symbol := range symbols {
			tokens, err := f.tokensForSymbol(ctx, symbol, expiry)
			if err != nil {
				return nil, err
			}
			all = append(all, tokens...)
		}
		return all, nil
	}

	if criteria.Name != model.CriteriaPercentage {
		return nil, fmt.Errorf("unsupported criteria %q", criteria.Name)
	}

	f.log.Info("applying percentage criteria", "value", criteria.Value)
	var all []uint32
	for _, symbol := range symbols {
		tokens, err := f.filteredTokensForSymbol(ctx, symbol, expiry, criteria.Value)
		if err != nil {
			return nil, err
		}
		all = append(all, tokens...)
	}
	return all, nil
}

// filteredTokensForSymbol applies the percentage band to one symbol. The
// filter needs a spot reference; when none exists the symbol falls back to
// its full token list rather than being dropped.
func (f *Fetcher) filteredTokensForSymbol(ctx context.Context, symbol, expiry string, percent float64) ([]uint32, error) {
	if !strings.Contains(symbol, equityOptionsExchange) {
		// filter defined only for equity options
		return f.tokensForSymbol(ctx, symbol, expiry)
	}

	list, err := f.instrumentList(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}

	spotKey := strings.Replace(symbol, equityOptionsExchange, "NSE", 1)
	spot, ok, err := f.store.LTP(ctx, spotKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Index underlyings have no cash price; for anything else a missing
		// spot is unexpected but still falls back to the unfiltered set.
		if !strings.Contains(strings.ToUpper(spotKey), "NIFTY") {
			f.log.Warn("no spot price for symbol, criteria not applied", "symbol", spotKey, "tokens", len(list))
		}
		return tokensOf(list), nil
	}

	reference := referenceStrike(list, spot)
	var tokens []uint32
	for i := range list {
		gap := (reference - list[i].StrikePrice) / reference * 100
		if gap < 0 {
			gap = -gap
		}
		if gap <= percent {
			tokens = append(tokens, list[i].Token)
		}
	}
	f.log.Debug("percentage criteria applied",
		"symbol", symbol, "kept", len(tokens), "total", len(list))
	return tokens, nil
}

// tokensForSymbol returns every option token of the symbol at the expiry.
func (f *Fetcher) tokensForSymbol(ctx context.Context, symbol, expiry string) ([]uint32, error) {
	list, err := f.instrumentList(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}
	return tokensOf(list), nil
}

func (f *Fetcher) instrumentList(ctx context.Context, symbol, expiry string) ([]model.Instrument, error) {
	expiryMap, err := f.store.TokenInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if expiryMap == nil {
		if strings.HasPrefix(symbol, "NSE:") {
			return nil, fmt.Errorf("%w: %s (equity options are keyed by the %s: prefix)",
				ErrNotFound, symbol, equityOptionsExchange)
		}
		return nil, fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
	}
	list, ok := expiryMap[expiry]
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: expiry %s for %s, valid expiries: %v",
			ErrNotFound, expiry, symbol, expiryKeys(expiryMap))
	}
	return list, nil
}

// referenceStrike returns the first strike at or above spot, scanning the
// strike-sorted list ascending, or the last strike when every strike is
// below spot.
func referenceStrike(list []model.Instrument, spot float64) float64 {
	for i := range list {
		if list[i].StrikePrice >= spot {
			return list[i].StrikePrice
		}
	}
	return list[len(list)-1].StrikePrice
}

func tokensOf(list []model.Instrument) []uint32 {
	tokens := make([]uint32, len(list))
	for i := range list {
		tokens[i] = list[i].Token
	}
	return tokens
}

func expiryKeys(m map[string][]model.Instrument) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
