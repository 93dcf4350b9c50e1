package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// ErrChainNotFound reports a symbol no aggregation pass has written yet.
var ErrChainNotFound = errors.New("chain: no aggregated chain")

// Reader is the read side of the chain store. Satisfied by *redisstore.Store.
type Reader interface {
	Chain(ctx context.Context, symbol string) (*model.OptionChain, error)
}

// Fetcher serves aggregated chains to consumers.
type Fetcher struct {
	store Reader
}

func NewFetcher(store Reader) *Fetcher {
	return &Fetcher{store: store}
}

// OptionChain returns the aggregated chain for one symbol.
func (f *Fetcher) OptionChain(ctx context.Context, symbol string) (*model.OptionChain, error) {
	oc, err := f.store.Chain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if oc == nil {
		return nil, fmt.Errorf("%w for %q, is the stream running?", ErrChainNotFound, symbol)
	}
	return oc, nil
}

// OptionChains returns chains for the given symbols in request order. The
// first missing symbol fails the whole call.
func (f *Fetcher) OptionChains(ctx context.Context, symbols []string) ([]*model.OptionChain, error) {
	out := make([]*model.OptionChain, 0, len(symbols))
	for _, sym := range symbols {
		oc, err := f.OptionChain(ctx, sym)
		if err != nil {
			return nil, err
		}
		out = append(out, oc)
	}
	return out, nil
}
