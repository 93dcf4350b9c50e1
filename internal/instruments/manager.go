// Package instruments maintains the daily instrument index: the per-symbol,
// per-expiry strike-sorted option lists, the valid-expiry set and the spot
// prices of the underlyings, all persisted in the shared store. It also
// resolves the concrete token set to subscribe for a symbol/expiry request.
package instruments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pramakrishn/express-option-chain/internal/model"
	"github.com/pramakrishn/express-option-chain/pkg/kiteconnect"
)

// ErrNotFound is returned when a symbol or expiry is absent from the index.
var ErrNotFound = errors.New("not found in instrument index")

// Catalog is the upstream reference-data boundary.
type Catalog interface {
	Instruments(ctx context.Context) ([]kiteconnect.CatalogInstrument, error)
	LTP(ctx context.Context, symbols []string) (map[string]kiteconnect.LTPQuote, error)
}

// Store is the slice of the shared store this package uses.
type Store interface {
	ReplaceTokenInfo(ctx context.Context, index map[string]map[string][]model.Instrument) error
	TokenInfo(ctx context.Context, symbol string) (map[string][]model.Instrument, error)
	ReplaceValidExpiries(ctx context.Context, expiries []string) error
	SetLTP(ctx context.Context, symbol string, price float64) error
	LTP(ctx context.Context, symbol string) (float64, bool, error)
	SetLastRefreshTime(ctx context.Context, t time.Time) error
	LastRefreshTime(ctx context.Context) (time.Time, bool, error)
}

// Archiver persists a copy of the refreshed option catalog off the hot path.
// Optional; a nil Archiver disables archiving.
type Archiver interface {
	ArchiveCatalog(ctx context.Context, fetchedAt time.Time, index map[string]map[string][]model.Instrument) error
}

// ManagerConfig configures the index manager.
type ManagerConfig struct {
	Catalog Catalog
	Store   Store
	Archive Archiver // optional

	// Strict makes a missing spot price fail the whole refresh instead of
	// being logged and skipped.
	Strict bool
}

// Manager parses the full instrument catalog into the index once per
// trading day.
type Manager struct {
	catalog Catalog
	store   Store
	archive Archiver
	strict  bool
	log     *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		catalog: cfg.Catalog,
		store:   cfg.Store,
		archive: cfg.Archive,
		strict:  cfg.Strict,
		log:     slog.With("component", "instruments"),
	}
}

// Refresh rebuilds the whole index from the upstream catalog: option lists,
// valid expiries, underlying spot prices and the refresh timestamp. The old
// index is replaced wholesale; readers never observe a half-built one.
func (m *Manager) Refresh(ctx context.Context) error {
	m.log.Info("refreshing instrument index")
	rows, err := m.catalog.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("fetch instrument catalog: %w", err)
	}
	m.log.Info("fetched instrument catalog", "rows", len(rows))

	index, expiries := buildIndex(rows)
	if err := m.store.ReplaceValidExpiries(ctx, expiries); err != nil {
		return err
	}
	if err := m.store.ReplaceTokenInfo(ctx, index); err != nil {
		return err
	}
	m.log.Info("rebuilt instrument index", "symbols", len(index), "expiries", len(expiries))

	if err := m.refreshSpots(ctx, rows); err != nil {
		return err
	}

	now := time.Now()
	if err := m.store.SetLastRefreshTime(ctx, now); err != nil {
		return err
	}

	if m.archive != nil {
		if err := m.archive.ArchiveCatalog(ctx, now, index); err != nil {
			// archive is an audit copy, never fatal
			m.log.Error("catalog archive failed", "err", err)
		}
	}
	return nil
}

// buildIndex groups option rows by "exchange:name" and expiry, each list
// sorted by strike ascending with calls before puts on equal strikes.
func buildIndex(rows []kiteconnect.CatalogInstrument) (map[string]map[string][]model.Instrument, []string) {
	index := make(map[string]map[string][]model.Instrument)
	expirySet := make(map[string]struct{})

	for _, row := range rows {
		if !strings.Contains(row.Segment, "OPT") {
			continue
		}
		expiry := row.Expiry.Format(model.ExpiryLayout)
		expirySet[expiry] = struct{}{}

		inst := model.Instrument{
			Token:          row.InstrumentToken,
			ExchangeToken:  row.ExchangeToken,
			Exchange:       row.Exchange,
			TradingSymbol:  row.TradingSymbol,
			Name:           row.Name,
			Expiry:         expiry,
			StrikePrice:    row.Strike,
			TickSize:       row.TickSize,
			LotSize:        row.LotSize,
			InstrumentType: row.InstrumentType,
			Segment:        row.Segment,
		}

		key := inst.Key()
		if index[key] == nil {
			index[key] = make(map[string][]model.Instrument)
		}
		index[key][expiry] = append(index[key][expiry], inst)
	}

	for _, expiryMap := range index {
		for _, list := range expiryMap {
			sort.SliceStable(list, func(i, j int) bool {
				return model.Less(&list[i], &list[j])
			})
		}
	}

	expiries := make([]string, 0, len(expirySet))
	for e := range expirySet {
		expiries = append(expiries, e)
	}
	sort.Strings(expiries)
	return index, expiries
}

// refreshSpots fetches the last price of every non-index equity underlying
// referenced by at least one NFO option row. Index underlyings (name
// containing NIFTY) carry no tradable cash instrument and are excluded up
// front.
func (m *Manager) refreshSpots(ctx context.Context, rows []kiteconnect.CatalogInstrument) error {
	symbolSet := make(map[string]struct{})
	for _, row := range rows {
		if strings.Contains(row.Segment, "NFO") && !strings.Contains(row.Name, "NIFTY") {
			symbolSet["NSE:"+row.Name] = struct{}{}
		}
	}
	if len(symbolSet) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	m.log.Info("fetching underlying spot prices", "symbols", len(symbols))

	quotes, err := m.catalog.LTP(ctx, symbols)
	if err != nil {
		return fmt.Errorf("fetch spot prices: %w", err)
	}

	if len(quotes) < len(symbols) {
		var missing []string
		for _, s := range symbols {
			if _, ok := quotes[s]; !ok {
				missing = append(missing, s)
			}
		}
		if m.strict {
			return fmt.Errorf("spot prices missing for %d symbols: %v", len(missing), missing)
		}
		m.log.Debug("spot prices missing for some symbols", "count", len(missing))
	}

	for symbol, quote := range quotes {
		if err := m.store.SetLTP(ctx, symbol, quote.LastPrice); err != nil {
			return err
		}
	}
	m.log.Info("updated underlying spot prices", "count", len(quotes))
	return nil
}

// IsStaleForToday reports whether the index has not been rebuilt on the
// current calendar day.
func (m *Manager) IsStaleForToday(ctx context.Context) (bool, error) {
	last, ok, err := m.store.LastRefreshTime(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	y1, m1, d1 := last.Date()
	y2, m2, d2 := time.Now().Date()
	return y1 != y2 || m1 != m2 || d1 != d2, nil
}

// RefreshIfStale refreshes when forced or when today's refresh has not run.
// Idempotent: a second call on the same day is a no-op unless forced.
func (m *Manager) RefreshIfStale(ctx context.Context, force bool) error {
	if !force {
		stale, err := m.IsStaleForToday(ctx)
		if err != nil {
			return err
		}
		if !stale {
			m.log.Debug("instrument index fresh for today, skipping refresh")
			return nil
		}
	}
	return m.Refresh(ctx)
}
