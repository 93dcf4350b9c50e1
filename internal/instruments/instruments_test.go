package instruments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pramakrishn/express-option-chain/internal/model"
	"github.com/pramakrishn/express-option-chain/pkg/kiteconnect"
)

type fakeStore struct {
	tokenInfo   map[string]map[string][]model.Instrument
	expiries    []string
	ltp         map[string]float64
	lastRefresh time.Time
	hasRefresh  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokenInfo: map[string]map[string][]model.Instrument{},
		ltp:       map[string]float64{},
	}
}

func (f *fakeStore) ReplaceTokenInfo(ctx context.Context, index map[string]map[string][]model.Instrument) error {
	f.tokenInfo = index
	return nil
}

func (f *fakeStore) TokenInfo(ctx context.Context, symbol string) (map[string][]model.Instrument, error) {
	return f.tokenInfo[symbol], nil
}

func (f *fakeStore) ReplaceValidExpiries(ctx context.Context, expiries []string) error {
	f.expiries = expiries
	return nil
}

func (f *fakeStore) SetLTP(ctx context.Context, symbol string, price float64) error {
	f.ltp[symbol] = price
	return nil
}

func (f *fakeStore) LTP(ctx context.Context, symbol string) (float64, bool, error) {
	v, ok := f.ltp[symbol]
	return v, ok, nil
}

func (f *fakeStore) SetLastRefreshTime(ctx context.Context, t time.Time) error {
	f.lastRefresh = t
	f.hasRefresh = true
	return nil
}

func (f *fakeStore) LastRefreshTime(ctx context.Context) (time.Time, bool, error) {
	return f.lastRefresh, f.hasRefresh, nil
}

type fakeCatalog struct {
	rows    []kiteconnect.CatalogInstrument
	quotes  map[string]kiteconnect.LTPQuote
	fetches int
}

func (f *fakeCatalog) Instruments(ctx context.Context) ([]kiteconnect.CatalogInstrument, error) {
	f.fetches++
	return f.rows, nil
}

func (f *fakeCatalog) LTP(ctx context.Context, symbols []string) (map[string]kiteconnect.LTPQuote, error) {
	out := make(map[string]kiteconnect.LTPQuote)
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func row(token uint32, name, kind string, strike float64, expiry time.Time) kiteconnect.CatalogInstrument {
	return kiteconnect.CatalogInstrument{
		InstrumentToken: token,
		TradingSymbol:   name,
		Name:            name,
		Exchange:        "NFO",
		Segment:         "NFO-OPT",
		InstrumentType:  kind,
		Strike:          strike,
		Expiry:          expiry,
		LotSize:         50,
	}
}

var mayExpiry = time.Date(2026, time.May, 28, 0, 0, 0, 0, time.UTC)

func TestManager_RefreshBuildsSortedIndex(t *testing.T) {
	cat := &fakeCatalog{
		rows: []kiteconnect.CatalogInstrument{
			row(3, "RELIANCE", "PE", 1300, mayExpiry),
			row(1, "RELIANCE", "CE", 1300, mayExpiry),
			row(2, "RELIANCE", "CE", 1200, mayExpiry),
			// non-option rows must be ignored
			{InstrumentToken: 99, Name: "RELIANCE", Exchange: "NSE", Segment: "NSE"},
		},
		quotes: map[string]kiteconnect.LTPQuote{
			"NSE:RELIANCE": {LastPrice: 1250.5},
		},
	}
	fs := newFakeStore()
	m := NewManager(ManagerConfig{Catalog: cat, Store: fs})

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	list := fs.tokenInfo["NFO:RELIANCE"]["28-05-2026"]
	if len(list) != 3 {
		t.Fatalf("expected 3 contracts, got %d", len(list))
	}
	// strike ascending, call before put on equal strikes
	want := []uint32{2, 1, 3}
	for i, tok := range want {
		if list[i].Token != tok {
			t.Errorf("position %d: token %d, want %d", i, list[i].Token, tok)
		}
	}

	if len(fs.expiries) != 1 || fs.expiries[0] != "28-05-2026" {
		t.Errorf("expiries = %v, want [28-05-2026]", fs.expiries)
	}
	if fs.ltp["NSE:RELIANCE"] != 1250.5 {
		t.Errorf("spot = %v, want 1250.5", fs.ltp["NSE:RELIANCE"])
	}
	if !fs.hasRefresh {
		t.Error("expected refresh time recorded")
	}
}

func TestManager_IndexSpotNotFetched(t *testing.T) {
	cat := &fakeCatalog{
		rows: []kiteconnect.CatalogInstrument{
			row(1, "NIFTY", "CE", 24000, mayExpiry),
		},
	}
	fs := newFakeStore()
	m := NewManager(ManagerConfig{Catalog: cat, Store: fs})

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(fs.ltp) != 0 {
		t.Errorf("expected no spot prices for index underlyings, got %v", fs.ltp)
	}
}

func TestManager_StrictFailsOnMissingSpot(t *testing.T) {
	cat := &fakeCatalog{
		rows: []kiteconnect.CatalogInstrument{
			row(1, "RELIANCE", "CE", 1300, mayExpiry),
		},
		// no quote for NSE:RELIANCE
	}
	m := NewManager(ManagerConfig{Catalog: cat, Store: newFakeStore(), Strict: true})

	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected error in strict mode with missing spot")
	}
}

func TestManager_RefreshIfStaleSkipsSameDay(t *testing.T) {
	cat := &fakeCatalog{
		rows: []kiteconnect.CatalogInstrument{
			row(1, "NIFTY", "CE", 24000, mayExpiry),
		},
	}
	fs := newFakeStore()
	m := NewManager(ManagerConfig{Catalog: cat, Store: fs})

	if err := m.RefreshIfStale(context.Background(), false); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if err := m.RefreshIfStale(context.Background(), false); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if cat.fetches != 1 {
		t.Errorf("expected 1 catalog fetch, got %d", cat.fetches)
	}

	if err := m.RefreshIfStale(context.Background(), true); err != nil {
		t.Fatalf("forced refresh: %v", err)
	}
	if cat.fetches != 2 {
		t.Errorf("expected forced refresh to fetch again, got %d fetches", cat.fetches)
	}
}

func TestManager_StaleWhenRefreshedYesterday(t *testing.T) {
	fs := newFakeStore()
	fs.lastRefresh = time.Now().AddDate(0, 0, -1)
	fs.hasRefresh = true

	m := NewManager(ManagerConfig{Catalog: &fakeCatalog{}, Store: fs})
	stale, err := m.IsStaleForToday(context.Background())
	if err != nil {
		t.Fatalf("IsStaleForToday: %v", err)
	}
	if !stale {
		t.Error("expected stale after a day")
	}
}

func option(token uint32, kind string, strike float64) model.Instrument {
	return model.Instrument{
		Token:          token,
		Exchange:       "NFO",
		Name:           "TATAMOTORS",
		StrikePrice:    strike,
		InstrumentType: kind,
		Segment:        "NFO-OPT",
	}
}

func seedSelector(fs *fakeStore, expiry string) {
	fs.tokenInfo["NFO:TATAMOTORS"] = map[string][]model.Instrument{
		expiry: {
			option(1, "CE", 90),
			option(2, "PE", 90),
			option(3, "CE", 100),
			option(4, "PE", 100),
			option(5, "CE", 110),
			option(6, "PE", 110),
		},
	}
}

func TestFetcher_NoCriteriaReturnsUnion(t *testing.T) {
	fs := newFakeStore()
	seedSelector(fs, "28-05-2026")
	f := NewFetcher(fs)

	tokens, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "28-05-2026", nil)
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}
	if len(tokens) != 6 {
		t.Errorf("expected 6 tokens, got %d", len(tokens))
	}

	// resolution is read-only; a second call returns the same set
	again, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "28-05-2026", nil)
	if err != nil {
		t.Fatalf("second Tokens: %v", err)
	}
	if len(again) != len(tokens) {
		t.Errorf("resolution not idempotent: %d then %d", len(tokens), len(again))
	}
}

func TestFetcher_PercentageCriteriaNarrowsStrikes(t *testing.T) {
	fs := newFakeStore()
	seedSelector(fs, "28-05-2026")
	fs.ltp["NSE:TATAMOTORS"] = 99

	f := NewFetcher(fs)
	tokens, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "28-05-2026", model.Percentage(5))
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}

	// spot 99 → reference strike 100; 5% band keeps only the 100s
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
	if tokens[0] != 3 || tokens[1] != 4 {
		t.Errorf("expected tokens [3 4], got %v", tokens)
	}
}

func TestFetcher_PercentageWideBandKeepsAll(t *testing.T) {
	fs := newFakeStore()
	seedSelector(fs, "28-05-2026")
	fs.ltp["NSE:TATAMOTORS"] = 99

	f := NewFetcher(fs)
	tokens, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "28-05-2026", model.Percentage(15))
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}
	if len(tokens) != 6 {
		t.Errorf("expected all 6 tokens within 15%%, got %d", len(tokens))
	}
}

func TestFetcher_MissingSpotFallsBackToAllTokens(t *testing.T) {
	fs := newFakeStore()
	seedSelector(fs, "28-05-2026")
	// no spot price stored

	f := NewFetcher(fs)
	tokens, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "28-05-2026", model.Percentage(5))
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}
	if len(tokens) != 6 {
		t.Errorf("expected fallback to all 6 tokens, got %d", len(tokens))
	}
}

func TestFetcher_NonEquityExchangeIgnoresCriteria(t *testing.T) {
	fs := newFakeStore()
	fs.tokenInfo["MCX:CRUDEOIL"] = map[string][]model.Instrument{
		"28-05-2026": {
			{Token: 7, Exchange: "MCX", Name: "CRUDEOIL", StrikePrice: 5000, InstrumentType: "CE"},
			{Token: 8, Exchange: "MCX", Name: "CRUDEOIL", StrikePrice: 6000, InstrumentType: "CE"},
		},
	}

	f := NewFetcher(fs)
	tokens, err := f.Tokens(context.Background(), []string{"MCX:CRUDEOIL"}, "28-05-2026", model.Percentage(1))
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("expected both tokens untouched by criteria, got %d", len(tokens))
	}
}

func TestFetcher_UnknownSymbol(t *testing.T) {
	f := NewFetcher(newFakeStore())
	_, err := f.Tokens(context.Background(), []string{"NFO:GHOST"}, "28-05-2026", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetcher_UnknownExpiry(t *testing.T) {
	fs := newFakeStore()
	seedSelector(fs, "28-05-2026")
	f := NewFetcher(fs)

	_, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "01-01-2020", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetcher_UnsupportedCriteria(t *testing.T) {
	fs := newFakeStore()
	seedSelector(fs, "28-05-2026")
	f := NewFetcher(fs)

	_, err := f.Tokens(context.Background(), []string{"NFO:TATAMOTORS"}, "28-05-2026",
		&model.Criteria{Name: "volume", Value: 1})
	if err == nil {
		t.Fatal("expected error for unsupported criteria")
	}
}
