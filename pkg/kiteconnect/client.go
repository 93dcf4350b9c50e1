// Package kiteconnect is a minimal Zerodha Kite Connect client covering the
// surface this project needs: the daily instrument dump, last-traded-price
// quotes, the profile call used as a connection check, and the streaming
// ticker. It mirrors the official API routes and header conventions.
package kiteconnect

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRootURL = "https://api.kite.trade"
	kiteVersion    = "3"
	defaultTimeout = 7 * time.Second
)

var routes = map[string]string{
	"instruments":   "/instruments",
	"ltp":           "/quote/ltp",
	"user.profile":  "/user/profile",
	"session.token": "/session/token",
}

// Config configures the REST client.
type Config struct {
	APIKey      string
	AccessToken string

	RootURL string        // default: https://api.kite.trade
	Timeout time.Duration // default: 7s
}

// Client is the Kite Connect REST client.
type Client struct {
	apiKey      string
	accessToken string
	rootURL     string

	httpClient *http.Client
}

// CatalogInstrument is one raw row of the instrument dump CSV. Non-option
// rows (equities, futures) appear here too; the instrument index decides
// which rows to keep.
type CatalogInstrument struct {
	InstrumentToken uint32
	ExchangeToken   string
	TradingSymbol   string
	Name            string
	Expiry          time.Time // zero for non-derivatives
	Strike          float64
	TickSize        float64
	LotSize         int
	InstrumentType  string
	Segment         string
	Exchange        string
}

// LTPQuote is the last-price quote for one symbol.
type LTPQuote struct {
	InstrumentToken uint32  `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
}

// NewClient creates a REST client.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRootURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		rootURL:     strings.TrimRight(cfg.RootURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// SetAccessToken replaces the access token, e.g. after a session renewal.
func (c *Client) SetAccessToken(token string) { c.accessToken = token }

func (c *Client) do(ctx context.Context, method, route string, params url.Values) (*http.Response, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("kiteconnect: unknown route %q", route)
	}
	reqURL := c.rootURL + uri
	var body io.Reader
	if params != nil {
		if method == http.MethodGet {
			reqURL += "?" + params.Encode()
		} else {
			body = strings.NewReader(params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	if c.accessToken != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kiteconnect: %s %s: %w", method, uri, err)
	}
	return resp, nil
}

// apiEnvelope is the standard JSON wrapper of non-CSV endpoints.
type apiEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) getJSON(ctx context.Context, route string, params url.Values, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, route, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("kiteconnect: decode %s response: %w", route, err)
	}
	if env.Status != "success" {
		return fmt.Errorf("kiteconnect: %s failed: %s: %s", route, env.ErrorType, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("kiteconnect: decode %s data: %w", route, err)
		}
	}
	return nil
}

// Instruments downloads and parses the full instrument dump. The dump is a
// CSV refreshed by the exchange once per day; callers should cache it for
// the trading day.
func (c *Client) Instruments(ctx context.Context) ([]CatalogInstrument, error) {
	resp, err := c.do(ctx, http.MethodGet, "instruments", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kiteconnect: instruments: unexpected status %s", resp.Status)
	}
	return parseInstrumentsCSV(resp.Body)
}

func parseInstrumentsCSV(r io.Reader) ([]CatalogInstrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("kiteconnect: instruments csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(rec []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return rec[idx]
	}

	var out []CatalogInstrument
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("kiteconnect: instruments csv row: %w", err)
		}

		token, _ := strconv.ParseUint(field(rec, "instrument_token"), 10, 32)
		strike, _ := strconv.ParseFloat(field(rec, "strike"), 64)
		tickSize, _ := strconv.ParseFloat(field(rec, "tick_size"), 64)
		lotSize, _ := strconv.Atoi(field(rec, "lot_size"))
		var expiry time.Time
		if s := field(rec, "expiry"); s != "" {
			expiry, _ = time.Parse("2006-01-02", s)
		}

		out = append(out, CatalogInstrument{
			InstrumentToken: uint32(token),
			ExchangeToken:   field(rec, "exchange_token"),
			TradingSymbol:   field(rec, "tradingsymbol"),
			Name:            field(rec, "name"),
			Expiry:          expiry,
			Strike:          strike,
			TickSize:        tickSize,
			LotSize:         lotSize,
			InstrumentType:  field(rec, "instrument_type"),
			Segment:         field(rec, "segment"),
			Exchange:        field(rec, "exchange"),
		})
	}
	return out, nil
}

// LTP fetches last-traded prices for the given "EXCHANGE:SYMBOL" keys.
// Symbols the upstream cannot quote (index underlyings, delisted scrips) are
// simply absent from the result; the caller decides whether that is fatal.
func (c *Client) LTP(ctx context.Context, symbols []string) (map[string]LTPQuote, error) {
	params := url.Values{}
	for _, s := range symbols {
		params.Add("i", s)
	}
	quotes := make(map[string]LTPQuote)
	if err := c.getJSON(ctx, "ltp", params, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// Profile fetches the user profile. Used as a cheap credentials check
// before any streaming connection is opened.
func (c *Client) Profile(ctx context.Context) error {
	return c.getJSON(ctx, "user.profile", nil, nil)
}
