// Package redis implements the shared store the streaming and aggregation
// sides communicate through. Individual key operations are serialized by the
// server; there are no cross-key transactions, so readers may observe a
// partially updated tick set within one aggregation cycle.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// Table names. These are part of the external contract: readers in other
// processes address the same keys.
const (
	keyTicks         = "ticks"
	keyTokenInfo     = "option_token_info"
	keyLTP           = "ltp"
	keyValidExpiry   = "valid_option_expiry"
	keyOptionChain   = "option_chain"
	keyConfig        = "option_chain_config"
	configTimeLayout = model.TimestampLayout
)

// Config configures the store connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store wraps the Redis client with the hash/set/scalar operations the
// pipeline needs.
type Store struct {
	client *goredis.Client
}

// New connects and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	slog.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return &Store{client: client}, nil
}

// Client returns the underlying client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// ---- ticks ----

// WriteTicks overwrites the stored tick of every token in the batch in a
// single pipeline roundtrip. Last write wins per token.
func (s *Store) WriteTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for i := range ticks {
		data, err := json.Marshal(&ticks[i])
		if err != nil {
			return fmt.Errorf("marshal tick %d: %w", ticks[i].InstrumentToken, err)
		}
		pipe.HSet(ctx, keyTicks, strconv.FormatUint(uint64(ticks[i].InstrumentToken), 10), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write ticks pipeline (%d ticks): %w", len(ticks), err)
	}
	return nil
}

// Tick returns the latest stored tick for a token, or nil if none exists.
// A missing tick is an expected steady state, not an error.
func (s *Store) Tick(ctx context.Context, token uint32) (*model.Tick, error) {
	data, err := s.client.HGet(ctx, keyTicks, strconv.FormatUint(uint64(token), 10)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tick %d: %w", token, err)
	}
	var tick model.Tick
	if err := json.Unmarshal([]byte(data), &tick); err != nil {
		return nil, fmt.Errorf("unmarshal tick %d: %w", token, err)
	}
	return &tick, nil
}

// ---- instrument index ----

// ReplaceTokenInfo atomically-from-readers'-perspective replaces the whole
// instrument index: the old hash is deleted and the new entries written in
// one pipeline.
func (s *Store) ReplaceTokenInfo(ctx context.Context, index map[string]map[string][]model.Instrument) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, keyTokenInfo)
	for key, expiryMap := range index {
		data, err := json.Marshal(expiryMap)
		if err != nil {
			return fmt.Errorf("marshal token info %s: %w", key, err)
		}
		pipe.HSet(ctx, keyTokenInfo, key, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace token info (%d symbols): %w", len(index), err)
	}
	return nil
}

// TokenInfo returns the expiry→instruments map for one "exchange:symbol"
// key, or nil if the symbol is not in the index.
func (s *Store) TokenInfo(ctx context.Context, symbol string) (map[string][]model.Instrument, error) {
	data, err := s.client.HGet(ctx, keyTokenInfo, symbol).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token info %s: %w", symbol, err)
	}
	var expiryMap map[string][]model.Instrument
	if err := json.Unmarshal([]byte(data), &expiryMap); err != nil {
		return nil, fmt.Errorf("unmarshal token info %s: %w", symbol, err)
	}
	return expiryMap, nil
}

// TokenInfoKeys lists every symbol key present in the index.
func (s *Store) TokenInfoKeys(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, keyTokenInfo).Result()
	if err != nil {
		return nil, fmt.Errorf("list token info keys: %w", err)
	}
	return keys, nil
}

// ReplaceValidExpiries replaces the set of expiries seen in the last
// catalog refresh.
func (s *Store) ReplaceValidExpiries(ctx context.Context, expiries []string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, keyValidExpiry)
	if len(expiries) > 0 {
		members := make([]interface{}, len(expiries))
		for i, e := range expiries {
			members[i] = e
		}
		pipe.SAdd(ctx, keyValidExpiry, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace valid expiries: %w", err)
	}
	return nil
}

// IsValidExpiry reports whether the expiry was observed in the last refresh.
func (s *Store) IsValidExpiry(ctx context.Context, expiry string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, keyValidExpiry, expiry).Result()
	if err != nil {
		return false, fmt.Errorf("check expiry %s: %w", expiry, err)
	}
	return ok, nil
}

// ---- spot prices ----

// SetLTP stores the last-traded price of an underlying ("NSE:SYMBOL").
func (s *Store) SetLTP(ctx context.Context, symbol string, price float64) error {
	if err := s.client.HSet(ctx, keyLTP, symbol, price).Err(); err != nil {
		return fmt.Errorf("set ltp %s: %w", symbol, err)
	}
	return nil
}

// LTP returns the stored spot price of an underlying. The second return is
// false when no price is known; index underlyings legitimately have none.
func (s *Store) LTP(ctx context.Context, symbol string) (float64, bool, error) {
	data, err := s.client.HGet(ctx, keyLTP, symbol).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read ltp %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse ltp %s=%q: %w", symbol, data, err)
	}
	return price, true, nil
}

// ---- refresh bookkeeping ----

type chainConfig struct {
	InstrumentLastFetchTime string `json:"instrument_last_fetch_time"`
}

// SetLastRefreshTime records when the instrument catalog was last rebuilt.
func (s *Store) SetLastRefreshTime(ctx context.Context, t time.Time) error {
	data, err := json.Marshal(chainConfig{InstrumentLastFetchTime: t.Format(configTimeLayout)})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyConfig, data, 0).Err(); err != nil {
		return fmt.Errorf("set last refresh time: %w", err)
	}
	return nil
}

// LastRefreshTime returns the recorded catalog refresh time; ok is false
// when no refresh has ever run.
func (s *Store) LastRefreshTime(ctx context.Context) (time.Time, bool, error) {
	data, err := s.client.Get(ctx, keyConfig).Result()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last refresh time: %w", err)
	}
	var cfg chainConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return time.Time{}, false, fmt.Errorf("unmarshal chain config: %w", err)
	}
	t, err := time.ParseInLocation(configTimeLayout, cfg.InstrumentLastFetchTime, time.Local)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last refresh time %q: %w", cfg.InstrumentLastFetchTime, err)
	}
	return t, true, nil
}

// ---- chains ----

// WriteChain replaces the stored chain of a symbol as a single hash write.
func (s *Store) WriteChain(ctx context.Context, symbol string, chain *model.OptionChain) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("marshal chain %s: %w", symbol, err)
	}
	if err := s.client.HSet(ctx, keyOptionChain, symbol, data).Err(); err != nil {
		return fmt.Errorf("write chain %s: %w", symbol, err)
	}
	return nil
}

// Chain returns the stored chain of a symbol, or nil if never aggregated.
func (s *Store) Chain(ctx context.Context, symbol string) (*model.OptionChain, error) {
	data, err := s.client.HGet(ctx, keyOptionChain, symbol).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain %s: %w", symbol, err)
	}
	var chain model.OptionChain
	if err := json.Unmarshal([]byte(data), &chain); err != nil {
		return nil, fmt.Errorf("unmarshal chain %s: %w", symbol, err)
	}
	return &chain, nil
}
