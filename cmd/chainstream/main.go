// chainstream subscribes an option universe to the Kite websocket feed,
// keeps the latest tick of every contract in Redis and aggregates option
// chains from them continuously.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pramakrishn/express-option-chain/config"
	"github.com/pramakrishn/express-option-chain/internal/chain"
	"github.com/pramakrishn/express-option-chain/internal/instruments"
	"github.com/pramakrishn/express-option-chain/internal/logger"
	"github.com/pramakrishn/express-option-chain/internal/markethours"
	"github.com/pramakrishn/express-option-chain/internal/metrics"
	"github.com/pramakrishn/express-option-chain/internal/model"
	"github.com/pramakrishn/express-option-chain/internal/stream"
	redisstore "github.com/pramakrishn/express-option-chain/internal/store/redis"
	sqlitestore "github.com/pramakrishn/express-option-chain/internal/store/sqlite"
	"github.com/pramakrishn/express-option-chain/pkg/kiteconnect"
)

func main() {
	cfg := config.Load()
	log := logger.Init("chainstream", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "symbols", cfg.Symbols, "expiry", cfg.Expiry)

	secrets, err := config.LoadSecrets(cfg.SecretsPath)
	if err != nil {
		log.Error("credentials unavailable", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Stores ----
	store, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Error("archive directory create failed", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	archive, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Error("sqlite init failed", "error", err)
		os.Exit(1)
	}
	defer archive.Close()

	// ---- Metrics and health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetRedisConnected(true)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsSrv.Stop(shutCtx)
		shutCancel()
	}()
	health.StartLivenessChecker(ctx, store.Client(), archive.DB(), 10*time.Second)

	// ---- Kite client ----
	client := kiteconnect.NewClient(kiteconnect.Config{
		APIKey:      secrets.APIKey,
		AccessToken: secrets.AccessToken,
	})
	if err := client.Profile(ctx); err != nil {
		log.Error("access token rejected, generate a fresh one and update the secrets file", "error", err)
		os.Exit(1)
	}

	// ---- Instrument catalog ----
	manager := instruments.NewManager(instruments.ManagerConfig{
		Catalog: client,
		Store:   store,
		Archive: archive,
		Strict:  cfg.StrictSpot,
	})
	refreshStart := time.Now()
	if err := manager.RefreshIfStale(ctx, cfg.ForceRefresh); err != nil {
		log.Error("catalog refresh failed", "error", err)
		os.Exit(1)
	}
	prom.CatalogRefreshes.Inc()
	prom.CatalogRefreshDur.Observe(time.Since(refreshStart).Seconds())

	// ---- Market hours gating ----
	if !cfg.IgnoreMarketHrs {
		waitForMarket(ctx, log, prom)
	}
	prom.MarketState.Set(1)

	// ---- Tick pipeline ----
	breaker := redisstore.NewBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	writer := redisstore.NewBufferedTickWriter(store, breaker, 0)
	writer.OnBuffer = func(count int) {
		prom.RedisBufferedTicks.Add(float64(count))
	}

	ingestor := stream.NewIngestor(writer)
	ingestor.OnBatch = func(count int, took time.Duration) {
		prom.TicksTotal.Add(float64(count))
		prom.TickBatches.Inc()
		prom.TickWriteDur.Observe(took.Seconds())
		health.SetLastTickTime(time.Now())
	}

	builder := chain.NewBuilder(store)
	builder.Journal = archive
	builder.OnBuild = func(symbol string, took time.Duration) {
		prom.ChainBuildsTotal.Inc()
		prom.ChainBuildDur.Observe(took.Seconds())
	}

	var criteria *model.Criteria
	if cfg.StrikePercent > 0 {
		criteria = model.Percentage(cfg.StrikePercent)
	}

	st, err := stream.New(ctx, stream.Config{
		Symbols:        cfg.ParseSymbols(),
		Expiry:         cfg.Expiry,
		Criteria:       criteria,
		MaxConnections: cfg.MaxConnections,
		Store:          store,
		Resolver:       instruments.NewFetcher(store),
		Factory:        stream.NewTickerFactory(secrets.APIKey, secrets.AccessToken),
		Ingestor:       ingestor,
		Chain:          builder,
		OnReplace: func(int) {
			prom.WorkerRestarts.Inc()
		},
		OnDegraded: func(int) {
			prom.FeedDegraded.Inc()
		},
	})
	if err != nil {
		var verr *stream.ValidationError
		if errors.As(err, &verr) {
			log.Error("request rejected", "error", verr)
		} else {
			log.Error("stream setup failed", "error", err)
		}
		os.Exit(1)
	}

	log.Info("streaming", "tokens", len(st.Tokens()))
	if err := st.Start(ctx, true); err != nil {
		log.Error("stream start failed", "error", err)
		os.Exit(1)
	}
	defer st.Stop()

	// ---- Run until shutdown or market close ----
	closeAt := markethours.TodayClose(time.Now())
	var closeCh <-chan time.Time
	if !cfg.IgnoreMarketHrs {
		closeCh = time.After(time.Until(closeAt))
	}

	gaugeTick := time.NewTicker(5 * time.Second)
	defer gaugeTick.Stop()
	for {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			return
		case <-closeCh:
			prom.MarketState.Set(0)
			log.Info("market closed, shutting down")
			return
		case <-gaugeTick.C:
			alive := st.AliveWorkers()
			prom.WorkersAlive.Set(float64(alive))
			health.SetFeedConnected(alive > 0)
		}
	}
}

// waitForMarket blocks until the pre-open warm-up of the next session.
func waitForMarket(ctx context.Context, log *slog.Logger, prom *metrics.Metrics) {
	now := time.Now()
	if markethours.IsMarketOpen(now) {
		return
	}
	prom.MarketState.Set(0)
	until := markethours.NextPreOpen(now)
	log.Info("waiting for market", "status", markethours.StatusString(now), "resume_at", until.Format(time.RFC3339))
	select {
	case <-ctx.Done():
	case <-time.After(time.Until(until)):
	}
}
