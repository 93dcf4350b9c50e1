// chainquery prints aggregated option chains from the shared Redis store as
// JSON. It reads whatever a running chainstream has built; it never touches
// the feed itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pramakrishn/express-option-chain/internal/chain"
	"github.com/pramakrishn/express-option-chain/internal/logger"
	redisstore "github.com/pramakrishn/express-option-chain/internal/store/redis"
	sqlitestore "github.com/pramakrishn/express-option-chain/internal/store/sqlite"
)

func main() {
	var (
		symbols   = flag.String("symbols", "", "comma-separated symbols, e.g. NFO:NIFTY,NFO:BANKNIFTY")
		history   = flag.Int("history", 0, "also print up to N archived snapshots per symbol")
		dbPath    = flag.String("archive", "", "archive database path, defaults to SQLITE_PATH")
		redisAddr = flag.String("redis", "", "redis address, defaults to REDIS_ADDR")
		pretty    = flag.Bool("pretty", true, "indent JSON output")
	)
	flag.Parse()
	logger.Init("chainquery", slog.LevelWarn)

	if *symbols == "" {
		fmt.Fprintln(os.Stderr, "usage: chainquery -symbols NFO:NIFTY[,NFO:BANKNIFTY ...]")
		os.Exit(2)
	}

	addr := envOr("REDIS_ADDR", "localhost:6379")
	if *redisAddr != "" {
		addr = *redisAddr
	}
	archivePath := envOr("SQLITE_PATH", "data/chains.db")
	if *dbPath != "" {
		archivePath = *dbPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := redisstore.New(redisstore.Config{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainquery: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fetcher := chain.NewFetcher(store)
	list := strings.Split(*symbols, ",")
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}

	chains, err := fetcher.OptionChains(ctx, list)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainquery: %v\n", err)
		os.Exit(1)
	}
	for _, oc := range chains {
		printJSON(oc, *pretty)
	}

	if *history <= 0 {
		return
	}
	archive, err := sqlitestore.New(sqlitestore.Config{DBPath: archivePath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainquery: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()
	for _, sym := range list {
		snaps, err := archive.ChainHistory(ctx, sym, *history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chainquery: %v\n", err)
			os.Exit(1)
		}
		for _, oc := range snaps {
			printJSON(oc, *pretty)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v interface{}, pretty bool) {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	enc.Encode(v)
}
