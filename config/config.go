package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Credentials file, see LoadSecrets.
	SecretsPath string

	// Subscription
	Symbols         string // comma-separated, exchange qualified: "NFO:NIFTY,NFO:BANKNIFTY"
	Expiry          string // dd-mm-yyyy
	StrikePercent   float64
	MaxConnections  int
	ForceRefresh    bool
	StrictSpot      bool
	IgnoreMarketHrs bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/chains.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		SecretsPath: getEnv("KITE_SECRETS_PATH", ""),

		Symbols:         mustEnv("SYMBOLS"),
		Expiry:          mustEnv("EXPIRY"),
		StrikePercent:   getEnvFloat("STRIKE_PERCENT", 0),
		MaxConnections:  getEnvInt("MAX_CONNECTIONS", 3),
		ForceRefresh:    getEnvBool("FORCE_REFRESH", false),
		StrictSpot:      getEnvBool("STRICT_SPOT", false),
		IgnoreMarketHrs: getEnvBool("IGNORE_MARKET_HOURS", false),
	}
}

// ParseSymbols splits the Symbols string into a clean slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] env var %s must be an integer, got %q", key, v)
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("[config] env var %s must be a number, got %q", key, v)
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("[config] env var %s must be a boolean, got %q", key, v)
	}
	return b
}
