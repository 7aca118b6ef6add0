// Package config loads the process configuration from the environment,
// grounded on the teacher's os.Getenv + godotenv.Load idiom
// (provider/binance/sync-api_test.go loads ../../.env the same way).
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var logger = log.New(os.Stdout, "[config] ", log.LstdFlags)

// BootstrapMode selects how the Venue Client reconciles the first diffs it
// sees with a book's lifecycle (spec §9 Open Question).
type BootstrapMode string

const (
	// BootstrapLive accepts the first observed diff unconditionally and
	// adopts it as the baseline — the source's documented behavior.
	BootstrapLive BootstrapMode = "live"
	// BootstrapSnapshot fetches a REST snapshot per symbol before the stream
	// is opened and adopts its id; later diffs go through the Registry's
	// normal continuity check, so diffs at or below the snapshot's id are
	// dropped and the first applied diff must straddle the snapshot
	// boundary (unless its gap exceeds the resync threshold). Diffs are not
	// buffered while the snapshot is fetched.
	BootstrapSnapshot BootstrapMode = "snapshot"
)

// Config is the process-wide configuration, sourced from environment
// variables (spec §6 Configuration).
type Config struct {
	BinanceWSURL   string
	BinanceRESTURL string
	TradingPairs   []string
	Port           int
	LogLevel       string
	OrderbookDepth int
	BootstrapMode  BootstrapMode
	MetricsAddr    string
}

// Load reads a .env file if present (logging and otherwise ignoring its
// absence, as the teacher's tests do for local dev) then resolves Config from the
// environment, applying the documented defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Printf("no .env file loaded: %v", err)
	}

	cfg := Config{
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://fstream.binance.com/ws"),
		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://fapi.binance.com"),
		TradingPairs:   splitPairs(getEnv("TRADING_PAIRS", "btcusdt")),
		Port:           getEnvInt("PORT", 3000),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		OrderbookDepth: getEnvInt("ORDERBOOK_DEPTH", 1000),
		BootstrapMode:  BootstrapMode(getEnv("ORDERBOOK_BOOTSTRAP_MODE", string(BootstrapLive))),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
	}
	return cfg
}

func splitPairs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Printf("invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
