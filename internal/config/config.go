// Package config loads runtime configuration from the environment
// (with an optional local .env file), generalizing the teacher's
// repeated os.Getenv branches in cmd/server/main.go into one load step.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/BakaOtaku/robet-ai/internal/sigverify"
)

// ChainEntry describes one configured chain's verification scheme, as
// read from CHAINS (a comma-separated "chainId:scheme" list), e.g.
// "solana-mainnet:ed25519-solana,cosmoshub-4:secp256k1-cosmos,devnet:trust".
type ChainEntry struct {
	ChainID string
	Scheme  sigverify.Scheme
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	Chains []ChainEntry

	MaxNotionalPerMarket decimal.Decimal
}

// Load reads configuration from the environment, loading a local .env
// file first (if present) so development doesn't require exporting
// variables by hand. Environment variables always win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("CACHE_TTL_SECONDS", 30)
	v.SetDefault("KAFKA_TOPIC", "deposits.credited")
	v.SetDefault("MAX_NOTIONAL_PER_MARKET", "10000")
	v.SetDefault("CHAINS", "devnet:trust")

	maxNotional, err := decimal.NewFromString(v.GetString("MAX_NOTIONAL_PER_MARKET"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                 v.GetString("PORT"),
		DatabaseURL:          v.GetString("DATABASE_URL"),
		RedisURL:             v.GetString("REDIS_URL"),
		CacheTTL:             time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		KafkaTopic:           v.GetString("KAFKA_TOPIC"),
		MaxNotionalPerMarket: maxNotional,
		Chains:               parseChains(v.GetString("CHAINS")),
	}
	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg, nil
}

func parseChains(raw string) []ChainEntry {
	var entries []ChainEntry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		entries = append(entries, ChainEntry{ChainID: kv[0], Scheme: sigverify.Scheme(kv[1])})
	}
	return entries
}
