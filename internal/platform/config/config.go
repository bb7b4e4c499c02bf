// Package config assembles runtime configuration from the environment so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Server captures everything the service needs at startup. Empty backend
// URLs select in-memory implementations.
type Server struct {
	Addr          string
	JWTSigningKey string

	PostgresURL string
	Redis       RedisConfig

	KafkaBrokers []string
	KafkaTopic   string

	Ledger LedgerConfig

	// VendorDirectory seeds the static vendor directory: identity to wallet
	// reference.
	VendorDirectory map[string]string

	// RetryBudget bounds coordinator retries on contended hierarchy updates.
	RetryBudget int

	ShutdownTimeout time.Duration
}

// RedisConfig tunes the optional redis connection used for anchoring.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig tunes the ledger anomaly heuristic.
type LedgerConfig struct {
	HighValueThreshold decimal.Decimal
	FlagScore          int
	Algorithm          string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          envOr("FISCUS_ADDR", ":8080"),
		JWTSigningKey: envOr("FISCUS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:   os.Getenv("FISCUS_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("FISCUS_REDIS_URL"),
			PoolSize:     envInt("FISCUS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("FISCUS_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		KafkaTopic:      envOr("FISCUS_KAFKA_TOPIC", "fiscus.lifecycle"),
		RetryBudget:     envInt("FISCUS_RETRY_BUDGET", 3),
		ShutdownTimeout: 10 * time.Second,
		Ledger: LedgerConfig{
			HighValueThreshold: envDecimal("FISCUS_HIGH_VALUE_THRESHOLD", decimal.NewFromInt(100_000)),
			FlagScore:          envInt("FISCUS_ANOMALY_FLAG_SCORE", 75),
			Algorithm:          envOr("FISCUS_FINGERPRINT_ALGORITHM", "keccak256"),
		},
	}

	if brokers := os.Getenv("FISCUS_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	// FISCUS_VENDOR_DIRECTORY holds comma-separated identity=wallet pairs.
	if vendors := os.Getenv("FISCUS_VENDOR_DIRECTORY"); vendors != "" {
		cfg.VendorDirectory = make(map[string]string)
		for _, pair := range strings.Split(vendors, ",") {
			identity, wallet, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && identity != "" {
				cfg.VendorDirectory[identity] = wallet
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
