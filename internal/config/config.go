package config

import (
	"os"
	"time"
)

type Config struct {
	HTTPAddr          string
	MySQLDSN          string
	RedisAddr         string
	LedgerBackend     string // "mysql" (default) or "redis"
	StoreTimeout      time.Duration
	ReconcileInterval time.Duration
}

func Load() *Config {
	return &Config{
		HTTPAddr:          envOr("HTTP_ADDR", ":8080"),
		MySQLDSN:          envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true"),
		RedisAddr:         envOr("REDIS_ADDR", "localhost:6379"),
		LedgerBackend:     envOr("LEDGER_BACKEND", "mysql"),
		StoreTimeout:      durationOr("STORE_TIMEOUT", 5*time.Second),
		ReconcileInterval: durationOr("RECONCILE_INTERVAL", 5*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
