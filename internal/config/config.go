// Package config содержит логику чтения конфигурации POS-терминала.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации терминала.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabasePath      string        `env:"DATABASE_PATH"`
	RemoteDatabaseURI string        `env:"REMOTE_DATABASE_URI"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL"`
	CartMaxAge        time.Duration `env:"CART_MAX_AGE"`
	PaymentTimeout    time.Duration `env:"PAYMENT_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabasePath := cfg.DatabasePath
	envRemoteURI := cfg.RemoteDatabaseURI
	envSyncInterval := cfg.SyncInterval
	envCartMaxAge := cfg.CartMaxAge
	envPaymentTimeout := cfg.PaymentTimeout

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabasePath, "f", "pos.db", "path to local terminal database")
	flag.StringVar(&cfg.RemoteDatabaseURI, "d", "", "remote database URI, empty disables sync")
	flag.DurationVar(&cfg.SyncInterval, "i", 30*time.Second, "sync queue drain interval")
	flag.DurationVar(&cfg.CartMaxAge, "c", 24*time.Hour, "max age of restorable cart snapshot")
	flag.DurationVar(&cfg.PaymentTimeout, "t", 30*time.Second, "payment attempt timeout")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabasePath != "" {
		cfg.DatabasePath = envDatabasePath
	}
	if envRemoteURI != "" {
		cfg.RemoteDatabaseURI = envRemoteURI
	}
	if envSyncInterval > 0 {
		cfg.SyncInterval = envSyncInterval
	}
	if envCartMaxAge > 0 {
		cfg.CartMaxAge = envCartMaxAge
	}
	if envPaymentTimeout > 0 {
		cfg.PaymentTimeout = envPaymentTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
