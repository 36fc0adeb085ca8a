// Package config содержит логику чтения конфигурации сервиса учёта эскобаров.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultOfficerTokenTTL   = 8 * time.Hour
	defaultTxMaxAttempts     = 5
	defaultReconcileSchedule = "@every 10m"

	// scheduleOff отключает периодическую сверку.
	scheduleOff = "off"
)

// Config содержит параметры конфигурации сервиса учёта эскобаров.
// Переменные окружения имеют приоритет над флагами.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	OfficerPortalCode string        `env:"OFFICER_PORTAL_CODE"`
	OfficerTokenTTL   time.Duration `env:"OFFICER_TOKEN_TTL"`
	TxMaxAttempts     int           `env:"TX_MAX_ATTEMPTS"`
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	KafkaTopic        string        `env:"KAFKA_TOPIC" envDefault:"escobar.ledger"`
	LoginRateLimit    int           `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	OfficerHandles    []string      `env:"OFFICER_HANDLES" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	return ParseFlags(flag.CommandLine, os.Args[1:])
}

// ParseFlags считывает конфигурацию из указанного набора флагов и переменных окружения.
func ParseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI; empty selects the in-memory store")
	fs.StringVar(&cfg.AuthSecret, "s", "", "secret for session cookies and officer tokens")
	fs.StringVar(&cfg.OfficerPortalCode, "p", "", "officer portal code; empty disables officer login")
	fs.DurationVar(&cfg.OfficerTokenTTL, "t", defaultOfficerTokenTTL, "officer token lifetime")
	fs.IntVar(&cfg.TxMaxAttempts, "x", defaultTxMaxAttempts, "max attempts for conflicting transactions")
	fs.StringVar(&cfg.ReconcileSchedule, "c", defaultReconcileSchedule, "cron schedule of ledger reconciliation; \"off\" disables")
	fs.StringVar(&cfg.KafkaBrokers, "k", "", "comma-separated Kafka brokers for ledger events")
	fs.Func("o", "comma-separated handles enabled as officers on startup and registration", func(v string) error {
		cfg.OfficerHandles = splitList(v)
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// пустые и отсутствующие переменные не затирают значения флагов
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.OfficerTokenTTL <= 0 {
		return nil, fmt.Errorf("officer token ttl must be positive, got %s", cfg.OfficerTokenTTL)
	}
	if cfg.TxMaxAttempts < 1 {
		return nil, fmt.Errorf("tx max attempts must be at least 1, got %d", cfg.TxMaxAttempts)
	}
	if cfg.ReconcileSchedule == scheduleOff {
		cfg.ReconcileSchedule = ""
	}
	cfg.OfficerHandles = splitList(strings.Join(cfg.OfficerHandles, ","))

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
