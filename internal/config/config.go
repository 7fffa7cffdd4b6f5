// Package config loads the claimflow configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	appbalance "github.com/claimflow/claimflow/internal/application/balance"
	appclaims "github.com/claimflow/claimflow/internal/application/claims"
	domain "github.com/claimflow/claimflow/internal/domain/claims"
)

// EventLogConfig selects and configures the durable event store.
type EventLogConfig struct {
	// Backend is memory, sqlite, or postgres.
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// NATSConfig configures the optional NATS event fan-out.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Config is the full configuration tree.
type Config struct {
	EventLog EventLogConfig          `yaml:"eventLog"`
	NATS     NATSConfig              `yaml:"nats"`
	Emitter  appclaims.EmitterConfig `yaml:"emitter"`
	Steal    domain.StealConfig      `yaml:"steal"`
	Balance  appbalance.Config       `yaml:"balance"`
	// ClaimTTL is the default claim expiry; zero disables expiry.
	ClaimTTL time.Duration `yaml:"claimTtl"`
	// SweepInterval is how often the daemon runs expiry and staleness
	// sweeps.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// MetricsAddr is the Prometheus listen address for the daemon.
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		EventLog: EventLogConfig{
			Backend: "sqlite",
			Path:    ".data/claims-events.db",
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Emitter:       appclaims.DefaultEmitterConfig(),
		Steal:         domain.DefaultStealConfig(),
		Balance:       appbalance.DefaultConfig(),
		SweepInterval: time.Minute,
		MetricsAddr:   ":9124",
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch c.EventLog.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown event log backend %q", c.EventLog.Backend)
	}
	if c.EventLog.Backend == "postgres" && c.EventLog.DSN == "" {
		return fmt.Errorf("config: postgres backend requires a dsn")
	}
	if c.Balance.ImbalanceThreshold < 0 || c.Balance.ImbalanceThreshold > 100 {
		return fmt.Errorf("config: imbalance threshold must be 0-100, got %v", c.Balance.ImbalanceThreshold)
	}
	if c.Balance.MaxActionsPerRebalance < 0 {
		return fmt.Errorf("config: max actions per rebalance must not be negative, got %d", c.Balance.MaxActionsPerRebalance)
	}
	if c.Balance.MinUtilizationForRebalance < 0 || c.Balance.MinUtilizationForRebalance > 100 {
		return fmt.Errorf("config: min utilization for rebalance must be 0-100, got %v", c.Balance.MinUtilizationForRebalance)
	}
	if c.Steal.ProgressProtection < 0 || c.Steal.ProgressProtection > 100 {
		return fmt.Errorf("config: progress protection must be 0-100, got %v", c.Steal.ProgressProtection)
	}
	return nil
}
