// Package config loads the ledger configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"LEDGER_ADDR"`
	RatePerSecond   int           `yaml:"rate_per_second" env:"LEDGER_RATE_PER_SECOND"`
	RateBurst       int           `yaml:"rate_burst" env:"LEDGER_RATE_BURST"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LEDGER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"LEDGER_DB_DRIVER"` // "memory" or "postgres"
	DSN    string `yaml:"dsn" env:"DATABASE_URL"`
}

// LoggingConfig mirrors pkg/logger's construction options.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEDGER_LOG_LEVEL"`
	Format string `yaml:"format" env:"LEDGER_LOG_FORMAT"`
	Output string `yaml:"output" env:"LEDGER_LOG_OUTPUT"`
}

// GatewayConfig points at the payment processor.
type GatewayConfig struct {
	BaseURL  string        `yaml:"base_url" env:"PAYMENT_GATEWAY_URL"`
	APIKey   string        `yaml:"api_key" env:"PAYMENT_GATEWAY_KEY"`
	Currency string        `yaml:"currency" env:"PAYMENT_CURRENCY"`
	Timeout  time.Duration `yaml:"timeout" env:"PAYMENT_GATEWAY_TIMEOUT"`
}

// HubConfig seeds the supply singleton on first start.
type HubConfig struct {
	MaxSupply      int64   `yaml:"max_supply" env:"HUB_MAX_SUPPLY"`
	InitialReserve int64   `yaml:"initial_reserve" env:"HUB_INITIAL_RESERVE"`
	ValuePerMyPt   float64 `yaml:"value_per_mypt" env:"HUB_VALUE_PER_MYPT"`
}

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Hub      HubConfig      `yaml:"hub"`
}

// Default returns the configuration used when no file or environment is
// provided: in-memory storage, text logs, no payment gateway.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RatePerSecond:   50,
			RateBurst:       100,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Driver: "memory"},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Gateway:  GatewayConfig{Currency: "usd", Timeout: 30 * time.Second},
		Hub: HubConfig{
			InitialReserve: 1_000_000,
			ValuePerMyPt:   0.024,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// given), then environment variables. A .env file in the working directory is
// honoured for local runs.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database driver postgres requires a DSN (DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Hub.ValuePerMyPt <= 0 {
		return fmt.Errorf("hub value_per_mypt must be positive")
	}
	if c.Hub.MaxSupply < 0 || c.Hub.InitialReserve < 0 {
		return fmt.Errorf("hub supply values must not be negative")
	}
	if c.Hub.MaxSupply > 0 && c.Hub.InitialReserve > c.Hub.MaxSupply {
		return fmt.Errorf("hub initial_reserve exceeds max_supply")
	}
	return nil
}
