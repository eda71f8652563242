// Package config provides configuration management for the monitor service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding keys are unset.
const (
	defaultPriceTick           = "30s"
	defaultSyncTick            = "60s"
	defaultPriceFetchTimeout   = "10s"
	defaultStopGrace           = "5s"
	defaultTrailingStopEpsilon = "0.01"
	defaultMaxConcurrentChecks = 8
	defaultDashboardPort       = 9847
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Storage     StorageConfig     `yaml:"storage"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// StorageConfig defines the durable position store.
type StorageConfig struct {
	DSN   string `yaml:"dsn"`   // postgres:// URL or sqlite file path
	Table string `yaml:"table"` // defaults to "positions"
}

// OracleConfig defines the price feed endpoint.
type OracleConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"` // per-request, defaults to 10s
}

// ExecutorConfig defines the swap execution endpoint.
type ExecutorConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"` // per-request, defaults to 30s
}

// MonitorConfig defines the engine's tick cadence and exit tuning.
type MonitorConfig struct {
	PriceTick           string `yaml:"price_tick"`            // defaults to 30s
	SyncTick            string `yaml:"sync_tick"`             // defaults to 60s
	PriceFetchTimeout   string `yaml:"price_fetch_timeout"`   // defaults to 10s
	TrailingStopEpsilon string `yaml:"trailing_stop_epsilon"` // defaults to 0.01
	TrailingStopDefault *bool  `yaml:"trailing_stop_default"` // defaults to true
	MaxConcurrentChecks int    `yaml:"max_concurrent_checks"` // defaults to 8
	StopGrace           string `yaml:"stop_grace"`            // defaults to 5s
	AmountStep          string `yaml:"amount_step"`           // optional venue step
}

// DashboardConfig defines the operator HTTP surface.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"` // optional X-Auth-Token requirement
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// filling defaults for optional keys.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Storage validation
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.Table == "" {
		c.Storage.Table = "positions"
	}

	// Endpoint validation
	if c.Oracle.BaseURL == "" {
		return fmt.Errorf("oracle.base_url is required")
	}
	if c.Executor.BaseURL == "" {
		return fmt.Errorf("executor.base_url is required")
	}
	if c.Oracle.Timeout == "" {
		c.Oracle.Timeout = defaultPriceFetchTimeout
	}
	if c.Executor.Timeout == "" {
		c.Executor.Timeout = "30s"
	}
	for _, d := range []struct {
		name string
		val  string
	}{
		{"oracle.timeout", c.Oracle.Timeout},
		{"executor.timeout", c.Executor.Timeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}

	// Monitor validation
	if c.Monitor.PriceTick == "" {
		c.Monitor.PriceTick = defaultPriceTick
	}
	if c.Monitor.SyncTick == "" {
		c.Monitor.SyncTick = defaultSyncTick
	}
	if c.Monitor.PriceFetchTimeout == "" {
		c.Monitor.PriceFetchTimeout = defaultPriceFetchTimeout
	}
	if c.Monitor.StopGrace == "" {
		c.Monitor.StopGrace = defaultStopGrace
	}
	for _, d := range []struct {
		name string
		val  string
	}{
		{"monitor.price_tick", c.Monitor.PriceTick},
		{"monitor.sync_tick", c.Monitor.SyncTick},
		{"monitor.price_fetch_timeout", c.Monitor.PriceFetchTimeout},
		{"monitor.stop_grace", c.Monitor.StopGrace},
	} {
		dur, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
		if dur <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if c.Monitor.TrailingStopEpsilon == "" {
		c.Monitor.TrailingStopEpsilon = defaultTrailingStopEpsilon
	}
	eps, err := decimal.NewFromString(c.Monitor.TrailingStopEpsilon)
	if err != nil {
		return fmt.Errorf("monitor.trailing_stop_epsilon invalid: %w", err)
	}
	if !eps.IsPositive() || eps.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("monitor.trailing_stop_epsilon must be in (0,1)")
	}
	if c.Monitor.AmountStep != "" {
		step, err := decimal.NewFromString(c.Monitor.AmountStep)
		if err != nil {
			return fmt.Errorf("monitor.amount_step invalid: %w", err)
		}
		if !step.IsPositive() {
			return fmt.Errorf("monitor.amount_step must be > 0")
		}
	}
	if c.Monitor.MaxConcurrentChecks < 0 {
		return fmt.Errorf("monitor.max_concurrent_checks must be >= 0")
	}
	if c.Monitor.MaxConcurrentChecks == 0 {
		c.Monitor.MaxConcurrentChecks = defaultMaxConcurrentChecks
	}

	// Dashboard validation
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// IsPaperTrading returns true if the service is configured for paper mode.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// TrailingStopDefaultEnabled reports whether new positions get a trailing
// stop when the registration does not say otherwise.
func (c *Config) TrailingStopDefaultEnabled() bool {
	if c.Monitor.TrailingStopDefault == nil {
		return true
	}
	return *c.Monitor.TrailingStopDefault
}

// PriceTick returns the configured price-check interval.
func (c *Config) PriceTick() time.Duration {
	return mustDuration(c.Monitor.PriceTick, 30*time.Second)
}

// SyncTick returns the configured reconciliation interval.
func (c *Config) SyncTick() time.Duration {
	return mustDuration(c.Monitor.SyncTick, 60*time.Second)
}

// PriceFetchTimeout returns the per-fetch price timeout.
func (c *Config) PriceFetchTimeout() time.Duration {
	return mustDuration(c.Monitor.PriceFetchTimeout, 10*time.Second)
}

// StopGrace returns the shutdown drain budget.
func (c *Config) StopGrace() time.Duration {
	return mustDuration(c.Monitor.StopGrace, 5*time.Second)
}

// OracleTimeout returns the oracle per-request timeout.
func (c *Config) OracleTimeout() time.Duration {
	return mustDuration(c.Oracle.Timeout, 10*time.Second)
}

// ExecutorTimeout returns the executor per-request timeout.
func (c *Config) ExecutorTimeout() time.Duration {
	return mustDuration(c.Executor.Timeout, 30*time.Second)
}

// TrailingStopEpsilon returns the trailing band width as a decimal.
func (c *Config) TrailingStopEpsilon() decimal.Decimal {
	eps, err := decimal.NewFromString(c.Monitor.TrailingStopEpsilon)
	if err != nil {
		return decimal.RequireFromString(defaultTrailingStopEpsilon)
	}
	return eps
}

// AmountStep returns the optional venue amount step, zero when unset.
func (c *Config) AmountStep() decimal.Decimal {
	if c.Monitor.AmountStep == "" {
		return decimal.Zero
	}
	step, err := decimal.NewFromString(c.Monitor.AmountStep)
	if err != nil {
		return decimal.Zero
	}
	return step
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
