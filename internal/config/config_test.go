package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const validYAML = `
environment:
  mode: paper
  log_level: debug

storage:
  dsn: positions.db

oracle:
  base_url: http://oracle.local

executor:
  base_url: http://executor.local
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PriceTick() != 30*time.Second {
		t.Errorf("price tick = %v, want 30s", cfg.PriceTick())
	}
	if cfg.SyncTick() != 60*time.Second {
		t.Errorf("sync tick = %v, want 60s", cfg.SyncTick())
	}
	if cfg.PriceFetchTimeout() != 10*time.Second {
		t.Errorf("price fetch timeout = %v, want 10s", cfg.PriceFetchTimeout())
	}
	if cfg.StopGrace() != 5*time.Second {
		t.Errorf("stop grace = %v, want 5s", cfg.StopGrace())
	}
	if !cfg.TrailingStopEpsilon().Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("epsilon = %s, want 0.01", cfg.TrailingStopEpsilon())
	}
	if !cfg.TrailingStopDefaultEnabled() {
		t.Error("trailing stop should default to enabled")
	}
	if cfg.Monitor.MaxConcurrentChecks != 8 {
		t.Errorf("max concurrent checks = %d, want 8", cfg.Monitor.MaxConcurrentChecks)
	}
	if cfg.Storage.Table != "positions" {
		t.Errorf("table = %s, want positions", cfg.Storage.Table)
	}
	if cfg.Dashboard.Port != 9847 {
		t.Errorf("port = %d, want 9847", cfg.Dashboard.Port)
	}
	if !cfg.AmountStep().IsZero() {
		t.Errorf("amount step = %s, want zero when unset", cfg.AmountStep())
	}
	if !cfg.IsPaperTrading() {
		t.Error("paper mode not detected")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment:
  mode: live
  log_level: warn

storage:
  dsn: postgres://monitor:secret@db/positions
  table: live_positions

oracle:
  base_url: http://oracle.local
  timeout: 3s

executor:
  base_url: http://executor.local
  timeout: 45s

monitor:
  price_tick: 5s
  sync_tick: 15s
  trailing_stop_epsilon: "0.02"
  trailing_stop_default: false
  max_concurrent_checks: 2
  amount_step: "0.0001"

dashboard:
  port: 8080
  auth_token: hunter2
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PriceTick() != 5*time.Second || cfg.SyncTick() != 15*time.Second {
		t.Errorf("ticks = %v/%v, want 5s/15s", cfg.PriceTick(), cfg.SyncTick())
	}
	if cfg.TrailingStopDefaultEnabled() {
		t.Error("trailing default should be disabled")
	}
	if !cfg.AmountStep().Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("amount step = %s, want 0.0001", cfg.AmountStep())
	}
	if cfg.OracleTimeout() != 3*time.Second || cfg.ExecutorTimeout() != 45*time.Second {
		t.Errorf("timeouts = %v/%v, want 3s/45s", cfg.OracleTimeout(), cfg.ExecutorTimeout())
	}
	if cfg.IsPaperTrading() {
		t.Error("live mode not detected")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_POSITIONS_DSN", "/tmp/positions.db")

	cfg, err := Load(writeConfig(t, `
environment:
  mode: paper

storage:
  dsn: ${TEST_POSITIONS_DSN}

oracle:
  base_url: http://oracle.local

executor:
  base_url: http://executor.local
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DSN != "/tmp/positions.db" {
		t.Errorf("dsn = %s, want expanded env value", cfg.Storage.DSN)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+`
broker:
  api_key: nope
`))
	if err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", `
environment: {mode: dry-run}
storage: {dsn: positions.db}
oracle: {base_url: http://o}
executor: {base_url: http://e}
`},
		{"missing dsn", `
environment: {mode: paper}
oracle: {base_url: http://o}
executor: {base_url: http://e}
`},
		{"missing oracle url", `
environment: {mode: paper}
storage: {dsn: positions.db}
executor: {base_url: http://e}
`},
		{"missing executor url", `
environment: {mode: paper}
storage: {dsn: positions.db}
oracle: {base_url: http://o}
`},
		{"bad tick", `
environment: {mode: paper}
storage: {dsn: positions.db}
oracle: {base_url: http://o}
executor: {base_url: http://e}
monitor: {price_tick: soon}
`},
		{"epsilon out of range", `
environment: {mode: paper}
storage: {dsn: positions.db}
oracle: {base_url: http://o}
executor: {base_url: http://e}
monitor: {trailing_stop_epsilon: "1.5"}
`},
		{"negative amount step", `
environment: {mode: paper}
storage: {dsn: positions.db}
oracle: {base_url: http://o}
executor: {base_url: http://e}
monitor: {amount_step: "-0.1"}
`},
		{"bad port", `
environment: {mode: paper}
storage: {dsn: positions.db}
oracle: {base_url: http://o}
executor: {base_url: http://e}
dashboard: {port: 70000}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
