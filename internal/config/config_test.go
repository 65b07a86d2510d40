package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Hub.InitialReserve != 1_000_000 || cfg.Hub.ValuePerMyPt != 0.024 {
		t.Fatalf("unexpected hub defaults: %+v", cfg.Hub)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 5s
hub:
  max_supply: 5000
  initial_reserve: 1000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Fatalf("yaml not applied: %+v", cfg.Server)
	}
	if cfg.Hub.MaxSupply != 5000 || cfg.Hub.InitialReserve != 1000 {
		t.Fatalf("yaml not applied: %+v", cfg.Hub)
	}
	// Untouched sections keep their defaults.
	if cfg.Gateway.Currency != "usd" {
		t.Fatalf("defaults lost: %+v", cfg.Gateway)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	t.Setenv("LEDGER_ADDR", ":7070")
	t.Setenv("HUB_MAX_SUPPLY", "9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("env did not win: %s", cfg.Server.Addr)
	}
	if cfg.Hub.MaxSupply != 9000 {
		t.Fatalf("env not applied: %d", cfg.Hub.MaxSupply)
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "DSN") {
		t.Fatalf("expected DSN error, got %v", err)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: cassandra
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown database driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestValidateHubBounds(t *testing.T) {
	cfg := Default()
	cfg.Hub.ValuePerMyPt = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for zero value_per_mypt")
	}

	cfg = Default()
	cfg.Hub.MaxSupply = 100
	cfg.Hub.InitialReserve = 200
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for reserve above max supply")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
