package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
storage:
  db_path: /tmp/es-db
chat:
  page_size: 25
  typing_ttl_ms: 1500
security:
  api_keys:
    backend: ["bk1"]
    frontend: ["fk1", "fk2"]
sweep:
  enabled: true
  cron: "*/5 * * * *"
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr: %s", cfg.Addr())
	}
	if cfg.Storage.DBPath != "/tmp/es-db" {
		t.Fatalf("db path: %s", cfg.Storage.DBPath)
	}
	if cfg.Chat.PageSize != 25 {
		t.Fatalf("page size: %d", cfg.Chat.PageSize)
	}
	if cfg.TypingTTL() != 1500*time.Millisecond {
		t.Fatalf("typing ttl: %v", cfg.TypingTTL())
	}
	if len(cfg.Security.APIKeys.Frontend) != 2 {
		t.Fatalf("frontend keys: %v", cfg.Security.APIKeys.Frontend)
	}
	if !cfg.Sweep.Enabled || cfg.Sweep.Cron != "*/5 * * * *" {
		t.Fatalf("sweep: %+v", cfg.Sweep)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level: %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("default addr: %s", cfg.Addr())
	}
	if cfg.TypingTTL() != 3*time.Second {
		t.Fatalf("default typing ttl: %v", cfg.TypingTTL())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVENTSNAP_ADDR", "0.0.0.0:7070")
	t.Setenv("EVENTSNAP_DB_PATH", "/tmp/env-db")
	t.Setenv("EVENTSNAP_TYPING_TTL_MS", "2500")
	t.Setenv("EVENTSNAP_API_BACKEND_KEYS", "k1, k2")
	t.Setenv("EVENTSNAP_ALLOW_UNAUTH", "true")
	t.Setenv("EVENTSNAP_SWEEP_CRON", "* * * * *")

	var cfg Config
	if !LoadEnvOverrides(&cfg) {
		t.Fatalf("expected env overrides to apply")
	}
	if cfg.Addr() != "0.0.0.0:7070" {
		t.Fatalf("addr: %s", cfg.Addr())
	}
	if cfg.Storage.DBPath != "/tmp/env-db" {
		t.Fatalf("db path: %s", cfg.Storage.DBPath)
	}
	if cfg.Chat.TypingTTLMillis != 2500 {
		t.Fatalf("typing ttl ms: %d", cfg.Chat.TypingTTLMillis)
	}
	if len(cfg.Security.APIKeys.Backend) != 2 || cfg.Security.APIKeys.Backend[1] != "k2" {
		t.Fatalf("backend keys: %v", cfg.Security.APIKeys.Backend)
	}
	if !cfg.Security.APIKeys.AllowUnauth {
		t.Fatalf("allow_unauth not set")
	}
	if !cfg.Sweep.Enabled {
		t.Fatalf("sweep cron env should enable the sweeper")
	}
}

func TestResolvePrecedence(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  db_path: /tmp/file-db
`)
	// flags explicitly set win over the file
	eff, err := Resolve(":6060", "/tmp/flag-db", path, map[string]bool{"addr": true, "db": true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.Addr != ":6060" {
		t.Fatalf("addr: %s", eff.Addr)
	}
	if eff.DBPath != "/tmp/flag-db" {
		t.Fatalf("db path: %s", eff.DBPath)
	}

	// without explicit flags the file wins
	eff, err = Resolve(":6060", "/tmp/flag-db", path, map[string]bool{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.Addr != "0.0.0.0:9090" {
		t.Fatalf("addr: %s", eff.Addr)
	}
	if eff.DBPath != "/tmp/file-db" {
		t.Fatalf("db path: %s", eff.DBPath)
	}
}

func TestResolveExplicitConfigMustExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Resolve("", "", missing, map[string]bool{"config": true}); err == nil {
		t.Fatalf("expected error for explicitly named missing config")
	}
	// an implicit default path is allowed to be absent
	if _, err := Resolve(":1", "/tmp/db", missing, map[string]bool{}); err != nil {
		t.Fatalf("implicit missing config should not fail: %v", err)
	}
}
