package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "app.yaml", `server:
  name: "edge-1"
gate:
  cache_size_limit: 5000
`)
	writeFile(t, dir, "gate.yaml", `gate:
  idle_timeout_seconds: 60
listener:
  addr: "127.0.0.1:9443"
`)
	writeFile(t, dir, "notes.txt", "not: [valid yaml")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := filepath.Clean(cfg.LoadedFrom); got != filepath.Clean(dir) {
		t.Fatalf("expected LoadedFrom=%s, got %s", dir, got)
	}
	if cfg.Server.Name != "edge-1" {
		t.Fatalf("expected server.name from app.yaml, got %q", cfg.Server.Name)
	}
	if cfg.Gate.CacheSizeLimit != 5000 {
		t.Fatalf("expected gate.cache_size_limit=5000 from app.yaml, got %d", cfg.Gate.CacheSizeLimit)
	}
	if cfg.Gate.IdleTimeout() != time.Minute {
		t.Fatalf("expected idle timeout 1m from gate.yaml, got %s", cfg.Gate.IdleTimeout())
	}
	if cfg.Gate.SweepInterval() != 2*time.Second {
		t.Fatalf("expected default sweep interval, got %s", cfg.Gate.SweepInterval())
	}
	if cfg.Listener.Addr != "127.0.0.1:9443" {
		t.Fatalf("expected listener.addr from gate.yaml, got %q", cfg.Listener.Addr)
	}
	if cfg.Listener.MaxHelloBytes != defaultMaxHelloBytes {
		t.Fatalf("expected default max_hello_bytes, got %d", cfg.Listener.MaxHelloBytes)
	}
}

func TestLoadLaterFileOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-base.yaml", "stats:\n  interval_seconds: 10\n")
	writeFile(t, dir, "20-override.yaml", "stats:\n  interval_seconds: 0\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Stats.IntervalSeconds != 0 {
		t.Fatalf("expected the later file to disable stats, got %d", cfg.Stats.IntervalSeconds)
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.yaml", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	def := Default()
	if cfg.Gate != def.Gate || cfg.Listener != def.Listener || cfg.Stats != def.Stats {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsFilePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.yaml", "server:\n  name: x\n")

	if _, err := Load(filepath.Join(dir, "app.yaml")); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("expected not-a-directory error, got %v", err)
	}
}

func TestLoadRequiresYAML(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for a directory without YAML files")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.yaml", "gate:\n  cache_limit: 10\n")

	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "app.yaml") {
		t.Fatalf("expected parse error naming app.yaml, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero limit", func(c *Config) { c.Gate.CacheSizeLimit = 0 }, "cache_size_limit"},
		{"zero idle", func(c *Config) { c.Gate.IdleTimeoutSeconds = 0 }, "idle_timeout_seconds"},
		{"negative sweep", func(c *Config) { c.Gate.SweepIntervalMS = -1 }, "sweep_interval_ms"},
		{"blank addr", func(c *Config) { c.Listener.Addr = " " }, "listener.addr"},
		{"tiny hello", func(c *Config) { c.Listener.MaxHelloBytes = 5 }, "max_hello_bytes"},
		{"cert without key", func(c *Config) { c.Listener.CertFile = "server.crt" }, "set together"},
		{"negative retention", func(c *Config) { c.Logging.RetentionDays = -1 }, "retention_days"},
		{"logging without dir", func(c *Config) { c.Logging.Enabled = true; c.Logging.Dir = "" }, "logging.dir"},
		{"negative stats", func(c *Config) { c.Stats.IntervalSeconds = -5 }, "interval_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestListenerTLSEnabled(t *testing.T) {
	l := ListenerConfig{CertFile: "a.crt"}
	if l.TLSEnabled() {
		t.Fatal("expected TLS disabled without a key")
	}
	l.KeyFile = "a.key"
	if !l.TLSEnabled() {
		t.Fatal("expected TLS enabled with both files")
	}
}
