// Package config loads the tlsgate YAML configuration. A configuration is a
// directory: every *.yaml file in it is decoded, in lexical order, on top of
// the built-in defaults, so later files override earlier ones key by key.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerName      = "tlsgate"
	defaultCacheSizeLimit  = 1_000_000
	defaultIdleTimeoutSecs = 300
	defaultSweepIntervalMS = 2000
	defaultListenAddr      = ":8443"
	defaultMaxHelloBytes   = 5 + 16384
	defaultLogDir          = "data/logs"
	defaultRetentionDays   = 7
	defaultStatsSeconds    = 30
)

// Config represents the complete gate configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gate     GateConfig     `yaml:"gate"`
	Listener ListenerConfig `yaml:"listener"`
	Logging  LoggingConfig  `yaml:"logging"`
	Stats    StatsConfig    `yaml:"stats"`

	// LoadedFrom is the directory the configuration was read from.
	LoadedFrom string `yaml:"-"`
}

// ServerConfig contains general server settings
type ServerConfig struct {
	Name string `yaml:"name"`
}

// GateConfig sizes the ClientHello connection cache.
type GateConfig struct {
	CacheSizeLimit     int `yaml:"cache_size_limit"`
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	SweepIntervalMS    int `yaml:"sweep_interval_ms"`
}

// IdleTimeout converts IdleTimeoutSeconds.
func (g GateConfig) IdleTimeout() time.Duration {
	return time.Duration(g.IdleTimeoutSeconds) * time.Second
}

// SweepInterval converts SweepIntervalMS.
func (g GateConfig) SweepInterval() time.Duration {
	return time.Duration(g.SweepIntervalMS) * time.Millisecond
}

// ListenerConfig contains HTTPS listener settings. Leaving both certificate
// paths empty serves plain HTTP.
type ListenerConfig struct {
	Addr          string `yaml:"addr"`
	CertFile      string `yaml:"cert_file"`
	KeyFile       string `yaml:"key_file"`
	MaxHelloBytes int    `yaml:"max_hello_bytes"`
}

// TLSEnabled reports whether a certificate pair is configured.
func (l ListenerConfig) TLSEnabled() bool {
	return strings.TrimSpace(l.CertFile) != "" && strings.TrimSpace(l.KeyFile) != ""
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatsConfig controls the periodic stats line. Zero disables it.
type StatsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval converts IntervalSeconds.
func (s StatsConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Default returns the configuration used when no file overrides a field.
func Default() Config {
	return Config{
		Server: ServerConfig{Name: defaultServerName},
		Gate: GateConfig{
			CacheSizeLimit:     defaultCacheSizeLimit,
			IdleTimeoutSeconds: defaultIdleTimeoutSecs,
			SweepIntervalMS:    defaultSweepIntervalMS,
		},
		Listener: ListenerConfig{
			Addr:          defaultListenAddr,
			MaxHelloBytes: defaultMaxHelloBytes,
		},
		Logging: LoggingConfig{
			Dir:           defaultLogDir,
			RetentionDays: defaultRetentionDays,
		},
		Stats: StatsConfig{IntervalSeconds: defaultStatsSeconds},
	}
}

// Load reads every *.yaml file in dir. A path that is not a directory is
// rejected so a stray single-file path never silently drops the rest of the
// configuration.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(entry.Name())); ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no YAML files found in %s", dir)
	}
	sort.Strings(names)

	cfg := Default()
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeInto(&cfg, data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = dir
	return &cfg, nil
}

// decodeInto overlays one YAML document on cfg. Unknown keys are errors.
func decodeInto(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects values the gate cannot run with.
func (c *Config) Validate() error {
	if c.Gate.CacheSizeLimit <= 0 {
		return fmt.Errorf("gate.cache_size_limit must be > 0 (got %d)", c.Gate.CacheSizeLimit)
	}
	if c.Gate.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("gate.idle_timeout_seconds must be > 0 (got %d)", c.Gate.IdleTimeoutSeconds)
	}
	if c.Gate.SweepIntervalMS <= 0 {
		return fmt.Errorf("gate.sweep_interval_ms must be > 0 (got %d)", c.Gate.SweepIntervalMS)
	}
	if strings.TrimSpace(c.Listener.Addr) == "" {
		return fmt.Errorf("listener.addr is required")
	}
	if c.Listener.MaxHelloBytes <= 5 {
		return fmt.Errorf("listener.max_hello_bytes must exceed the 5-byte record header (got %d)", c.Listener.MaxHelloBytes)
	}
	if (strings.TrimSpace(c.Listener.CertFile) == "") != (strings.TrimSpace(c.Listener.KeyFile) == "") {
		return fmt.Errorf("listener.cert_file and listener.key_file must be set together")
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must be >= 0 (got %d)", c.Logging.RetentionDays)
	}
	if c.Logging.Enabled && strings.TrimSpace(c.Logging.Dir) == "" {
		return fmt.Errorf("logging.dir is required when logging is enabled")
	}
	if c.Stats.IntervalSeconds < 0 {
		return fmt.Errorf("stats.interval_seconds must be >= 0 (got %d)", c.Stats.IntervalSeconds)
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Server: %s\n", c.Server.Name)
	fmt.Printf("Gate: limit=%d idle=%s sweep=%s\n", c.Gate.CacheSizeLimit, c.Gate.IdleTimeout(), c.Gate.SweepInterval())
	mode := "http"
	if c.Listener.TLSEnabled() {
		mode = "https"
	}
	fmt.Printf("Listener: %s (%s, max hello %d bytes)\n", c.Listener.Addr, mode, c.Listener.MaxHelloBytes)
	if c.Logging.Enabled {
		fmt.Printf("Logging: %s (retention %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
	if c.Stats.IntervalSeconds > 0 {
		fmt.Printf("Stats: every %s\n", c.Stats.Interval())
	}
}
