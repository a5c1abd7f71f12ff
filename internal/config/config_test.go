package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Collector.MaxAttempts != 3 {
		t.Errorf("Collector.MaxAttempts = %d, want 3", cfg.Collector.MaxAttempts)
	}
	if cfg.Collector.RequestTimeout != 10*time.Second {
		t.Errorf("Collector.RequestTimeout = %v, want 10s", cfg.Collector.RequestTimeout)
	}
	if len(cfg.Collector.TerminalCodes) != 2 || cfg.Collector.TerminalCodes[0] != 401 || cfg.Collector.TerminalCodes[1] != 403 {
		t.Errorf("Collector.TerminalCodes = %v, want [401 403]", cfg.Collector.TerminalCodes)
	}
	if cfg.Session.PauseDelay != 2*time.Second {
		t.Errorf("Session.PauseDelay = %v, want 2s", cfg.Session.PauseDelay)
	}
	if cfg.Session.ResumeDelay != time.Second {
		t.Errorf("Session.ResumeDelay = %v, want 1s", cfg.Session.ResumeDelay)
	}
	if !cfg.Session.AutoStart {
		t.Error("Session.AutoStart should be true by default")
	}
	if cfg.Agent.SamplingEnabled {
		t.Error("Agent.SamplingEnabled should be false by default")
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.DLQ.Backend != DLQNone {
		t.Errorf("DLQ.Backend = %q, want %q", cfg.DLQ.Backend, DLQNone)
	}
	if cfg.DLQ.NATS.MaxAge != 7*24*time.Hour {
		t.Errorf("DLQ.NATS.MaxAge = %v, want 168h", cfg.DLQ.NATS.MaxAge)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	content := `
agent:
  client_key: key_live_abc123
  sampling_enabled: true
collector:
  url: https://collector.example.com/v1/collect
  max_attempts: 5
dlq:
  backend: file
  base_path: /tmp/beacon-dlq
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.ClientKey != "key_live_abc123" {
		t.Errorf("Agent.ClientKey = %q", cfg.Agent.ClientKey)
	}
	if !cfg.Agent.SamplingEnabled {
		t.Error("Agent.SamplingEnabled should be true")
	}
	if cfg.Collector.MaxAttempts != 5 {
		t.Errorf("Collector.MaxAttempts = %d, want 5", cfg.Collector.MaxAttempts)
	}
	if cfg.Collector.RequestTimeout != 10*time.Second {
		t.Errorf("unset keys keep defaults, got RequestTimeout = %v", cfg.Collector.RequestTimeout)
	}
	if cfg.DLQ.Backend != DLQFile || cfg.DLQ.BasePath != "/tmp/beacon-dlq" {
		t.Errorf("DLQ = %+v", cfg.DLQ)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BEACON_AGENT_CLIENT_KEY", "key_test_env")
	t.Setenv("BEACON_COLLECTOR_MAX_ATTEMPTS", "7")
	t.Setenv("BEACON_SESSION_PAUSE_DELAY", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.ClientKey != "key_test_env" {
		t.Errorf("Agent.ClientKey = %q, want key_test_env", cfg.Agent.ClientKey)
	}
	if cfg.Collector.MaxAttempts != 7 {
		t.Errorf("Collector.MaxAttempts = %d, want 7", cfg.Collector.MaxAttempts)
	}
	if cfg.Session.PauseDelay != 5*time.Second {
		t.Errorf("Session.PauseDelay = %v, want 5s", cfg.Session.PauseDelay)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/beacon.yaml"); err == nil {
		t.Error("Load() with non-existent file path should return error")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(path, []byte("invalid: yaml: : :"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero attempts", func(c *Config) { c.Collector.MaxAttempts = 0 }, "max_attempts"},
		{"zero timeout", func(c *Config) { c.Collector.RequestTimeout = 0 }, "request_timeout"},
		{"inverted intervals", func(c *Config) { c.Collector.MaxInterval = time.Millisecond }, "retry intervals"},
		{"no collector", func(c *Config) { c.Collector.URL = "" }, "collector.url"},
		{"zero grace", func(c *Config) { c.Session.ResumeDelay = 0 }, "grace delays"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"file without path", func(c *Config) { c.DLQ.Backend = DLQFile; c.DLQ.BasePath = "" }, "base_path"},
		{"unknown backend", func(c *Config) { c.DLQ.Backend = "kafka" }, "unknown dlq.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.want)
			}
		})
	}

	if err := valid(t).Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
