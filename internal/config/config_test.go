package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid default configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "zero workers",
			mutate:      func(c *Config) { c.Harness.Workers = 0 },
			expectError: true,
			errorMsg:    "workers must be at least 1",
		},
		{
			name:        "negative inactivity timeout",
			mutate:      func(c *Config) { c.Harness.InactivityTimeoutMs = -5 },
			expectError: true,
			errorMsg:    "inactivity_timeout_ms must be positive",
		},
		{
			name:        "zero join deadline",
			mutate:      func(c *Config) { c.Harness.JoinDeadlineMs = 0 },
			expectError: true,
			errorMsg:    "join_deadline_ms must be positive",
		},
		{
			name:        "zero fanout buffer",
			mutate:      func(c *Config) { c.Harness.FanoutBuffer = 0 },
			expectError: true,
			errorMsg:    "fanout_buffer must be at least 1",
		},
		{
			name:        "empty endpoint",
			mutate:      func(c *Config) { c.Service.Endpoint = "" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name:        "empty model",
			mutate:      func(c *Config) { c.Service.Model = "" },
			expectError: true,
			errorMsg:    "model cannot be empty",
		},
		{
			name:        "sample rate too low",
			mutate:      func(c *Config) { c.Service.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "sample_rate must be between 8000 and 48000",
		},
		{
			name:        "three channels",
			mutate:      func(c *Config) { c.Service.Channels = 3 },
			expectError: true,
			errorMsg:    "channels must be 1 or 2",
		},
		{
			name:        "chunk duration too small",
			mutate:      func(c *Config) { c.Audio.ChunkDurationMs = 5 },
			expectError: true,
			errorMsg:    "chunk_duration_ms must be between 10 and 1000",
		},
		{
			name: "http enabled with invalid port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 0
			},
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "http disabled skips port validation",
			mutate:      func(c *Config) { c.HTTP.Port = 0 },
			expectError: false,
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected validation error containing %q, got nil", tt.errorMsg)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
harness:
  workers: 3
  inactivity_timeout_ms: 500
service:
  endpoint: ws://localhost:8119
  sample_rate: 16000
logging:
  level: debug
  format: json
  output: stdout
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Harness.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Harness.Workers)
	}
	if cfg.Harness.GetInactivityTimeout() != 500*time.Millisecond {
		t.Errorf("expected 500ms inactivity timeout, got %v", cfg.Harness.GetInactivityTimeout())
	}
	if cfg.Service.Endpoint != "ws://localhost:8119" {
		t.Errorf("unexpected endpoint: %s", cfg.Service.Endpoint)
	}

	// Values absent from the file keep their defaults.
	if cfg.Harness.JoinDeadlineMs != 2000 {
		t.Errorf("expected default join deadline 2000, got %d", cfg.Harness.JoinDeadlineMs)
	}
	if cfg.Service.Model != "flux-general-en" {
		t.Errorf("expected default model, got %s", cfg.Service.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("harness: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestResolveAPIKey(t *testing.T) {
	s := Service{APIKey: "explicit"}
	if got := s.ResolveAPIKey(); got != "explicit" {
		t.Errorf("expected explicit key, got %q", got)
	}

	s.APIKey = ""
	t.Setenv("DEEPGRAM_API_KEY", "from-env")
	if got := s.ResolveAPIKey(); got != "from-env" {
		t.Errorf("expected env key, got %q", got)
	}
}

func TestDurationAccessors(t *testing.T) {
	h := Harness{InactivityTimeoutMs: 10000, JoinDeadlineMs: 2000, ReportIntervalMs: 500}

	if h.GetInactivityTimeout() != 10*time.Second {
		t.Errorf("unexpected inactivity timeout: %v", h.GetInactivityTimeout())
	}
	if h.GetJoinDeadline() != 2*time.Second {
		t.Errorf("unexpected join deadline: %v", h.GetJoinDeadline())
	}
	if h.GetReportInterval() != 500*time.Millisecond {
		t.Errorf("unexpected report interval: %v", h.GetReportInterval())
	}

	a := Audio{ChunkDurationMs: 100}
	if a.GetChunkDuration() != 100*time.Millisecond {
		t.Errorf("unexpected chunk duration: %v", a.GetChunkDuration())
	}
}
