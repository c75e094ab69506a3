package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete load generator configuration
type Config struct {
	Harness Harness `yaml:"harness"`
	Service Service `yaml:"service"`
	Audio   Audio   `yaml:"audio"`
	HTTP    HTTP    `yaml:"http"`
	Logging Logging `yaml:"logging"`
}

// Harness contains worker pool and shutdown configuration
type Harness struct {
	Workers             int  `yaml:"workers"`
	InactivityTimeoutMs int  `yaml:"inactivity_timeout_ms"`
	JoinDeadlineMs      int  `yaml:"join_deadline_ms"`
	ReportIntervalMs    int  `yaml:"report_interval_ms"`
	FanoutBuffer        int  `yaml:"fanout_buffer"`
	Verbose             bool `yaml:"verbose"`
}

// Service contains the remote speech service connection parameters
type Service struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Encoding   string `yaml:"encoding"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// Audio contains source chunking parameters
type Audio struct {
	ChunkDurationMs int `yaml:"chunk_duration_ms"`
}

// HTTP contains the monitoring endpoint configuration
type HTTP struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Harness: Harness{
			Workers:             1,
			InactivityTimeoutMs: 10000,
			JoinDeadlineMs:      2000,
			ReportIntervalMs:    500,
			FanoutBuffer:        1000,
		},
		Service: Service{
			Endpoint:   "wss://api.deepgram.com",
			Model:      "flux-general-en",
			Encoding:   "linear16",
			SampleRate: 16000,
			Channels:   1,
		},
		Audio: Audio{
			ChunkDurationMs: 100,
		},
		HTTP: HTTP{
			Enabled: false,
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the complete configuration
func (c *Config) Validate() error {
	if err := c.Harness.Validate(); err != nil {
		return fmt.Errorf("harness config: %w", err)
	}

	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates harness configuration
func (h *Harness) Validate() error {
	if h.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", h.Workers)
	}

	if h.InactivityTimeoutMs < 1 {
		return fmt.Errorf("inactivity_timeout_ms must be positive, got %d", h.InactivityTimeoutMs)
	}

	if h.JoinDeadlineMs < 1 {
		return fmt.Errorf("join_deadline_ms must be positive, got %d", h.JoinDeadlineMs)
	}

	if h.ReportIntervalMs < 1 {
		return fmt.Errorf("report_interval_ms must be positive, got %d", h.ReportIntervalMs)
	}

	if h.FanoutBuffer < 1 {
		return fmt.Errorf("fanout_buffer must be at least 1 frame, got %d", h.FanoutBuffer)
	}

	return nil
}

// Validate validates service configuration. The API key is resolved from the
// DEEPGRAM_API_KEY environment variable when empty, so it is not required here.
func (s *Service) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Encoding == "" {
		return fmt.Errorf("encoding cannot be empty")
	}

	if s.SampleRate < 8000 || s.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", s.SampleRate)
	}

	if s.Channels < 1 || s.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", s.Channels)
	}

	return nil
}

// Validate validates audio configuration
func (a *Audio) Validate() error {
	if a.ChunkDurationMs < 10 || a.ChunkDurationMs > 1000 {
		return fmt.Errorf("chunk_duration_ms must be between 10 and 1000, got %d", a.ChunkDurationMs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTP) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *Logging) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// ResolveAPIKey returns the configured API key, falling back to the
// DEEPGRAM_API_KEY environment variable.
func (s *Service) ResolveAPIKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	return os.Getenv("DEEPGRAM_API_KEY")
}

// GetInactivityTimeout returns the inactivity timeout as a time.Duration
func (h *Harness) GetInactivityTimeout() time.Duration {
	return time.Duration(h.InactivityTimeoutMs) * time.Millisecond
}

// GetJoinDeadline returns the shutdown join deadline as a time.Duration
func (h *Harness) GetJoinDeadline() time.Duration {
	return time.Duration(h.JoinDeadlineMs) * time.Millisecond
}

// GetReportInterval returns the stats reporting cadence as a time.Duration
func (h *Harness) GetReportInterval() time.Duration {
	return time.Duration(h.ReportIntervalMs) * time.Millisecond
}

// GetChunkDuration returns the source chunk duration as a time.Duration
func (a *Audio) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}
