// Package config handles loading, validating, and defaulting the plens
// proxy configuration from a TOML file.
//
// The config defines:
//   - Upstream LLM API base URL, timeout, TLS verification, extra headers
//   - Audit log directory, active filename, rotation/truncation thresholds
//   - Server bind address and operator log level
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig is the top-level, immutable-after-startup plens configuration.
type AppConfig struct {
	Upstream UpstreamConfig `toml:"upstream"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
}

// UpstreamConfig describes the OpenAI-compatible API this proxy forwards to.
type UpstreamConfig struct {
	BaseURL        string            `toml:"base_url"`
	TimeoutSeconds float64           `toml:"timeout_s"`
	VerifySSL      bool              `toml:"verify_ssl"`
	Headers        map[string]string `toml:"headers"`
}

// LoggingConfig describes the audit JSONL log file and its rotation/
// truncation thresholds.
type LoggingConfig struct {
	LogDir         string `toml:"log_dir"`
	Filename       string `toml:"filename"`
	MaxFileBytes   int64  `toml:"max_file_bytes"`
	MaxPromptBytes int    `toml:"max_prompt_bytes"`
}

// ServerConfig describes where the proxy listens and how verbosely it
// logs operator diagnostics.
type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
}

// Load reads and parses the TOML config at path. If path is empty, the
// defaults are returned unchanged, and a path that does not exist also
// yields the defaults. Type-mismatched fields fail loading; unknown fields
// at leaf tables are tolerated (go-toml/v2's default decode behavior). A
// config parsed from a file is validated before return.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	if !strings.HasSuffix(strings.ToLower(path), ".toml") {
		return nil, fmt.Errorf("config file %s: unsupported extension, must be .toml", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Overrides holds CLI-flag-sourced overrides applied on top of a loaded
// AppConfig. A nil field is treated as "not set"; a non-nil field replaces
// the loaded value, even when it points at a zero value.
type Overrides struct {
	Host           *string
	Port           *int
	LogDir         *string
	UpstreamURL    *string
	TimeoutSeconds *float64
	MaxFileBytes   *int64
	MaxPromptBytes *int
}

// WithOverrides returns a new AppConfig with any set Overrides fields
// replacing the receiver's values. The receiver is never mutated.
func (c AppConfig) WithOverrides(o Overrides) AppConfig {
	out := c
	if o.Host != nil {
		out.Server.Host = *o.Host
	}
	if o.Port != nil {
		out.Server.Port = *o.Port
	}
	if o.LogDir != nil {
		out.Logging.LogDir = *o.LogDir
	}
	if o.UpstreamURL != nil {
		out.Upstream.BaseURL = *o.UpstreamURL
	}
	if o.TimeoutSeconds != nil {
		out.Upstream.TimeoutSeconds = *o.TimeoutSeconds
	}
	if o.MaxFileBytes != nil {
		out.Logging.MaxFileBytes = *o.MaxFileBytes
	}
	if o.MaxPromptBytes != nil {
		out.Logging.MaxPromptBytes = *o.MaxPromptBytes
	}
	return out
}

// defaultConfig returns an AppConfig with every field set to its default
// value, per SPEC_FULL.md §3/§6.
func defaultConfig() *AppConfig {
	return &AppConfig{
		Upstream: UpstreamConfig{
			BaseURL:        "",
			TimeoutSeconds: 60,
			VerifySSL:      true,
			Headers:        map[string]string{},
		},
		Logging: LoggingConfig{
			LogDir:         "./logs",
			Filename:       "plens.jsonl",
			MaxFileBytes:   10 * 1024 * 1024,
			MaxPromptBytes: 8192,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8787,
			LogLevel: "info",
		},
	}
}

// Validate checks an AppConfig for logical errors. Fatal at startup if it
// returns an error (spec.md §7 kind 1) — callers must invoke this both
// after Load parses a file and after any WithOverrides merge, since
// flag-sourced values are just as capable of being invalid as file-sourced
// ones.
func Validate(cfg *AppConfig) error {
	if cfg.Upstream.BaseURL != "" {
		u, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("upstream.base_url %q must be an absolute http(s) URL", cfg.Upstream.BaseURL)
		}
		cfg.Upstream.BaseURL = strings.TrimSuffix(cfg.Upstream.BaseURL, "/")
	}
	if cfg.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_s must be positive")
	}
	if cfg.Logging.MaxFileBytes <= 0 {
		return fmt.Errorf("logging.max_file_bytes must be positive")
	}
	if cfg.Logging.MaxPromptBytes <= 0 {
		return fmt.Errorf("logging.max_prompt_bytes must be positive")
	}
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}
	return nil
}
