package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host: expected 127.0.0.1, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("default port: expected 8787, got %d", cfg.Server.Port)
	}
	if cfg.Logging.MaxFileBytes != 10*1024*1024 {
		t.Errorf("default max_file_bytes: expected %d, got %d", 10*1024*1024, cfg.Logging.MaxFileBytes)
	}
	if cfg.Logging.MaxPromptBytes != 8192 {
		t.Errorf("default max_prompt_bytes: expected 8192, got %d", cfg.Logging.MaxPromptBytes)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") should not error: %v", err)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("default timeout: expected 60, got %v", cfg.Upstream.TimeoutSeconds)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[upstream]
base_url = "https://api.example.com/"
timeout_s = 15

[logging]
log_dir = "/var/log/plens"
max_file_bytes = 100
max_prompt_bytes = 64

[server]
host = "0.0.0.0"
port = 9090
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Upstream.BaseURL != "https://api.example.com" {
		t.Errorf("base_url should have trailing slash stripped, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.MaxFileBytes != 100 {
		t.Errorf("max_file_bytes: expected 100, got %d", cfg.Logging.MaxFileBytes)
	}
}

func TestLoad_WrongExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for non-.toml extension")
	}
}

func TestLoad_InvalidBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[upstream]
base_url = "not-a-url"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid base_url")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AppConfig
		wantErr bool
	}{
		{
			name:    "valid defaults",
			cfg:     *defaultConfig(),
			wantErr: false,
		},
		{
			name: "empty host",
			cfg: AppConfig{
				Upstream: UpstreamConfig{TimeoutSeconds: 1},
				Logging:  LoggingConfig{MaxFileBytes: 1, MaxPromptBytes: 1},
				Server:   ServerConfig{Host: "", Port: 80},
			},
			wantErr: true,
		},
		{
			name: "port out of range",
			cfg: AppConfig{
				Upstream: UpstreamConfig{TimeoutSeconds: 1},
				Logging:  LoggingConfig{MaxFileBytes: 1, MaxPromptBytes: 1},
				Server:   ServerConfig{Host: "h", Port: 70000},
			},
			wantErr: true,
		},
		{
			name: "zero max_file_bytes",
			cfg: AppConfig{
				Upstream: UpstreamConfig{TimeoutSeconds: 1},
				Logging:  LoggingConfig{MaxFileBytes: 0, MaxPromptBytes: 1},
				Server:   ServerConfig{Host: "h", Port: 80},
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			cfg: AppConfig{
				Upstream: UpstreamConfig{TimeoutSeconds: -1},
				Logging:  LoggingConfig{MaxFileBytes: 1, MaxPromptBytes: 1},
				Server:   ServerConfig{Host: "h", Port: 80},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithOverrides_DoesNotMutateReceiver(t *testing.T) {
	base := *defaultConfig()
	newHost := "0.0.0.0"
	newPort := 1234

	out := base.WithOverrides(Overrides{Host: &newHost, Port: &newPort})

	if base.Server.Host != "127.0.0.1" {
		t.Errorf("receiver mutated: host is %q", base.Server.Host)
	}
	if out.Server.Host != "0.0.0.0" || out.Server.Port != 1234 {
		t.Errorf("overrides not applied: %+v", out.Server)
	}
}

func TestValidate_CatchesInvalidOverrides(t *testing.T) {
	// Mirrors cmd/plens's Load -> WithOverrides -> Validate sequence: a
	// value that only became invalid after a CLI override must still be
	// caught, not just values that arrived via the TOML file.
	base := *defaultConfig()
	base.Upstream.BaseURL = "https://api.example.com"

	badURL := "not-a-url"
	merged := base.WithOverrides(Overrides{UpstreamURL: &badURL})
	if err := Validate(&merged); err == nil {
		t.Error("expected error for invalid overridden base_url")
	}

	badTimeout := -5.0
	merged = base.WithOverrides(Overrides{TimeoutSeconds: &badTimeout})
	if err := Validate(&merged); err == nil {
		t.Error("expected error for negative overridden timeout_s")
	}

	badMaxFileBytes := int64(-100)
	merged = base.WithOverrides(Overrides{MaxFileBytes: &badMaxFileBytes})
	if err := Validate(&merged); err == nil {
		t.Error("expected error for negative overridden max_file_bytes")
	}
}
