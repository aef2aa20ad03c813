package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Console.Fallback != "sample" {
		t.Errorf("expected sample fallback, got %q", cfg.Console.Fallback)
	}
	if cfg.Session.Store != "memory" {
		t.Errorf("expected memory session store, got %q", cfg.Session.Store)
	}
	if cfg.Session.TTL != cfg.Auth.TokenExpiry {
		t.Errorf("session ttl should follow token expiry, got %v", cfg.Session.TTL)
	}
	if cfg.Database.Enabled() {
		t.Error("database should be disabled without a database name")
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CONSOLE_BACKEND_URL", "http://gateway:9000")

	path := writeConfig(t, `
backend:
  base_url: ${CONSOLE_BACKEND_URL}
  timeout: 5s
console:
  fallback: empty
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://gateway:9000" {
		t.Errorf("expected expanded base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Console.Fallback != "empty" {
		t.Errorf("expected empty fallback, got %q", cfg.Console.Fallback)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown fallback", "console:\n  fallback: maybe\n"},
		{"unknown session store", "session:\n  store: disk\n"},
		{"s3 without bucket", "archive:\n  provider: s3\n"},
		{"unknown archive", "archive:\n  provider: ftp\n"},
		{"schedule without spec", "schedule:\n  - name: nightly\n    action: scan\n"},
		{"schedule unknown action", "schedule:\n  - name: nightly\n    spec: '@daily'\n    action: purge\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestScheduleJobConfig_IsEnabled(t *testing.T) {
	disabled := false
	if !(ScheduleJobConfig{}).IsEnabled() {
		t.Error("jobs are enabled unless disabled explicitly")
	}
	if (ScheduleJobConfig{Enabled: &disabled}).IsEnabled() {
		t.Error("expected disabled job")
	}
}
