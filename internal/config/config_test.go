package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestAppConfigRejectsUnknownLogLevel(t *testing.T) {
	cfg := AppConfig{LogLevel: "verbose", Listen: ":8080"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestHandshakeConfigRequiresAllTimeouts(t *testing.T) {
	cfg := HandshakeConfig{HandshakeTimeout: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing timeouts")
	}
}

func TestLoadExpandsEnvAndValidates(t *testing.T) {
	t.Setenv("CONVERGENCE_TEST_DSN", "postgres://u:p@localhost:5432/db")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
app:
  log_level: info
  listen: ":9090"
postgres:
  dsn: "${CONVERGENCE_TEST_DSN}"
handshake:
  handshake_timeout: 10s
  data_request_timeout: 30s
  linger_timeout: 2m
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg Config
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://u:p@localhost:5432/db" {
		t.Fatalf("env var not expanded, got %q", cfg.Postgres.DSN)
	}
	if cfg.App.Listen != ":9090" {
		t.Fatalf("unexpected listen address %q", cfg.App.Listen)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
app:
  log_level: nonsense
  listen: ":9090"
postgres:
  dsn: "postgres://x"
handshake:
  handshake_timeout: 10s
  data_request_timeout: 30s
  linger_timeout: 2m
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg Config
	if err := Load(path, &cfg); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}
