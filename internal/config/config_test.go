package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
auth:
  access_token_secret: "access-secret-access-secret-access-secret"
  refresh_token_secret: "refresh-secret-refresh-secret-refresh-secret"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("Addr() = %q, want %q", cfg.Addr(), "0.0.0.0:8080")
	}
	if cfg.Server.BaseURL != "http://0.0.0.0:8080" {
		t.Fatalf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Database.Driver != "sqlite3" || cfg.DatabaseDSN() != "./data/accounts.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Auth.AccessTokenTTL != time.Hour {
		t.Fatalf("AccessTokenTTL = %v, want 1h", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 240*time.Hour {
		t.Fatalf("RefreshTokenTTL = %v, want 240h", cfg.Auth.RefreshTokenTTL)
	}
	if !cfg.UseSecureCookies() {
		t.Fatal("UseSecureCookies() = false, want true")
	}
	if cfg.Storage.Backend != StorageLocal || cfg.Storage.UploadMaxBytes != 10<<20 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("SlogLevel() = %v", cfg.SlogLevel())
	}
}

func TestParseHonorsExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  base_url: "https://accounts.example.com/"
  allowed_origins: ["https://app.example.com"]
  port: 9000
auth:
  access_token_secret: "access-secret-access-secret-access-secret"
  refresh_token_secret: "refresh-secret-refresh-secret-refresh-secret"
  access_token_ttl: 5m
  secure_cookies: false
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Server.BaseURL != "https://accounts.example.com" {
		t.Fatalf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Auth.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.UseSecureCookies() {
		t.Fatal("UseSecureCookies() = true, want false")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("SlogLevel() = %v", cfg.SlogLevel())
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing secrets", `server: {port: 8080}`},
		{"short secret", `
auth:
  access_token_secret: "short"
  refresh_token_secret: "refresh-secret-refresh-secret-refresh-secret"
`},
		{"identical secrets", `
auth:
  access_token_secret: "same-secret-same-secret-same-secret-same"
  refresh_token_secret: "same-secret-same-secret-same-secret-same"
`},
		{"unknown driver", validYAML + `
database:
  driver: mysql
`},
		{"postgres without dsn", validYAML + `
database:
  driver: postgres
`},
		{"s3 without bucket", validYAML + `
storage:
  backend: s3
`},
		{"unknown backend", validYAML + `
storage:
  backend: ftp
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
		})
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ACCOUNTS_ACCESS_TOKEN_SECRET", "env-access-secret-env-access-secret-xx")
	t.Setenv("ACCOUNTS_REFRESH_TOKEN_SECRET", "env-refresh-secret-env-refresh-secret-x")
	t.Setenv("ACCOUNTS_S3_SECRET_KEY", "s3-secret")

	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.AccessTokenSecret != "env-access-secret-env-access-secret-xx" {
		t.Fatalf("AccessTokenSecret = %q", cfg.Auth.AccessTokenSecret)
	}
	if cfg.Auth.RefreshTokenSecret != "env-refresh-secret-env-refresh-secret-x" {
		t.Fatalf("RefreshTokenSecret = %q", cfg.Auth.RefreshTokenSecret)
	}
	if cfg.Storage.S3.SecretKey != "s3-secret" {
		t.Fatalf("S3 SecretKey = %q", cfg.Storage.S3.SecretKey)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil for missing file")
	}
}
