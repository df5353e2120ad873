package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.RequestLimit != 10 {
		t.Fatalf("expected default request limit 10, got %d", cfg.RequestLimit)
	}
	if cfg.RunTimeout != 1800*time.Second {
		t.Fatalf("expected default run timeout 1800s, got %s", cfg.RunTimeout)
	}
}

func TestFromYAMLAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
version: 1
gateway:
  http_addr: ":9999"
  default_model: anthropic/claude-3.5-sonnet
  run_timeout: 5m
  request_limit: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvHTTPAddr, ":7777")
	t.Setenv(EnvOpenRouterAPIKey, "sk-or-test")

	cfg, err := FromYAMLAndEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Fatalf("env should win over yaml, got %q", cfg.HTTPAddr)
	}
	if cfg.DefaultModel != "anthropic/claude-3.5-sonnet" {
		t.Fatalf("yaml should win over default, got %q", cfg.DefaultModel)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Fatalf("expected 5m run timeout, got %s", cfg.RunTimeout)
	}
	if cfg.RequestLimit != 3 {
		t.Fatalf("expected request limit 3, got %d", cfg.RequestLimit)
	}
	if cfg.OpenRouterAPIKey != "sk-or-test" {
		t.Fatalf("expected env api key, got %q", cfg.OpenRouterAPIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.DBDriver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}

	cfg = Default()
	cfg.ScratchpadBaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid scratchpad url")
	}

	cfg = Default()
	cfg.DBDriver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvRunTimeout, "soon")
	if _, err := FromYAMLAndEnv(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
