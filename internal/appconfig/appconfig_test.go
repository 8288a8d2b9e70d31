// internal/appconfig/appconfig_test.go
package appconfig

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad verifies that a valid file is decoded and defaulted, and that
// malformed, schema-violating, or missing files are rejected.
func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
        "provider": "ollama",
        "host": {"name": "local", "url": "http://localhost:11434", "model": "qwen2.5-coder"},
        "maxLength": 1800,
        "history": {"keep": 30, "trimAt": 30}
    }`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() with valid config failed: %v", err)
	}
	if cfg.MaxLength != 1800 {
		t.Fatalf("expected maxLength 1800, got %d", cfg.MaxLength)
	}
	if cfg.History.Keep != 30 || cfg.History.TrimAt != 30 {
		t.Fatalf("unexpected history policy: %+v", cfg.History)
	}
	if cfg.History.Backend != "memory" {
		t.Fatalf("expected memory backend by default, got %q", cfg.History.Backend)
	}
	if cfg.RequestTimeout() != 600*time.Second {
		t.Fatalf("expected default request timeout of 600s, got %v", cfg.RequestTimeout())
	}
	if cfg.MaxTokens != 1500 {
		t.Fatalf("expected default max tokens 1500, got %d", cfg.MaxTokens)
	}
	if cfg.ConfigPath != path {
		t.Fatalf("expected config path %q, got %q", path, cfg.ConfigPath)
	}

	if _, err := Load(writeConfig(t, `{ "host": [`)); err == nil {
		t.Fatal("Load() with invalid JSON should have failed")
	}
	if _, err := Load(writeConfig(t, `{ "maxLength": 0 }`)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() with maxLength 0 should fail schema validation, got %v", err)
	}
	if _, err := Load(writeConfig(t, `{ "history": {"keep": 10, "trimAt": 5} }`)); err == nil {
		t.Fatal("Load() with trimAt below keep should have failed")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.json")); err == nil {
		t.Fatal("Load() with nonexistent file should have failed")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Provider != ProviderOllama || cfg.MaxLength != DefaultMaxLength {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.History.Keep != 20 || cfg.History.TrimAt != 25 {
		t.Fatalf("unexpected history defaults: %+v", cfg.History)
	}
	if cfg.ErrorReply != DefaultErrorReply {
		t.Fatalf("unexpected error reply: %q", cfg.ErrorReply)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.HistoryTTL() != 0 {
		t.Fatalf("expected no TTL by default")
	}
	if cfg.LogFilePath() != "relay.log" {
		t.Fatalf("unexpected log file: %s", cfg.LogFilePath())
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Provider = "anthropic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown provider error")
	}

	cfg = Defaults()
	cfg.MaxLength = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative maxLength error")
	}

	cfg = Defaults()
	cfg.History.Backend = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.APIKey = "hf_abcdefghijklmnop"
	cfg.Discord.WebhookURL = "short"
	red := cfg.Redacted()
	if red.APIKey != "hf_a****mnop" {
		t.Fatalf("unexpected masked key: %s", red.APIKey)
	}
	if red.Discord.WebhookURL != "****" {
		t.Fatalf("unexpected masked webhook: %s", red.Discord.WebhookURL)
	}
	if cfg.APIKey != "hf_abcdefghijklmnop" {
		t.Fatal("Redacted must not modify the receiver")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_TOKEN=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_TEST_TOKEN", "")
	os.Unsetenv("RELAY_TEST_TOKEN")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}
	if got := os.Getenv("RELAY_TEST_TOKEN"); got != "from-file" {
		t.Fatalf("expected value from env file, got %q", got)
	}
	if err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
}

func TestShowConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.APIKey = "hf_abcdefghijklmnop"
	var buf bytes.Buffer
	ShowConfig(&buf, cfg)
	out := buf.String()
	if !strings.Contains(out, "No config file loaded") {
		t.Fatalf("expected defaults notice, got: %s", out)
	}
	if strings.Contains(out, "hf_abcdefghijklmnop") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "Max Length:   2000") {
		t.Fatalf("expected max length line, got: %s", out)
	}
}

func TestValidateFileMissing(t *testing.T) {
	if err := ValidateFile(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("missing file should validate, got %v", err)
	}
}
