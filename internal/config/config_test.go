package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CONFIG_FILE", "PORT", "CONTENT_MODE", "MAX_CONTEXT_TOKENS", "CACHE_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "3077" {
		t.Errorf("Expected default port 3077, got %s", cfg.Server.Port)
	}
	if cfg.Analysis.ContentMode != "text" {
		t.Errorf("Expected default content mode text, got %s", cfg.Analysis.ContentMode)
	}
	if cfg.LLM.MaxContextTokens != 8192 {
		t.Errorf("Expected default context window 8192, got %d", cfg.LLM.MaxContextTokens)
	}
	if cfg.LLM.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", cfg.LLM.MaxAttempts)
	}
	if cfg.Store.CacheTTL != 10*time.Minute {
		t.Errorf("Expected default cache TTL 10m, got %v", cfg.Store.CacheTTL)
	}
	if !cfg.Analysis.ActivateTitle || !cfg.Analysis.ActivateTags {
		t.Error("Expected title and tags analysis enabled by default")
	}
	if cfg.Analysis.ActivateContent {
		t.Error("Expected content rewriting disabled by default")
	}
}

func TestLoadLayersFileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shelfmark.yaml")
	yaml := `
server:
  port: "4000"
store:
  base_url: http://paperless:8000
  api_token: file-token
llm:
  model: llama3
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PORT", "5000")
	t.Setenv("STORE_URL", "")
	t.Setenv("STORE_TOKEN", "")
	t.Setenv("LLM_MODEL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "5000" {
		t.Errorf("Expected env to override file port, got %s", cfg.Server.Port)
	}
	if cfg.Store.BaseURL != "http://paperless:8000" {
		t.Errorf("Expected file store URL, got %s", cfg.Store.BaseURL)
	}
	if cfg.Store.APIToken != "file-token" {
		t.Errorf("Expected file token, got %s", cfg.Store.APIToken)
	}
	if cfg.LLM.Model != "llama3" {
		t.Errorf("Expected file model, got %s", cfg.LLM.Model)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte(":\n\t- nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := defaults()
	cfg.Store.BaseURL = ""
	cfg.Store.APIToken = ""
	cfg.LLM.BaseURL = ""
	cfg.LLM.Model = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for empty config")
	}

	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *ConfigurationError, got %T", err)
	}
	if len(cerr.Problems) < 4 {
		t.Errorf("Expected at least 4 problems reported together, got %d: %v", len(cerr.Problems), cerr.Problems)
	}
	if !strings.Contains(err.Error(), "STORE_URL") {
		t.Errorf("Expected STORE_URL named in error, got %q", err.Error())
	}
}

func TestValidateBudgetBounds(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.ReservedResponseTokens = cfg.LLM.MaxContextTokens

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error when reservation consumes the whole window")
	}
	if !strings.Contains(err.Error(), "reserved response tokens") {
		t.Errorf("Expected reservation problem, got %q", err.Error())
	}
}

func TestValidateCron(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		cron    string
		wantErr bool
	}{
		{"valid five field", true, "*/15 * * * *", false},
		{"invalid expression", true, "every 5 minutes", true},
		{"six fields rejected", true, "0 */15 * * * *", true},
		{"disabled skips validation", false, "garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Scan.Enabled = tt.enabled
			cfg.Scan.Cron = tt.cron

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected cron validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestValidateContentMode(t *testing.T) {
	cfg := validConfig()
	cfg.Analysis.ContentMode = "ocr"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "content mode") {
		t.Errorf("Expected content mode problem, got %v", err)
	}
}

func TestCapabilitiesMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Analysis.ActivateTitle = true
	cfg.Analysis.ActivateCustomFields = true
	cfg.Analysis.ActivateLanguage = false

	caps := cfg.Capabilities()
	if !caps.Title || !caps.CustomFields {
		t.Error("Expected enabled capabilities to map through")
	}
	if caps.Language {
		t.Error("Expected disabled language capability to map through")
	}

	cfg.Analysis.RestrictTags = true
	pol := cfg.Restrictions()
	if !pol.Tags || pol.Correspondents {
		t.Errorf("Unexpected restriction policy: %+v", pol)
	}
}

func validConfig() *Config {
	cfg := defaults()
	cfg.Store.BaseURL = "http://localhost:8000"
	cfg.Store.APIToken = "token"
	cfg.LLM.BaseURL = "http://localhost:11434/v1"
	cfg.LLM.Model = "llama3"
	return cfg
}
