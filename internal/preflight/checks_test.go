package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shelfmark/internal/config"
	"shelfmark/internal/history"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			BaseURL:  "http://store.local:8000",
			APIToken: "token",
			Timeout:  30 * time.Second,
			PageSize: 100,
			CacheTTL: time.Minute,
		},
		LLM: config.LLMConfig{
			BaseURL:                "http://llm.local/v1",
			Model:                  "test-local-model",
			Temperature:            0.3,
			MaxContextTokens:       8192,
			ReservedResponseTokens: 512,
			RequestsPerSecond:      2,
			MaxAttempts:            3,
		},
		Analysis: config.AnalysisConfig{
			ContentMode: "text",
			RawMode:     "file",
		},
		History: config.HistoryConfig{
			DataDir: t.TempDir(),
		},
	}
}

func newTestChecker(t *testing.T, cfg *config.Config, pingErr error) *Checker {
	t.Helper()
	ledger, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open test ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return NewChecker(cfg, ledger, &stubPinger{err: pingErr})
}

func TestCheckConfiguration_Valid(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), nil)
	result := checker.checkConfiguration()

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s': %s", result.Status, result.Message)
	}
}

func TestCheckConfiguration_Invalid(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.BaseURL = ""

	checker := newTestChecker(t, cfg, nil)
	result := checker.checkConfiguration()

	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be set")
	}
}

func TestCheckDataDir_Writable(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), nil)
	result := checker.checkDataDir()

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s': %s", result.Status, result.Message)
	}
}

func TestCheckLedger_Success(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), nil)
	result := checker.checkLedger(context.Background())

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s': %s", result.Status, result.Message)
	}
}

func TestCheckLedger_Closed(t *testing.T) {
	cfg := validConfig(t)
	ledger, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open test ledger: %v", err)
	}
	ledger.Close() // Close immediately to simulate failure

	checker := NewChecker(cfg, ledger, &stubPinger{})
	result := checker.checkLedger(context.Background())

	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be set")
	}
}

func TestCheckStoreConnection_Reachable(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), nil)
	result := checker.checkStoreConnection(context.Background())

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s'", result.Status)
	}
}

func TestCheckStoreConnection_Unreachable(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), errors.New("connection refused"))
	result := checker.checkStoreConnection(context.Background())

	// An unreachable store must not block startup
	if result.Status != "warning" {
		t.Errorf("Expected status 'warning', got '%s'", result.Status)
	}
}

func TestCheckPromptFile_Unset(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), nil)
	result := checker.checkPromptFile()

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s'", result.Status)
	}
}

func TestCheckPromptFile_Exists(t *testing.T) {
	cfg := validConfig(t)
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("Analyze the document."), 0o644); err != nil {
		t.Fatalf("Failed to write prompt file: %v", err)
	}
	cfg.Analysis.PromptFile = path

	checker := newTestChecker(t, cfg, nil)
	result := checker.checkPromptFile()

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s': %s", result.Status, result.Message)
	}
}

func TestCheckPromptFile_Missing(t *testing.T) {
	cfg := validConfig(t)
	cfg.Analysis.PromptFile = filepath.Join(t.TempDir(), "missing.txt")

	checker := newTestChecker(t, cfg, nil)
	result := checker.checkPromptFile()

	if result.Status != "warning" {
		t.Errorf("Expected status 'warning', got '%s'", result.Status)
	}
}

func TestCheckPromptFile_Empty(t *testing.T) {
	cfg := validConfig(t)
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("   \n"), 0o644); err != nil {
		t.Fatalf("Failed to write prompt file: %v", err)
	}
	cfg.Analysis.PromptFile = path

	checker := newTestChecker(t, cfg, nil)
	result := checker.checkPromptFile()

	if result.Status != "warning" {
		t.Errorf("Expected status 'warning', got '%s'", result.Status)
	}
}

func TestRunAll(t *testing.T) {
	checker := newTestChecker(t, validConfig(t), nil)
	results := checker.RunAll(context.Background())

	if len(results) == 0 {
		t.Fatal("Expected results, got empty slice")
	}

	// Verify all expected checks ran
	expectedChecks := map[string]bool{
		"Configuration":     false,
		"Data Directory":    false,
		"Processing Ledger": false,
		"Document Store":    false,
		"Prompt File":       false,
	}

	for _, result := range results {
		if _, exists := expectedChecks[result.Name]; exists {
			expectedChecks[result.Name] = true
		}
	}

	for checkName, ran := range expectedChecks {
		if !ran {
			t.Errorf("Expected check '%s' to run", checkName)
		}
	}

	if HasFailures(results) {
		t.Error("Expected no failures with a valid setup")
	}
}

func TestHasFailures(t *testing.T) {
	// Test with no failures
	results := []CheckResult{
		{Status: "pass"},
		{Status: "pass"},
		{Status: "warning"},
	}

	if HasFailures(results) {
		t.Error("Expected no failures")
	}

	// Test with failures
	results = append(results, CheckResult{Status: "fail"})

	if !HasFailures(results) {
		t.Error("Expected failures to be detected")
	}
}
