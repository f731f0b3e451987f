package preflight

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shelfmark/internal/config"
	"shelfmark/internal/history"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Pinger reaches the document store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs pre-flight checks before the server starts
type Checker struct {
	cfg    *config.Config
	ledger *history.Store
	store  Pinger
}

// NewChecker creates a new preflight checker
func NewChecker(cfg *config.Config, ledger *history.Store, store Pinger) *Checker {
	return &Checker{cfg: cfg, ledger: ledger, store: store}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkConfiguration(),
		c.checkDataDir(),
		c.checkLedger(ctx),
		c.checkStoreConnection(ctx),
		c.checkPromptFile(),
	}

	// Print summary
	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("\n📊 Pre-flight summary: %d passed, %d failed, %d warnings\n", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkConfiguration validates the assembled configuration
func (c *Checker) checkConfiguration() CheckResult {
	if err := c.cfg.Validate(); err != nil {
		return CheckResult{
			Name:    "Configuration",
			Status:  "fail",
			Message: "Configuration is invalid",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Configuration",
		Status:  "pass",
		Message: fmt.Sprintf("Store %s, model %s", c.cfg.Store.BaseURL, c.cfg.LLM.Model),
	}
}

// checkDataDir verifies the ledger directory exists and is writable
func (c *Checker) checkDataDir() CheckResult {
	dir := c.cfg.History.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{
			Name:    "Data Directory",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot create %s", dir),
			Error:   err,
		}
	}

	probe := filepath.Join(dir, ".preflight")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Name:    "Data Directory",
			Status:  "fail",
			Message: fmt.Sprintf("%s is not writable", dir),
			Error:   err,
		}
	}
	os.Remove(probe)

	return CheckResult{
		Name:    "Data Directory",
		Status:  "pass",
		Message: fmt.Sprintf("%s is writable", dir),
	}
}

// checkLedger verifies the processing ledger answers queries
func (c *Checker) checkLedger(ctx context.Context) CheckResult {
	counts, err := c.ledger.CountByStatus(ctx)
	if err != nil {
		return CheckResult{
			Name:    "Processing Ledger",
			Status:  "fail",
			Message: "Ledger database is not readable",
			Error:   err,
		}
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return CheckResult{
		Name:    "Processing Ledger",
		Status:  "pass",
		Message: fmt.Sprintf("Ledger open, %d documents tracked", total),
	}
}

// checkStoreConnection tests whether the document store answers. An
// unreachable store is a warning, not a failure: the sidecar starts anyway
// and the queue and scanner retry on their own.
func (c *Checker) checkStoreConnection(ctx context.Context) CheckResult {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.store.Ping(pingCtx); err != nil {
		return CheckResult{
			Name:    "Document Store",
			Status:  "warning",
			Message: "Store is unreachable, processing will retry in the background",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Document Store",
		Status:  "pass",
		Message: fmt.Sprintf("Store at %s answers", c.cfg.Store.BaseURL),
	}
}

// checkPromptFile verifies the external prompt file when one is configured
func (c *Checker) checkPromptFile() CheckResult {
	path := c.cfg.Analysis.PromptFile
	if path == "" {
		return CheckResult{
			Name:    "Prompt File",
			Status:  "pass",
			Message: "Using built-in prompt",
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CheckResult{
			Name:    "Prompt File",
			Status:  "warning",
			Message: fmt.Sprintf("%s is not readable, falling back to built-in prompt", path),
			Error:   err,
		}
	}
	if strings.TrimSpace(string(data)) == "" {
		return CheckResult{
			Name:    "Prompt File",
			Status:  "warning",
			Message: fmt.Sprintf("%s is empty, falling back to built-in prompt", path),
		}
	}

	return CheckResult{
		Name:    "Prompt File",
		Status:  "pass",
		Message: fmt.Sprintf("%s loaded (%d bytes)", path, len(data)),
	}
}
