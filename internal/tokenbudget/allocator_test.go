package tokenbudget

import (
	"errors"
	"strings"
	"testing"
)

// 1184 chars -> 296 tokens on the estimator, +4 message overhead = 300.
func systemPromptOf(tokens int) string {
	return strings.Repeat("a", (tokens-messageOverhead)*charsPerToken)
}

func TestAllocateBudgetArithmetic(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	alloc, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(300),
		Content:      strings.Repeat("b", 2000), // 500 tokens, exactly the remainder
		MaxTokens:    1000,
		Reserved:     200,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if alloc.PromptTokens != 300 {
		t.Errorf("Expected prompt tokens 300, got %d", alloc.PromptTokens)
	}
	if alloc.Available != 500 {
		t.Errorf("Expected 500 tokens available for content, got %d", alloc.Available)
	}
	if alloc.Truncated {
		t.Error("Expected content that exactly fits to pass untruncated")
	}
	if alloc.ContentTokens != 500 {
		t.Errorf("Expected content tokens 500, got %d", alloc.ContentTokens)
	}
	if alloc.Content != strings.Repeat("b", 2000) {
		t.Error("Expected content unchanged")
	}
}

func TestAllocateTruncatesOversizeContent(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	alloc, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(1200),
		Content:      strings.Repeat("word ", 2400), // ~3000 tokens
		MaxTokens:    4096,
		Reserved:     1000,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if alloc.Available != 1896 {
		t.Errorf("Expected 1896 tokens available, got %d", alloc.Available)
	}
	if !alloc.Truncated {
		t.Error("Expected oversize content to be truncated")
	}
	if alloc.ContentTokens > 1896 {
		t.Errorf("Expected truncated content within 1896 tokens, got %d", alloc.ContentTokens)
	}
	if len(alloc.Content) >= len(strings.Repeat("word ", 2400)) {
		t.Error("Expected truncated content to be shorter than the input")
	}
}

func TestAllocateTruncatesAtWordBoundary(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	alloc, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(300),
		Content:      strings.Repeat("word ", 600), // 3000 chars, ~750 tokens
		MaxTokens:    1000,
		Reserved:     200,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if !alloc.Truncated {
		t.Fatal("Expected 750-token content to be truncated into a 500-token window")
	}
	if len(alloc.Content) > 2000 {
		t.Errorf("Expected at most 2000 chars after truncation, got %d", len(alloc.Content))
	}
	for _, field := range strings.Fields(alloc.Content) {
		if field != "word" {
			t.Fatalf("Expected truncation to break at a word boundary, found fragment %q", field)
		}
	}
}

func TestAllocateFailsWhenPromptAndReservationOverrun(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	_, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(900),
		Content:      "anything",
		MaxTokens:    1000,
		Reserved:     200,
	})
	if err == nil {
		t.Fatal("Expected budget error when prompt + reservation exceed the window")
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Expected ErrBudgetExceeded, got %v", err)
	}

	var berr *BudgetError
	if !errors.As(err, &berr) {
		t.Fatalf("Expected *BudgetError, got %T", err)
	}
	if berr.PromptTokens != 900 || berr.ReservedTokens != 200 {
		t.Errorf("Expected prompt 900 reserved 200 in error, got %+v", berr)
	}
}

func TestAllocateRejectsOversizeRawPayload(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	_, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(300),
		RawPayload:   strings.Repeat("x", 3200), // 800 tokens against 500 available
		MaxTokens:    1000,
		Reserved:     200,
	})
	if err == nil {
		t.Fatal("Expected budget error for oversize raw payload")
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Expected ErrBudgetExceeded, got %v", err)
	}

	var berr *BudgetError
	if !errors.As(err, &berr) {
		t.Fatalf("Expected *BudgetError, got %T", err)
	}
	if berr.RawTokens != 800 {
		t.Errorf("Expected raw tokens 800 in error, got %d", berr.RawTokens)
	}
}

func TestAllocateChargesRawPayloadBeforeContent(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	alloc, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(300),
		RawPayload:   strings.Repeat("x", 1200), // 300 tokens
		Content:      strings.Repeat("c", 4000), // 1000 tokens, only 200 left
		MaxTokens:    1000,
		Reserved:     200,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if alloc.RawTokens != 300 {
		t.Errorf("Expected raw tokens 300, got %d", alloc.RawTokens)
	}
	if !alloc.Truncated {
		t.Error("Expected content truncated after raw payload charge")
	}
	if alloc.ContentTokens > 200 {
		t.Errorf("Expected content within the 200 remaining tokens, got %d", alloc.ContentTokens)
	}
}

func TestAllocateRawOnlyMode(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	alloc, err := a.Allocate(Request{
		SystemPrompt: systemPromptOf(300),
		RawPayload:   strings.Repeat("x", 2000), // exactly the 500 available
		MaxTokens:    1000,
		Reserved:     200,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if alloc.RawTokens != 500 {
		t.Errorf("Expected raw tokens 500, got %d", alloc.RawTokens)
	}
	if alloc.Content != "" || alloc.Truncated {
		t.Error("Expected no content in raw-only mode")
	}
}

func TestAllocateTruncationIdempotent(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())
	req := Request{
		SystemPrompt: systemPromptOf(300),
		Content:      strings.Repeat("word ", 1000),
		MaxTokens:    1000,
		Reserved:     200,
	}

	first, err := a.Allocate(req)
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	if !first.Truncated {
		t.Fatal("Expected first pass to truncate")
	}

	req.Content = first.Content
	second, err := a.Allocate(req)
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}
	if second.Truncated {
		t.Error("Expected already-truncated content to pass through unchanged")
	}
	if second.Content != first.Content {
		t.Error("Expected identical content on the second pass")
	}
}

func TestAllocateCountsFragmentsWithOverhead(t *testing.T) {
	a := NewAllocator(NewEstimateCounter())

	alloc, err := a.Allocate(Request{
		SystemPrompt: strings.Repeat("s", 40), // 10 tokens
		Fragments: []string{
			strings.Repeat("f", 20), // 5 tokens
			strings.Repeat("g", 20), // 5 tokens
		},
		MaxTokens: 1000,
		Reserved:  100,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	// 10 + 5 + 5 content tokens, plus 4 overhead for each of the three messages.
	if alloc.PromptTokens != 32 {
		t.Errorf("Expected prompt tokens 32, got %d", alloc.PromptTokens)
	}
	if alloc.Available != 1000-100-32 {
		t.Errorf("Expected available %d, got %d", 1000-100-32, alloc.Available)
	}
}
