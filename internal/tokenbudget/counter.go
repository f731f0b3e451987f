package tokenbudget

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the ~4 chars/token heuristic used when no exact
	// vocabulary is available for the configured model.
	charsPerToken = 4

	// messageOverhead covers the role and separator tokens chat APIs charge
	// per message.
	messageOverhead = 4
)

// Counter measures and trims text in model tokens. Counting and truncation
// within one allocation always go through the same counter so the arithmetic
// stays consistent.
type Counter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) (string, bool)
	Name() string
}

// ForModel returns the exact tokenizer when tiktoken knows the model's
// vocabulary and it can be loaded, and the estimator otherwise. Local models
// (ollama, llama.cpp) land on the estimator.
func ForModel(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return estimateCounter{}
	}
	return &exactCounter{enc: enc}
}

// NewEstimateCounter returns the chars/4 heuristic counter.
func NewEstimateCounter() Counter {
	return estimateCounter{}
}

type estimateCounter struct{}

func (estimateCounter) Name() string { return "estimate" }

func (estimateCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / charsPerToken
}

func (estimateCounter) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", len(text) > 0
	}
	limit := maxTokens * charsPerToken
	if len(text) <= limit {
		return text, false
	}
	cutAt := limit
	for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
		cutAt--
	}
	cut := text[:cutAt]
	// Prefer ending on a word boundary, but never discard more than a fifth
	// of the truncation target for it.
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 && limit-idx <= limit/5 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \t\n"), true
}

type exactCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *exactCounter) Name() string { return "tiktoken" }

func (c *exactCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *exactCounter) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", len(text) > 0
	}
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text, false
	}
	return c.enc.Decode(ids[:maxTokens]), true
}
