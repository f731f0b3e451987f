package tokenbudget

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded marks requests whose fixed parts alone overrun the
// context window. Callers check it with errors.Is.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// BudgetError carries the arithmetic behind a rejected allocation.
type BudgetError struct {
	MaxTokens      int
	PromptTokens   int
	ReservedTokens int
	RawTokens      int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("token budget exceeded: window %d, prompt %d, reserved %d, raw payload %d",
		e.MaxTokens, e.PromptTokens, e.ReservedTokens, e.RawTokens)
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// Request describes one planned model call before any network activity.
type Request struct {
	SystemPrompt string
	Fragments    []string // auxiliary prompt pieces: catalog names, field docs, hints
	Content      string   // extracted document text, "" when the mode skips it
	RawPayload   string   // base64 original or rendered page, "" when unused
	MaxTokens    int      // model context window
	Reserved     int      // tokens held back for the response
}

// Allocation is the outcome of the budget arithmetic, with content already
// trimmed to fit.
type Allocation struct {
	PromptTokens  int
	RawTokens     int
	ContentTokens int
	Available     int    // window minus prompt minus reservation
	Content       string // possibly truncated
	Truncated     bool
	Strategy      string
}

// Allocator plans token spending for model calls.
type Allocator struct {
	counter Counter
}

// NewAllocator builds an allocator around the given counter.
func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

// Allocate charges the prompt and the response reservation first, then the
// raw payload, and gives whatever remains to extracted content, truncating it
// to fit. The prompt and reservation are never trimmed; when they alone
// overrun the window, or the raw payload does not fit, the request is
// rejected here, before anything goes on the wire.
func (a *Allocator) Allocate(req Request) (*Allocation, error) {
	prompt := a.counter.Count(req.SystemPrompt)
	for _, f := range req.Fragments {
		prompt += a.counter.Count(f)
	}
	prompt += messageOverhead * (1 + len(req.Fragments))

	available := req.MaxTokens - prompt - req.Reserved
	if available <= 0 {
		return nil, &BudgetError{
			MaxTokens:      req.MaxTokens,
			PromptTokens:   prompt,
			ReservedTokens: req.Reserved,
		}
	}

	alloc := &Allocation{
		PromptTokens: prompt,
		Available:    available,
		Strategy:     a.counter.Name(),
	}

	if req.RawPayload != "" {
		alloc.RawTokens = a.counter.Count(req.RawPayload)
		if alloc.RawTokens > available {
			return nil, &BudgetError{
				MaxTokens:      req.MaxTokens,
				PromptTokens:   prompt,
				ReservedTokens: req.Reserved,
				RawTokens:      alloc.RawTokens,
			}
		}
		available -= alloc.RawTokens
	}

	if req.Content != "" {
		if available <= 0 {
			return nil, &BudgetError{
				MaxTokens:      req.MaxTokens,
				PromptTokens:   prompt,
				ReservedTokens: req.Reserved,
				RawTokens:      alloc.RawTokens,
			}
		}
		content, truncated := a.counter.Truncate(req.Content, available)
		alloc.Content = content
		alloc.Truncated = truncated
		alloc.ContentTokens = a.counter.Count(content)
	}

	return alloc, nil
}
