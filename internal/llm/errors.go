package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCategory classifies completion failures for retry decisions
type ErrorCategory int

const (
	// ErrorCategoryUnknown - unclassified error, default to not retryable
	ErrorCategoryUnknown ErrorCategory = iota

	// ErrorCategoryTransient - temporary failures that may succeed on retry
	// Examples: timeout, rate limit (429), server error (5xx), network error
	ErrorCategoryTransient

	// ErrorCategoryPermanent - errors that will not succeed on retry
	// Examples: auth error (401/403), bad request (400)
	ErrorCategoryPermanent

	// ErrorCategoryMalformed - the model answered, but with empty content or
	// output that fails the response schema
	ErrorCategoryMalformed
)

// String returns a human-readable category name
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryTransient:
		return "transient"
	case ErrorCategoryPermanent:
		return "permanent"
	case ErrorCategoryMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ResponseError wraps a failed completion with classification for retry logic
type ResponseError struct {
	Category   ErrorCategory
	Message    string
	StatusCode int   // HTTP status code if applicable
	Retryable  bool  // Explicit retryable flag
	RetryAfter int   // Seconds to wait before retry (from Retry-After header)
	Attempts   int   // Attempts made before giving up
	Cause      error // Original error
}

func (e *ResponseError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *ResponseError) Unwrap() error {
	return e.Cause
}

// IsRetryable determines if an error should be retried
func (e *ResponseError) IsRetryable() bool {
	return e.Retryable
}

// ClassifyHTTPError classifies an HTTP response error
func ClassifyHTTPError(statusCode int, body string) *ResponseError {
	err := &ResponseError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, truncateString(body, 200)),
	}

	switch {
	// Rate limiting - always retryable
	case statusCode == http.StatusTooManyRequests:
		err.Category = ErrorCategoryTransient
		err.Retryable = true
		err.RetryAfter = 60

	// Server errors - retryable
	case statusCode >= 500 && statusCode < 600:
		err.Category = ErrorCategoryTransient
		err.Retryable = true

	// Request timeout - retryable
	case statusCode == http.StatusRequestTimeout:
		err.Category = ErrorCategoryTransient
		err.Retryable = true

	// Auth errors - NOT retryable
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err.Category = ErrorCategoryPermanent
		err.Retryable = false

	// Bad request - NOT retryable
	case statusCode == http.StatusBadRequest:
		err.Category = ErrorCategoryPermanent
		err.Retryable = false

	// Not found - NOT retryable
	case statusCode == http.StatusNotFound:
		err.Category = ErrorCategoryPermanent
		err.Retryable = false

	// Unprocessable entity - NOT retryable
	case statusCode == http.StatusUnprocessableEntity:
		err.Category = ErrorCategoryPermanent
		err.Retryable = false

	default:
		err.Category = ErrorCategoryUnknown
		err.Retryable = false
	}

	return err
}

// ClassifyError classifies a general error
func ClassifyError(err error) *ResponseError {
	if err == nil {
		return nil
	}

	// If already a ResponseError, return as-is
	if respErr, ok := err.(*ResponseError); ok {
		return respErr
	}

	errStr := err.Error()

	// Context timeout/cancellation
	if strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "context canceled") {
		return &ResponseError{
			Category:  ErrorCategoryTransient,
			Message:   "Request timed out",
			Retryable: true,
			Cause:     err,
		}
	}

	// Network errors - connection issues
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "EOF") {
		return &ResponseError{
			Category:  ErrorCategoryTransient,
			Message:   fmt.Sprintf("Network error: %s", truncateString(errStr, 100)),
			Retryable: true,
			Cause:     err,
		}
	}

	// TLS errors - usually permanent
	if strings.Contains(errStr, "certificate") ||
		strings.Contains(errStr, "tls:") ||
		strings.Contains(errStr, "x509:") {
		return &ResponseError{
			Category:  ErrorCategoryPermanent,
			Message:   "TLS/Certificate error",
			Retryable: false,
			Cause:     err,
		}
	}

	// Default: unknown, not retryable
	return &ResponseError{
		Category:  ErrorCategoryUnknown,
		Message:   truncateString(errStr, 200),
		Retryable: false,
		Cause:     err,
	}
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
