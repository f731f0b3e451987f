package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithDocument returns a logger with document context fields attached.
// Use this for all logging within a single pipeline run.
func WithDocument(documentID int, source string) *slog.Logger {
	return slog.With(
		"document_id", documentID,
		"source", source,
	)
}

// WithScan returns a logger scoped to one scan pass.
func WithScan(logger *slog.Logger, scanID string) *slog.Logger {
	return logger.With("scan_id", scanID)
}
