package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"shelfmark/internal/models"
)

// Store persists processing state and revision history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL mode enabled.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS processing_records (
	document_id INTEGER PRIMARY KEY,
	title TEXT,
	status TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history_entries (
	id TEXT PRIMARY KEY,
	document_id INTEGER NOT NULL,
	previous_title TEXT,
	previous_tags TEXT,
	previous_correspondent INTEGER,
	new_title TEXT,
	new_tags TEXT,
	new_correspondent INTEGER,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_document ON history_entries(document_id);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// Get returns the processing record for a document, or nil when the
// document has never been seen.
func (s *Store) Get(ctx context.Context, documentID int) (*models.ProcessingRecord, error) {
	const stmt = `
SELECT document_id, title, status, prompt_tokens, completion_tokens, total_tokens, created_at, updated_at
FROM processing_records WHERE document_id = ?`

	var rec models.ProcessingRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, stmt, documentID).Scan(
		&rec.DocumentID, &rec.Title, &rec.Status,
		&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load processing record %d: %w", documentID, err)
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// MarkProcessing records that a document has entered the pipeline. Calling
// it again for the same document resets the row to processing.
func (s *Store) MarkProcessing(ctx context.Context, documentID int, title string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	const stmt = `
INSERT INTO processing_records (document_id, title, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(document_id) DO UPDATE SET
	title=excluded.title,
	status=excluded.status,
	updated_at=excluded.updated_at`

	_, err := s.db.ExecContext(ctx, stmt, documentID, title, models.StatusProcessing, now, now)
	if err != nil {
		return fmt.Errorf("mark document %d processing: %w", documentID, err)
	}
	return nil
}

// MarkComplete finalizes a document's record with the tokens spent on it.
func (s *Store) MarkComplete(ctx context.Context, documentID int, title string, usage models.TokenUsage) error {
	now := time.Now().UTC().Format(time.RFC3339)
	const stmt = `
INSERT INTO processing_records (document_id, title, status, prompt_tokens, completion_tokens, total_tokens, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(document_id) DO UPDATE SET
	title=excluded.title,
	status=excluded.status,
	prompt_tokens=excluded.prompt_tokens,
	completion_tokens=excluded.completion_tokens,
	total_tokens=excluded.total_tokens,
	updated_at=excluded.updated_at`

	_, err := s.db.ExecContext(ctx, stmt, documentID, title, models.StatusComplete,
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, now, now)
	if err != nil {
		return fmt.Errorf("mark document %d complete: %w", documentID, err)
	}
	return nil
}

// Delete removes a document's processing record. Aborted runs call this so
// the document is picked up again on the next pass.
func (s *Store) Delete(ctx context.Context, documentID int) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM processing_records WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("delete processing record %d: %w", documentID, err)
	}
	return nil
}

// CountByStatus returns how many records sit in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.ProcessingStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM processing_records GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ProcessingStatus]int)
	for rows.Next() {
		var status models.ProcessingStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// AddHistory appends a revision entry. A missing ID gets a fresh UUID.
func (s *Store) AddHistory(ctx context.Context, entry models.HistoryEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	previousTags, err := json.Marshal(entry.PreviousTags)
	if err != nil {
		return "", err
	}
	newTags, err := json.Marshal(entry.NewTags)
	if err != nil {
		return "", err
	}

	const stmt = `
INSERT INTO history_entries (id, document_id, previous_title, previous_tags, previous_correspondent, new_title, new_tags, new_correspondent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		entry.ID, entry.DocumentID,
		entry.PreviousTitle, string(previousTags), nullableInt(entry.PreviousCorrespondent),
		entry.NewTitle, string(newTags), nullableInt(entry.NewCorrespondent),
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("add history entry for document %d: %w", entry.DocumentID, err)
	}
	return entry.ID, nil
}

// ListHistory returns revision entries, newest first. A documentID of zero
// means all documents; a limit of zero applies the default of 100.
func (s *Store) ListHistory(ctx context.Context, documentID, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
SELECT id, document_id, previous_title, previous_tags, previous_correspondent, new_title, new_tags, new_correspondent, created_at
FROM history_entries`
	args := []any{}
	if documentID > 0 {
		query += " WHERE document_id = ?"
		args = append(args, documentID)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var previousTags, newTags, createdAt string
		var previousCorrespondent, newCorrespondent sql.NullInt64

		err := rows.Scan(&entry.ID, &entry.DocumentID,
			&entry.PreviousTitle, &previousTags, &previousCorrespondent,
			&entry.NewTitle, &newTags, &newCorrespondent, &createdAt)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(previousTags), &entry.PreviousTags); err != nil {
			return nil, fmt.Errorf("decode previous tags for %s: %w", entry.ID, err)
		}
		if err := json.Unmarshal([]byte(newTags), &entry.NewTags); err != nil {
			return nil, fmt.Errorf("decode new tags for %s: %w", entry.ID, err)
		}
		entry.PreviousCorrespondent = intPointer(previousCorrespondent)
		entry.NewCorrespondent = intPointer(newCorrespondent)
		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPointer(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
