package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shelfmark/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("Open iteration %d: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close iteration %d: %v", i, err)
		}
	}
}

func TestGetReturnsNilForUnseenDocument(t *testing.T) {
	store := openTestStore(t)

	rec, err := store.Get(context.Background(), 123)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record for unseen document, got %+v", rec)
	}
}

func TestProcessingLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.MarkProcessing(ctx, 7, "Scan_001.pdf"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	rec, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil || rec.Status != models.StatusProcessing {
		t.Fatalf("Expected processing record, got %+v", rec)
	}
	if rec.Title != "Scan_001.pdf" {
		t.Errorf("Expected title persisted, got %q", rec.Title)
	}

	usage := models.TokenUsage{PromptTokens: 900, CompletionTokens: 120, TotalTokens: 1020}
	if err := store.MarkComplete(ctx, 7, "2024 Invoice ACME", usage); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	rec, err = store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != models.StatusComplete {
		t.Errorf("Expected complete status, got %s", rec.Status)
	}
	if rec.Usage.TotalTokens != 1020 {
		t.Errorf("Expected usage persisted, got %+v", rec.Usage)
	}
	if rec.Title != "2024 Invoice ACME" {
		t.Errorf("Expected updated title, got %q", rec.Title)
	}
}

func TestDeleteClearsRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.MarkProcessing(ctx, 9, "dangling"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.Delete(ctx, 9); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	rec, err := store.Get(ctx, 9)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected record gone after delete, got %+v", rec)
	}

	// Deleting an absent record is not an error.
	if err := store.Delete(ctx, 9); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		if err := store.MarkProcessing(ctx, id, "doc"); err != nil {
			t.Fatalf("MarkProcessing failed: %v", err)
		}
	}
	if err := store.MarkComplete(ctx, 2, "done", models.TokenUsage{}); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.StatusProcessing] != 2 {
		t.Errorf("Expected 2 processing, got %d", counts[models.StatusProcessing])
	}
	if counts[models.StatusComplete] != 1 {
		t.Errorf("Expected 1 complete, got %d", counts[models.StatusComplete])
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	previousCorrespondent := 4
	older := models.HistoryEntry{
		DocumentID:    7,
		PreviousTitle: "Scan_001.pdf",
		PreviousTags:  []int{1},
		NewTitle:      "2024 Invoice ACME",
		NewTags:       []int{1, 5},
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	newer := models.HistoryEntry{
		DocumentID:            7,
		PreviousTitle:         "2024 Invoice ACME",
		PreviousCorrespondent: &previousCorrespondent,
		NewTitle:              "2024 Invoice ACME Corp",
		NewTags:               []int{1, 5, 9},
		CreatedAt:             time.Now().UTC(),
	}
	other := models.HistoryEntry{DocumentID: 8, NewTitle: "unrelated", CreatedAt: time.Now().UTC()}

	for _, entry := range []models.HistoryEntry{older, newer, other} {
		id, err := store.AddHistory(ctx, entry)
		if err != nil {
			t.Fatalf("AddHistory failed: %v", err)
		}
		if id == "" {
			t.Error("Expected generated entry id")
		}
	}

	entries, err := store.ListHistory(ctx, 7, 0)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries for document 7, got %d", len(entries))
	}
	if entries[0].NewTitle != "2024 Invoice ACME Corp" {
		t.Errorf("Expected newest entry first, got %q", entries[0].NewTitle)
	}
	if entries[0].PreviousCorrespondent == nil || *entries[0].PreviousCorrespondent != 4 {
		t.Errorf("Expected previous correspondent 4, got %v", entries[0].PreviousCorrespondent)
	}
	if entries[1].NewCorrespondent != nil {
		t.Errorf("Expected nil correspondent to survive the round trip, got %v", entries[1].NewCorrespondent)
	}
	if len(entries[1].NewTags) != 2 || entries[1].NewTags[1] != 5 {
		t.Errorf("Expected tags [1 5], got %v", entries[1].NewTags)
	}

	all, err := store.ListHistory(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 entries across documents, got %d", len(all))
	}
}
