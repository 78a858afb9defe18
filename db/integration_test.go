package db

import (
	"context"
	"testing"
	"time"
)

// TestGenerationLifecycle walks one generation through the full persistence
// path: async insert, terminal update, per-requester query, retention sweep.
func TestGenerationLifecycle(t *testing.T) {
	repo, db, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx := context.Background()

	writer := NewHistoryWriter(db, nil)
	writer.Start()
	defer writer.StopWithTimeout(2 * time.Second)
	repo = NewRepository(db, writer)

	// Submission: history row queued without blocking
	if _, err := repo.InsertGeneration(ctx, GenerationRecord{
		CorrelationID: "corr-e2e",
		RequesterID:   "requester-1",
		Email:         "a@b.com",
		ProductType:   "statue",
		Material:      "bronze",
		TaskID:        "task-e2e",
		MultiView:     true,
		Status:        GenerationProcessing,
	}); err != nil {
		t.Fatalf("InsertGeneration() error = %v", err)
	}

	waitForInsert(t, repo, "task-e2e")

	// Completion: terminal state recorded synchronously
	if err := repo.UpdateGenerationStatus(ctx, "task-e2e", GenerationSucceeded, "", "9001"); err != nil {
		t.Fatalf("UpdateGenerationStatus() error = %v", err)
	}

	records, err := repo.QueryGenerationsByRequester(ctx, "requester-1", 10)
	if err != nil {
		t.Fatalf("QueryGenerationsByRequester() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Status != GenerationSucceeded || rec.VendorModelID != "9001" || !rec.MultiView {
		t.Errorf("terminal record wrong: %+v", rec)
	}

	// Retention: a fresh record survives the sweep
	result, err := db.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.TotalDeleted != 0 {
		t.Errorf("cleanup deleted fresh rows: %d", result.TotalDeleted)
	}

	count, err := repo.CountGenerations(ctx)
	if err != nil {
		t.Fatalf("CountGenerations() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

// waitForInsert polls until an async insert is visible.
func waitForInsert(t *testing.T, repo *Repository, taskID string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := repo.GetGenerationByTaskID(context.Background(), taskID); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("async insert for %s never landed", taskID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
