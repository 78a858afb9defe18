package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testSchemaUp mirrors the production schema from db/migrations.
const testSchemaUp = `
CREATE TABLE generation_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL,
    requester_id    TEXT NOT NULL,
    email           TEXT,
    product_type    TEXT,
    material        TEXT,
    task_id         TEXT NOT NULL,
    multi_view      INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'processing',
    error_message   TEXT,
    vendor_model_id TEXT,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at    DATETIME
);

CREATE INDEX idx_generation_history_task_id ON generation_history(task_id);
CREATE INDEX idx_generation_history_requester ON generation_history(requester_id, created_at);
CREATE INDEX idx_generation_history_created_at ON generation_history(created_at);

CREATE TABLE user_profiles (
    uid        TEXT PRIMARY KEY,
    email      TEXT,
    name       TEXT,
    pet_name   TEXT,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const testSchemaDown = `
DROP TABLE IF EXISTS user_profiles;
DROP INDEX IF EXISTS idx_generation_history_created_at;
DROP INDEX IF EXISTS idx_generation_history_requester;
DROP INDEX IF EXISTS idx_generation_history_task_id;
DROP TABLE IF EXISTS generation_history;
`

// setupTestMigrations creates a temporary migrations directory with test
// migration files. Returns the temp dir (for the db file) and the migrations
// path in file:// form.
func setupTestMigrations(t *testing.T) (string, string) {
	t.Helper()

	tmpDir := t.TempDir()
	migrationsDir := filepath.Join(tmpDir, "migrations")

	if err := os.MkdirAll(migrationsDir, 0755); err != nil {
		t.Fatalf("failed to create migrations directory: %v", err)
	}

	upPath := filepath.Join(migrationsDir, "000001_initial_schema.up.sql")
	if err := os.WriteFile(upPath, []byte(testSchemaUp), 0644); err != nil {
		t.Fatalf("failed to write up migration: %v", err)
	}

	downPath := filepath.Join(migrationsDir, "000001_initial_schema.down.sql")
	if err := os.WriteFile(downPath, []byte(testSchemaDown), 0644); err != nil {
		t.Fatalf("failed to write down migration: %v", err)
	}

	return tmpDir, "file://" + migrationsDir
}

// setupTestRepository creates a migrated test database and returns a Repository.
func setupTestRepository(t *testing.T) (*Repository, *Database, func()) {
	t.Helper()

	tmpDir, migrationsPath := setupTestMigrations(t)
	dbPath := filepath.Join(tmpDir, "test.db")

	config := DatabaseConfig{
		Path:           dbPath,
		MigrationsPath: migrationsPath,
	}

	db, err := NewDatabaseWithConfig(config)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := NewRepository(db, nil)

	cleanup := func() {
		db.Close()
	}

	return repo, db, cleanup
}

// TestInsertGeneration tests inserting and querying generation history.
func TestInsertGeneration(t *testing.T) {
	repo, _, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("insert and query single record", func(t *testing.T) {
		record := GenerationRecord{
			CorrelationID: "corr-001",
			RequesterID:   "203.0.113.7",
			Email:         "a@b.com",
			ProductType:   "statue",
			Material:      "bronze",
			TaskID:        "meshy-task-001",
			MultiView:     true,
			Status:        GenerationProcessing,
		}

		id, err := repo.InsertGeneration(ctx, record)
		if err != nil {
			t.Fatalf("InsertGeneration() error = %v", err)
		}
		if id <= 0 {
			t.Errorf("InsertGeneration() returned invalid id = %d", id)
		}

		got, err := repo.GetGenerationByTaskID(ctx, "meshy-task-001")
		if err != nil {
			t.Fatalf("GetGenerationByTaskID() error = %v", err)
		}
		if got.CorrelationID != record.CorrelationID {
			t.Errorf("CorrelationID = %v, want %v", got.CorrelationID, record.CorrelationID)
		}
		if got.RequesterID != record.RequesterID {
			t.Errorf("RequesterID = %v, want %v", got.RequesterID, record.RequesterID)
		}
		if got.ProductType != record.ProductType {
			t.Errorf("ProductType = %v, want %v", got.ProductType, record.ProductType)
		}
		if !got.MultiView {
			t.Error("MultiView flag was not persisted")
		}
		if got.Status != GenerationProcessing {
			t.Errorf("Status = %v, want %v", got.Status, GenerationProcessing)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt was not populated")
		}
	})

	t.Run("missing task returns ErrNotFound", func(t *testing.T) {
		_, err := repo.GetGenerationByTaskID(ctx, "no-such-task")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestUpdateGenerationStatus tests marking a generation terminal.
func TestUpdateGenerationStatus(t *testing.T) {
	repo, _, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx := context.Background()

	_, err := repo.InsertGeneration(ctx, GenerationRecord{
		CorrelationID: "corr-002",
		RequesterID:   "requester-1",
		TaskID:        "meshy-task-002",
		Status:        GenerationProcessing,
	})
	if err != nil {
		t.Fatalf("InsertGeneration() error = %v", err)
	}

	t.Run("success with vendor model", func(t *testing.T) {
		err := repo.UpdateGenerationStatus(ctx, "meshy-task-002", GenerationSucceeded, "", "9001")
		if err != nil {
			t.Fatalf("UpdateGenerationStatus() error = %v", err)
		}

		got, err := repo.GetGenerationByTaskID(ctx, "meshy-task-002")
		if err != nil {
			t.Fatalf("GetGenerationByTaskID() error = %v", err)
		}
		if got.Status != GenerationSucceeded {
			t.Errorf("Status = %v, want %v", got.Status, GenerationSucceeded)
		}
		if got.VendorModelID != "9001" {
			t.Errorf("VendorModelID = %v, want 9001", got.VendorModelID)
		}
		if got.CompletedAt.IsZero() {
			t.Error("CompletedAt was not populated")
		}
	})

	t.Run("unknown task returns ErrNotFound", func(t *testing.T) {
		err := repo.UpdateGenerationStatus(ctx, "no-such-task", GenerationFailed, "boom", "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestQueryGenerationsByRequester tests per-requester history queries.
func TestQueryGenerationsByRequester(t *testing.T) {
	repo, _, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.InsertGeneration(ctx, GenerationRecord{
			CorrelationID: "corr-a",
			RequesterID:   "requester-a",
			TaskID:        "task-a",
			Status:        GenerationProcessing,
		})
		if err != nil {
			t.Fatalf("InsertGeneration() error = %v", err)
		}
	}
	_, err := repo.InsertGeneration(ctx, GenerationRecord{
		CorrelationID: "corr-b",
		RequesterID:   "requester-b",
		TaskID:        "task-b",
		Status:        GenerationProcessing,
	})
	if err != nil {
		t.Fatalf("InsertGeneration() error = %v", err)
	}

	records, err := repo.QueryGenerationsByRequester(ctx, "requester-a", 10)
	if err != nil {
		t.Fatalf("QueryGenerationsByRequester() error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}
	for _, rec := range records {
		if rec.RequesterID != "requester-a" {
			t.Errorf("record leaked from requester %q", rec.RequesterID)
		}
	}

	t.Run("limit is honored", func(t *testing.T) {
		records, err := repo.QueryGenerationsByRequester(ctx, "requester-a", 2)
		if err != nil {
			t.Fatalf("QueryGenerationsByRequester() error = %v", err)
		}
		if len(records) != 2 {
			t.Errorf("got %d records, want 2", len(records))
		}
	})

	t.Run("count covers all requesters", func(t *testing.T) {
		count, err := repo.CountGenerations(ctx)
		if err != nil {
			t.Fatalf("CountGenerations() error = %v", err)
		}
		if count != 4 {
			t.Errorf("count = %d, want 4", count)
		}
	})
}

// TestUserProfiles tests profile upsert and retrieval.
func TestUserProfiles(t *testing.T) {
	repo, _, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		profile := UserProfile{
			UID:     "uid-1",
			Email:   "a@b.com",
			Name:    "Alex",
			PetName: "Biscuit",
		}
		if err := repo.SaveProfile(ctx, profile); err != nil {
			t.Fatalf("SaveProfile() error = %v", err)
		}

		got, err := repo.GetProfile(ctx, "uid-1")
		if err != nil {
			t.Fatalf("GetProfile() error = %v", err)
		}
		if got.Email != profile.Email || got.Name != profile.Name || got.PetName != profile.PetName {
			t.Errorf("GetProfile() = %+v, want %+v", got, profile)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("UpdatedAt was not populated")
		}
	})

	t.Run("save overwrites existing profile", func(t *testing.T) {
		if err := repo.SaveProfile(ctx, UserProfile{UID: "uid-1", Email: "new@b.com", PetName: "Waffle"}); err != nil {
			t.Fatalf("SaveProfile() error = %v", err)
		}

		got, err := repo.GetProfile(ctx, "uid-1")
		if err != nil {
			t.Fatalf("GetProfile() error = %v", err)
		}
		if got.Email != "new@b.com" || got.PetName != "Waffle" {
			t.Errorf("profile not overwritten: %+v", got)
		}
	})

	t.Run("missing uid", func(t *testing.T) {
		if err := repo.SaveProfile(ctx, UserProfile{Email: "a@b.com"}); err == nil {
			t.Error("expected error for empty uid")
		}
	})

	t.Run("missing profile returns ErrNotFound", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "uid-404")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestRepositoryAsyncInsert tests that history inserts flow through the
// history writer and land in the database.
func TestRepositoryAsyncInsert(t *testing.T) {
	_, db, cleanup := setupTestRepository(t)
	defer cleanup()

	ctx := context.Background()

	writer := NewHistoryWriter(db, nil)
	writer.Start()
	defer writer.StopWithTimeout(2 * time.Second)

	asyncRepo := NewRepository(db, writer)

	id, err := asyncRepo.InsertGeneration(ctx, GenerationRecord{
		CorrelationID: "corr-async",
		RequesterID:   "requester-1",
		TaskID:        "task-async",
		Status:        GenerationProcessing,
	})
	if err != nil {
		t.Fatalf("InsertGeneration() error = %v", err)
	}
	if id != 0 {
		t.Errorf("async insert returned id %d, want 0", id)
	}

	// Wait for the background writer to process the insert.
	deadline := time.After(2 * time.Second)
	for {
		rec, err := asyncRepo.GetGenerationByTaskID(ctx, "task-async")
		if err == nil && rec.CorrelationID == "corr-async" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("async insert never landed in the database")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
