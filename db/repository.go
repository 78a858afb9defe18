package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("db: record not found")

// GenerationRecord represents a record in the generation_history table.
// One row per 3D reconstruction attempt, updated as the task progresses
// through polling, completion, and vendor upload.
type GenerationRecord struct {
	ID             int64     // Auto-incremented primary key
	CorrelationID  string    // Request-scoped id linking log lines to this row
	RequesterID    string    // Requester the admission gate tracked
	Email          string    // Email registered at submission time
	ProductType    string    // "statue" or "keyring"
	Material       string    // Target material finish
	TaskID         string    // Reconstruction task id at the 3D provider
	MultiView      bool      // Whether the multi-image endpoint was used
	Status         string    // "processing", "succeeded", "failed"
	ErrorMessage   string    // Vendor failure message if status is "failed"
	VendorModelID  string    // Print-vendor model id once uploaded
	CreatedAt      time.Time // Timestamp when record was created
	CompletedAt    time.Time // Timestamp when the task reached a terminal state
}

// Generation statuses stored in generation_history.
const (
	GenerationProcessing = "processing"
	GenerationSucceeded  = "succeeded"
	GenerationFailed     = "failed"
)

// UserProfile represents a record in the user_profiles table.
type UserProfile struct {
	UID       string    // Caller-supplied profile identifier
	Email     string    // Contact email
	Name      string    // Display name
	PetName   string    // Name of the pet being modeled
	UpdatedAt time.Time // Timestamp of the last save
}

// Repository provides CRUD operations for generation history and user
// profiles. Reads are always synchronous; history inserts go through the
// history writer when one is configured so the request path never blocks
// on the database.
type Repository struct {
	db     *Database
	writer *HistoryWriter
}

// NewRepository creates a new Repository instance.
// The writer parameter is optional; if nil, all writes are synchronous.
func NewRepository(db *Database, writer *HistoryWriter) *Repository {
	return &Repository{
		db:     db,
		writer: writer,
	}
}

// InsertGeneration inserts a generation history record.
// If a history writer is configured, the write is queued asynchronously.
// Returns the inserted record ID (0 for queued writes).
func (r *Repository) InsertGeneration(ctx context.Context, record GenerationRecord) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	query := `
		INSERT INTO generation_history (
			correlation_id, requester_id, email, product_type, material,
			task_id, multi_view, status, error_message, vendor_model_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args := []interface{}{
		record.CorrelationID,
		record.RequesterID,
		record.Email,
		record.ProductType,
		record.Material,
		record.TaskID,
		record.MultiView,
		record.Status,
		record.ErrorMessage,
		record.VendorModelID,
	}

	if r.writer != nil && r.writer.IsStarted() {
		if r.writer.enqueue(pendingInsert{query: query, args: args}) {
			return 0, nil
		}
		// Fall through to a sync write when the queue is full
	}

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generation history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// UpdateGenerationStatus marks a generation terminal by task id, recording
// the final status, any vendor error, and the print-vendor model id.
// Always synchronous: the caller wants the terminal state durable before it
// reports completion.
func (r *Repository) UpdateGenerationStatus(ctx context.Context, taskID, status, errorMessage, vendorModelID string) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	query := `
		UPDATE generation_history
		SET status = ?, error_message = ?, vendor_model_id = ?,
		    completed_at = CURRENT_TIMESTAMP
		WHERE task_id = ?`

	result, err := r.db.Exec(query, status, errorMessage, vendorModelID, taskID)
	if err != nil {
		return fmt.Errorf("failed to update generation history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

const generationColumns = `
	id, correlation_id, requester_id, COALESCE(email, ''),
	COALESCE(product_type, ''), COALESCE(material, ''), task_id,
	multi_view, status, COALESCE(error_message, ''),
	COALESCE(vendor_model_id, ''), created_at, COALESCE(completed_at, '')`

// GetGenerationByTaskID retrieves the generation record for a task.
// Returns ErrNotFound when no record exists.
func (r *Repository) GetGenerationByTaskID(ctx context.Context, taskID string) (*GenerationRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := `SELECT ` + generationColumns + `
		FROM generation_history
		WHERE task_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	rec, err := scanGeneration(r.db.QueryRow(query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	return rec, nil
}

// QueryGenerationsByRequester retrieves a requester's recent generations,
// newest first.
func (r *Repository) QueryGenerationsByRequester(ctx context.Context, requesterID string, limit int) ([]GenerationRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	if limit <= 0 {
		limit = 10 // Default limit
	}

	query := `SELECT ` + generationColumns + `
		FROM generation_history
		WHERE requester_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := r.db.Query(query, requesterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		rec, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation history row: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation history rows: %w", err)
	}

	return records, nil
}

// QueryRecentGenerations retrieves the most recent generations across all
// requesters, newest first.
func (r *Repository) QueryRecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + generationColumns + `
		FROM generation_history
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		rec, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation history row: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation history rows: %w", err)
	}

	return records, nil
}

// CountGenerations returns the total number of generation history rows.
func (r *Repository) CountGenerations(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	var count int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM generation_history").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count generation history: %w", err)
	}
	return count, nil
}

// SaveProfile inserts or replaces a user profile keyed by uid.
func (r *Repository) SaveProfile(ctx context.Context, profile UserProfile) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if profile.UID == "" {
		return fmt.Errorf("profile uid is required")
	}

	query := `
		INSERT INTO user_profiles (uid, email, name, pet_name, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(uid) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			pet_name = excluded.pet_name,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := r.db.Exec(query, profile.UID, profile.Email, profile.Name, profile.PetName); err != nil {
		return fmt.Errorf("failed to save user profile: %w", err)
	}

	return nil
}

// GetProfile retrieves a user profile by uid.
// Returns ErrNotFound when no profile exists.
func (r *Repository) GetProfile(ctx context.Context, uid string) (*UserProfile, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := `
		SELECT uid, COALESCE(email, ''), COALESCE(name, ''),
		       COALESCE(pet_name, ''), updated_at
		FROM user_profiles
		WHERE uid = ?`

	var profile UserProfile
	var updatedAt string
	err := r.db.QueryRow(query, uid).Scan(
		&profile.UID,
		&profile.Email,
		&profile.Name,
		&profile.PetName,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user profile: %w", err)
	}

	profile.UpdatedAt = parseSQLiteTime(updatedAt)
	return &profile, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGeneration(row rowScanner) (*GenerationRecord, error) {
	var rec GenerationRecord
	var createdAt, completedAt string

	err := row.Scan(
		&rec.ID,
		&rec.CorrelationID,
		&rec.RequesterID,
		&rec.Email,
		&rec.ProductType,
		&rec.Material,
		&rec.TaskID,
		&rec.MultiView,
		&rec.Status,
		&rec.ErrorMessage,
		&rec.VendorModelID,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = parseSQLiteTime(createdAt)
	rec.CompletedAt = parseSQLiteTime(completedAt)
	return &rec, nil
}

// parseSQLiteTime parses SQLite's default datetime format; a zero time is
// returned for empty or unparseable values.
func parseSQLiteTime(s string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}
