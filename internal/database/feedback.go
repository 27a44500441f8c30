package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfit/internal/models"

	"github.com/google/uuid"
)

type FeedbackStore struct {
	db *DB
}

func (db *DB) Feedback() *FeedbackStore {
	return &FeedbackStore{db: db}
}

// SaveFeedback stores a feedback report. An empty id is filled with a new UUID.
func (db *DB) SaveFeedback(ctx context.Context, f *models.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	if err := f.Validate(); err != nil {
		return err
	}
	device := f.DeviceInfo
	if device == nil {
		device = map[string]string{}
	}
	deviceInfo, err := encodeJSONColumn(device)
	if err != nil {
		return fmt.Errorf("failed to encode device info: %w", err)
	}

	query := `INSERT INTO feedback (id, category, severity, context, exercise_id, workout_id, description, device_info, created_at, updated_at, synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                category = excluded.category,
                severity = excluded.severity,
                context = excluded.context,
                exercise_id = excluded.exercise_id,
                workout_id = excluded.workout_id,
                description = excluded.description,
                device_info = excluded.device_info,
                updated_at = excluded.updated_at,
                synced_at = excluded.synced_at`
	_, err = db.ExecContext(ctx, query,
		f.ID,
		f.Category,
		f.Severity,
		f.Context,
		f.ExerciseID,
		f.WorkoutID,
		f.Description,
		deviceInfo,
		f.CreatedAt,
		f.UpdatedAt,
		f.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	if f.SyncedAt == nil {
		return db.releaseDeadLetters(ctx, models.EntityFeedback, f.ID)
	}
	return nil
}

func (db *DB) GetFeedback(ctx context.Context, id string) (*models.Feedback, error) {
	f, err := scanFeedback(db.QueryRowContext(ctx, feedbackSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return f, nil
}

func (s *FeedbackStore) FetchUnsynced(ctx context.Context, limit int) ([]*models.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, feedbackSelect+` WHERE synced_at IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsynced feedback: %w", err)
	}
	defer rows.Close()

	var reports []*models.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		reports = append(reports, f)
	}
	return reports, rows.Err()
}

func (s *FeedbackStore) CountUnsynced(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE synced_at IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsynced feedback: %w", err)
	}
	return count, nil
}

func (s *FeedbackStore) Get(ctx context.Context, id string) (*models.Feedback, error) {
	return s.db.GetFeedback(ctx, id)
}

func (s *FeedbackStore) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	return s.db.markSynced(ctx, "feedback", id, syncedAt)
}

const feedbackSelect = `SELECT id, category, severity, context, exercise_id, workout_id, description, device_info, created_at, updated_at, synced_at FROM feedback`

func scanFeedback(row rowScanner) (*models.Feedback, error) {
	var (
		f          models.Feedback
		deviceInfo string
		syncedAt   sql.NullTime
	)
	err := row.Scan(&f.ID, &f.Category, &f.Severity, &f.Context, &f.ExerciseID, &f.WorkoutID,
		&f.Description, &deviceInfo, &f.CreatedAt, &f.UpdatedAt, &syncedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(deviceInfo, &f.DeviceInfo); err != nil {
		return nil, fmt.Errorf("feedback %s device_info: %w", f.ID, err)
	}
	f.SyncedAt = timeFromNull(syncedAt)
	return &f, nil
}
