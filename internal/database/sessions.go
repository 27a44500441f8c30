package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfit/internal/models"
)

type SessionStore struct {
	db *DB
}

func (db *DB) Sessions() *SessionStore {
	return &SessionStore{db: db}
}

func (db *DB) SaveSession(ctx context.Context, s *models.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO sessions (id, plan_id, workout_data, started_at, completed_at, duration_minutes, synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                plan_id = excluded.plan_id,
                workout_data = excluded.workout_data,
                started_at = excluded.started_at,
                completed_at = excluded.completed_at,
                duration_minutes = excluded.duration_minutes,
                synced_at = excluded.synced_at`
	_, err := db.ExecContext(ctx, query,
		s.ID,
		s.PlanID,
		nullableRaw(s.WorkoutData),
		s.StartedAt,
		s.CompletedAt,
		s.DurationMinutes,
		s.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if s.SyncedAt == nil {
		return db.releaseDeadLetters(ctx, models.EntitySession, s.ID)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// FetchUnsynced returns the oldest sessions not yet acknowledged by the remote.
func (s *SessionStore) FetchUnsynced(ctx context.Context, limit int) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelect+` WHERE synced_at IS NULL ORDER BY started_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsynced sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.db.GetSession(ctx, id)
}

func (s *SessionStore) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	return s.db.markSynced(ctx, "sessions", id, syncedAt)
}

const sessionSelect = `SELECT id, plan_id, workout_data, started_at, completed_at, duration_minutes, synced_at FROM sessions`

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s           models.Session
		workoutData sql.NullString
		completedAt sql.NullTime
		syncedAt    sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.PlanID, &workoutData, &s.StartedAt, &completedAt, &s.DurationMinutes, &syncedAt); err != nil {
		return nil, err
	}
	s.WorkoutData = rawFromNull(workoutData)
	s.CompletedAt = timeFromNull(completedAt)
	s.SyncedAt = timeFromNull(syncedAt)
	return &s, nil
}
