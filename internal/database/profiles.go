package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfit/internal/models"
)

// ProfileStore exposes the profile table to the sync engine.
type ProfileStore struct {
	db *DB
}

func (db *DB) Profiles() *ProfileStore {
	return &ProfileStore{db: db}
}

// SaveProfile inserts or replaces the local profile.
func (db *DB) SaveProfile(ctx context.Context, p *models.Profile) error {
	goals, err := encodeJSONColumn(nonNil(p.Goals))
	if err != nil {
		return fmt.Errorf("failed to encode profile goals: %w", err)
	}
	equipment, err := encodeJSONColumn(nonNil(p.Equipment))
	if err != nil {
		return fmt.Errorf("failed to encode profile equipment: %w", err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	query := `INSERT INTO profile (id, display_name, pronouns, goals, fitness_level, training_frequency, equipment, updated_at, synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                display_name = excluded.display_name,
                pronouns = excluded.pronouns,
                goals = excluded.goals,
                fitness_level = excluded.fitness_level,
                training_frequency = excluded.training_frequency,
                equipment = excluded.equipment,
                updated_at = excluded.updated_at,
                synced_at = excluded.synced_at`
	_, err = db.ExecContext(ctx, query,
		p.ID,
		p.DisplayName,
		p.Pronouns,
		goals,
		p.FitnessLevel,
		p.TrainingFrequency,
		equipment,
		p.UpdatedAt,
		p.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if p.SyncedAt == nil {
		return db.releaseDeadLetters(ctx, models.EntityProfile, p.ID)
	}
	return nil
}

func (db *DB) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	row := db.QueryRowContext(ctx, profileSelect+` WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) FetchUnsynced(ctx context.Context, limit int) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileSelect+` WHERE synced_at IS NULL ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsynced profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *ProfileStore) Get(ctx context.Context, id string) (*models.Profile, error) {
	return s.db.GetProfile(ctx, id)
}

func (s *ProfileStore) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	return s.db.markSynced(ctx, "profile", id, syncedAt)
}

const profileSelect = `SELECT id, display_name, pronouns, goals, fitness_level, training_frequency, equipment, updated_at, synced_at FROM profile`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p         models.Profile
		goals     string
		equipment string
		syncedAt  sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Pronouns, &goals, &p.FitnessLevel, &p.TrainingFrequency, &equipment, &p.UpdatedAt, &syncedAt); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(goals, &p.Goals); err != nil {
		return nil, fmt.Errorf("profile %s goals: %w", p.ID, err)
	}
	if err := decodeJSONColumn(equipment, &p.Equipment); err != nil {
		return nil, fmt.Errorf("profile %s equipment: %w", p.ID, err)
	}
	p.SyncedAt = timeFromNull(syncedAt)
	return &p, nil
}

// markSynced stamps synced_at on one row. A missing row yields models.ErrNotFound.
func (db *DB) markSynced(ctx context.Context, table, id string, syncedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET synced_at = ? WHERE id = ?`, table)
	result, err := db.ExecContext(ctx, query, syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", table, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", table, id, models.ErrNotFound)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
