package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfit/internal/models"
)

// GetValue reads a key-value slot. A missing slot returns (nil, nil).
func (db *DB) GetValue(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	return []byte(value), nil
}

// SetValue overwrites a key-value slot.
func (db *DB) SetValue(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, key, string(value), time.Now()); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

func (db *DB) DeleteValue(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", key, err)
	}
	return nil
}

// AddDeadLetter records a queue item that was dropped after exhausting its retries.
func (db *DB) AddDeadLetter(ctx context.Context, item models.RetryQueueItem) error {
	payload, err := encodeJSONColumn(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter payload: %w", err)
	}

	query := `INSERT INTO sync_dead_letters (entity_type, entity_id, payload, retry_count, added_at, dropped_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		string(item.EntityType),
		item.ID,
		payload,
		item.RetryCount,
		item.AddedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns the most recently dropped items first. A non-positive limit lists all.
func (db *DB) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, entity_type, entity_id, payload, retry_count, added_at, dropped_at
              FROM sync_dead_letters ORDER BY dropped_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var (
			d          models.DeadLetter
			entityType string
		)
		if err := rows.Scan(&d.ID, &entityType, &d.EntityID, &d.Payload, &d.RetryCount, &d.AddedAt, &d.DroppedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		d.EntityType = models.EntityType(entityType)
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// DeadLetterKeys lists the records whose dead letters are still held. The sweep
// leaves them alone until a local edit releases them.
func (db *DB) DeadLetterKeys(ctx context.Context) (map[models.QueueKey]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT entity_type, entity_id FROM sync_dead_letters WHERE released_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[models.QueueKey]bool)
	for rows.Next() {
		var entityType, id string
		if err := rows.Scan(&entityType, &id); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter key: %w", err)
		}
		keys[models.QueueKey{EntityType: models.EntityType(entityType), ID: id}] = true
	}
	return keys, rows.Err()
}

// releaseDeadLetters lets the sweep pick the record up again after a new local edit.
func (db *DB) releaseDeadLetters(ctx context.Context, entity models.EntityType, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sync_dead_letters SET released_at = ? WHERE entity_type = ? AND entity_id = ? AND released_at IS NULL`,
		time.Now(), string(entity), id)
	if err != nil {
		return fmt.Errorf("failed to release dead letters for %s %s: %w", entity, id, err)
	}
	return nil
}
