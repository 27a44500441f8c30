package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfit/internal/models"
)

type PlanStore struct {
	db *DB
}

func (db *DB) Plans() *PlanStore {
	return &PlanStore{db: db}
}

func (db *DB) SavePlan(ctx context.Context, p *models.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	goals, err := encodeJSONColumn(nonNil(p.Goals))
	if err != nil {
		return fmt.Errorf("failed to encode plan goals: %w", err)
	}
	weighting := p.GoalWeighting
	if weighting == nil {
		weighting = map[string]float64{}
	}
	goalWeighting, err := encodeJSONColumn(weighting)
	if err != nil {
		return fmt.Errorf("failed to encode goal weighting: %w", err)
	}

	query := `INSERT INTO plans (id, block_length, start_date, goals, goal_weighting, plan_data, synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                block_length = excluded.block_length,
                start_date = excluded.start_date,
                goals = excluded.goals,
                goal_weighting = excluded.goal_weighting,
                plan_data = excluded.plan_data,
                synced_at = excluded.synced_at`
	_, err = db.ExecContext(ctx, query,
		p.ID,
		p.BlockLength,
		p.StartDate,
		goals,
		goalWeighting,
		nullableRaw(p.PlanData),
		p.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	if p.SyncedAt == nil {
		return db.releaseDeadLetters(ctx, models.EntityPlan, p.ID)
	}
	return nil
}

func (db *DB) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	p, err := scanPlan(db.QueryRowContext(ctx, planSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *PlanStore) FetchUnsynced(ctx context.Context, limit int) ([]*models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, planSelect+` WHERE synced_at IS NULL ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsynced plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *PlanStore) Get(ctx context.Context, id string) (*models.Plan, error) {
	return s.db.GetPlan(ctx, id)
}

func (s *PlanStore) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	return s.db.markSynced(ctx, "plans", id, syncedAt)
}

const planSelect = `SELECT id, block_length, start_date, goals, goal_weighting, plan_data, synced_at FROM plans`

func scanPlan(row rowScanner) (*models.Plan, error) {
	var (
		p             models.Plan
		goals         string
		goalWeighting string
		planData      sql.NullString
		syncedAt      sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.BlockLength, &p.StartDate, &goals, &goalWeighting, &planData, &syncedAt); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(goals, &p.Goals); err != nil {
		return nil, fmt.Errorf("plan %s goals: %w", p.ID, err)
	}
	if err := decodeJSONColumn(goalWeighting, &p.GoalWeighting); err != nil {
		return nil, fmt.Errorf("plan %s goal_weighting: %w", p.ID, err)
	}
	p.PlanData = rawFromNull(planData)
	p.SyncedAt = timeFromNull(syncedAt)
	return &p, nil
}
