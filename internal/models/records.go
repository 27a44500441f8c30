package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntityType discriminates the kinds of locally-created records pushed to the remote store.
type EntityType string

const (
	EntityProfile  EntityType = "profile"
	EntitySession  EntityType = "session"
	EntityPlan     EntityType = "plan"
	EntityFeedback EntityType = "feedback"
)

// EntityTypes lists every syncable kind in sweep order.
var EntityTypes = []EntityType{EntityProfile, EntitySession, EntityPlan, EntityFeedback}

func (t EntityType) Valid() bool {
	switch t {
	case EntityProfile, EntitySession, EntityPlan, EntityFeedback:
		return true
	default:
		return false
	}
}

// Table returns the remote table that stores rows of this kind.
func (t EntityType) Table() string {
	switch t {
	case EntityProfile:
		return "profiles"
	case EntitySession:
		return "workout_sessions"
	case EntityPlan:
		return "plans"
	case EntityFeedback:
		return "feedback_reports"
	default:
		return ""
	}
}

// SyncableRecord is a local row that must eventually be acknowledged by the remote store.
type SyncableRecord interface {
	EntityType() EntityType
	RecordID() string
	IsSynced() bool
	Validate() error
	// RemoteRow builds the upsert payload tagged with the owner and the acknowledgement time.
	RemoteRow(userID string, syncedAt time.Time) map[string]any
}

// Profile is the single per-device user profile. Remotely it is keyed by the user id.
type Profile struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	Pronouns          string     `json:"pronouns,omitempty"`
	Goals             []string   `json:"goals,omitempty"`
	FitnessLevel      string     `json:"fitness_level,omitempty"`
	TrainingFrequency int        `json:"training_frequency,omitempty"`
	Equipment         []string   `json:"equipment,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	SyncedAt          *time.Time `json:"synced_at,omitempty"`
}

func (p *Profile) EntityType() EntityType { return EntityProfile }
func (p *Profile) RecordID() string       { return p.ID }
func (p *Profile) IsSynced() bool         { return p.SyncedAt != nil }

func (p *Profile) Validate() error {
	if p.ID == "" {
		return errors.New("profile id is required")
	}
	return nil
}

func (p *Profile) RemoteRow(userID string, syncedAt time.Time) map[string]any {
	return map[string]any{
		"id":                 userID,
		"display_name":       p.DisplayName,
		"pronouns":           p.Pronouns,
		"goals":              nonNilStrings(p.Goals),
		"fitness_level":      p.FitnessLevel,
		"training_frequency": p.TrainingFrequency,
		"equipment":          nonNilStrings(p.Equipment),
		"updated_at":         p.UpdatedAt.UTC().Format(time.RFC3339),
		"synced_at":          syncedAt.UTC().Format(time.RFC3339),
	}
}

// Session is one completed or in-progress workout.
type Session struct {
	ID              string          `json:"id"`
	PlanID          string          `json:"plan_id,omitempty"`
	WorkoutData     json.RawMessage `json:"workout_data,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
	SyncedAt        *time.Time      `json:"synced_at,omitempty"`
}

func (s *Session) EntityType() EntityType { return EntitySession }
func (s *Session) RecordID() string       { return s.ID }
func (s *Session) IsSynced() bool         { return s.SyncedAt != nil }

func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if s.StartedAt.IsZero() {
		return fmt.Errorf("session %s: started_at is required", s.ID)
	}
	if len(s.WorkoutData) > 0 && !json.Valid(s.WorkoutData) {
		return fmt.Errorf("session %s: workout_data is not valid JSON", s.ID)
	}
	return nil
}

func (s *Session) RemoteRow(userID string, syncedAt time.Time) map[string]any {
	row := map[string]any{
		"id":               s.ID,
		"plan_id":          nullableString(s.PlanID),
		"workout_data":     rawOrNull(s.WorkoutData),
		"started_at":       s.StartedAt.UTC().Format(time.RFC3339),
		"completed_at":     nil,
		"duration_minutes": s.DurationMinutes,
		"user_id":          userID,
		"synced_at":        syncedAt.UTC().Format(time.RFC3339),
	}
	if s.CompletedAt != nil {
		row["completed_at"] = s.CompletedAt.UTC().Format(time.RFC3339)
	}
	return row
}

// Plan is a generated training block.
type Plan struct {
	ID            string             `json:"id"`
	BlockLength   int                `json:"block_length"`
	StartDate     string             `json:"start_date"`
	Goals         []string           `json:"goals,omitempty"`
	GoalWeighting map[string]float64 `json:"goal_weighting,omitempty"`
	PlanData      json.RawMessage    `json:"plan_data,omitempty"`
	SyncedAt      *time.Time         `json:"synced_at,omitempty"`
}

func (p *Plan) EntityType() EntityType { return EntityPlan }
func (p *Plan) RecordID() string       { return p.ID }
func (p *Plan) IsSynced() bool         { return p.SyncedAt != nil }

func (p *Plan) Validate() error {
	if p.ID == "" {
		return errors.New("plan id is required")
	}
	if p.BlockLength <= 0 {
		return fmt.Errorf("plan %s: block_length must be positive", p.ID)
	}
	if _, err := time.Parse(DateLayout, p.StartDate); err != nil {
		return fmt.Errorf("plan %s: start_date: %w", p.ID, err)
	}
	if len(p.PlanData) > 0 && !json.Valid(p.PlanData) {
		return fmt.Errorf("plan %s: plan_data is not valid JSON", p.ID)
	}
	return nil
}

func (p *Plan) RemoteRow(userID string, syncedAt time.Time) map[string]any {
	weighting := p.GoalWeighting
	if weighting == nil {
		weighting = map[string]float64{}
	}
	return map[string]any{
		"id":             p.ID,
		"block_length":   p.BlockLength,
		"start_date":     p.StartDate,
		"goals":          nonNilStrings(p.Goals),
		"goal_weighting": weighting,
		"plan_data":      rawOrNull(p.PlanData),
		"user_id":        userID,
		"synced_at":      syncedAt.UTC().Format(time.RFC3339),
	}
}

// Feedback is a user-filed report about an exercise, a workout or the app itself.
type Feedback struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	Severity    string            `json:"severity"`
	Context     string            `json:"context,omitempty"`
	ExerciseID  string            `json:"exercise_id,omitempty"`
	WorkoutID   string            `json:"workout_id,omitempty"`
	Description string            `json:"description"`
	DeviceInfo  map[string]string `json:"device_info,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	SyncedAt    *time.Time        `json:"synced_at,omitempty"`
}

func (f *Feedback) EntityType() EntityType { return EntityFeedback }
func (f *Feedback) RecordID() string       { return f.ID }
func (f *Feedback) IsSynced() bool         { return f.SyncedAt != nil }

func (f *Feedback) Validate() error {
	if f.ID == "" {
		return errors.New("feedback id is required")
	}
	if f.Category == "" {
		return fmt.Errorf("feedback %s: category is required", f.ID)
	}
	switch f.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("feedback %s: unknown severity %q", f.ID, f.Severity)
	}
	return nil
}

func (f *Feedback) RemoteRow(userID string, syncedAt time.Time) map[string]any {
	device := f.DeviceInfo
	if device == nil {
		device = map[string]string{}
	}
	return map[string]any{
		"id":          f.ID,
		"user_id":     userID,
		"category":    f.Category,
		"severity":    f.Severity,
		"context":     f.Context,
		"exercise_id": nullableString(f.ExerciseID),
		"workout_id":  nullableString(f.WorkoutID),
		"description": f.Description,
		"device_info": device,
		"created_at":  f.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  f.UpdatedAt.UTC().Format(time.RFC3339),
		"synced_at":   syncedAt.UTC().Format(time.RFC3339),
	}
}

// DecodeRecord decodes raw JSON into the concrete record type selected by entityType
// and validates it.
func DecodeRecord(entityType EntityType, raw json.RawMessage) (SyncableRecord, error) {
	var rec SyncableRecord
	switch entityType {
	case EntityProfile:
		rec = &Profile{}
	case EntitySession:
		rec = &Session{}
	case EntityPlan:
		rec = &Plan{}
	case EntityFeedback:
		rec = &Feedback{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%s payload is empty", entityType)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", entityType, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
