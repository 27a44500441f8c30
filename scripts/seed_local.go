package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"transfit/internal/database"
	"transfit/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of local sample data. JSON blobs are given as YAML mappings.
type SeedFile struct {
	Profile  *SeedProfile   `yaml:"profile"`
	Sessions []SeedSession  `yaml:"sessions"`
	Plans    []SeedPlan     `yaml:"plans"`
	Feedback []SeedFeedback `yaml:"feedback"`
}

type SeedProfile struct {
	ID                string   `yaml:"id"`
	DisplayName       string   `yaml:"display_name"`
	Pronouns          string   `yaml:"pronouns"`
	Goals             []string `yaml:"goals"`
	FitnessLevel      string   `yaml:"fitness_level"`
	TrainingFrequency int      `yaml:"training_frequency"`
	Equipment         []string `yaml:"equipment"`
}

type SeedSession struct {
	ID              string         `yaml:"id"`
	PlanID          string         `yaml:"plan_id"`
	StartedAt       time.Time      `yaml:"started_at"`
	CompletedAt     *time.Time     `yaml:"completed_at"`
	DurationMinutes int            `yaml:"duration_minutes"`
	WorkoutData     map[string]any `yaml:"workout_data"`
}

type SeedPlan struct {
	ID            string             `yaml:"id"`
	BlockLength   int                `yaml:"block_length"`
	StartDate     string             `yaml:"start_date"`
	Goals         []string           `yaml:"goals"`
	GoalWeighting map[string]float64 `yaml:"goal_weighting"`
	PlanData      map[string]any     `yaml:"plan_data"`
}

type SeedFeedback struct {
	ID          string            `yaml:"id"`
	Category    string            `yaml:"category"`
	Severity    string            `yaml:"severity"`
	Context     string            `yaml:"context"`
	ExerciseID  string            `yaml:"exercise_id"`
	WorkoutID   string            `yaml:"workout_id"`
	Description string            `yaml:"description"`
	DeviceInfo  map[string]string `yaml:"device_info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		seedPath = flag.String("seed", "configs/seed.yaml", "path to seed.yaml")
		dbPath   = flag.String("db", "./data/transfit.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*seedPath)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed SeedFile
	if err = yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	counts := map[models.EntityType]int{}

	if p := seed.Profile; p != nil {
		profile := &models.Profile{
			ID:                p.ID,
			DisplayName:       p.DisplayName,
			Pronouns:          p.Pronouns,
			Goals:             p.Goals,
			FitnessLevel:      p.FitnessLevel,
			TrainingFrequency: p.TrainingFrequency,
			Equipment:         p.Equipment,
			UpdatedAt:         now,
		}
		if err = save(profile, func() error { return db.SaveProfile(ctx, profile) }); err != nil {
			return err
		}
		counts[models.EntityProfile]++
	}

	for _, s := range seed.Sessions {
		workout, err := rawJSON(s.WorkoutData)
		if err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
		session := &models.Session{
			ID:              s.ID,
			PlanID:          s.PlanID,
			WorkoutData:     workout,
			StartedAt:       s.StartedAt,
			CompletedAt:     s.CompletedAt,
			DurationMinutes: s.DurationMinutes,
		}
		if err = save(session, func() error { return db.SaveSession(ctx, session) }); err != nil {
			return err
		}
		counts[models.EntitySession]++
	}

	for _, p := range seed.Plans {
		planData, err := rawJSON(p.PlanData)
		if err != nil {
			return fmt.Errorf("plan %s: %w", p.ID, err)
		}
		plan := &models.Plan{
			ID:            p.ID,
			BlockLength:   p.BlockLength,
			StartDate:     p.StartDate,
			Goals:         p.Goals,
			GoalWeighting: p.GoalWeighting,
			PlanData:      planData,
		}
		if err = save(plan, func() error { return db.SavePlan(ctx, plan) }); err != nil {
			return err
		}
		counts[models.EntityPlan]++
	}

	for _, f := range seed.Feedback {
		feedback := &models.Feedback{
			ID:          f.ID,
			Category:    f.Category,
			Severity:    f.Severity,
			Context:     f.Context,
			ExerciseID:  f.ExerciseID,
			WorkoutID:   f.WorkoutID,
			Description: f.Description,
			DeviceInfo:  f.DeviceInfo,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err = save(feedback, func() error { return db.SaveFeedback(ctx, feedback) }); err != nil {
			return err
		}
		counts[models.EntityFeedback]++
	}

	logger.Info().
		Int("profiles", counts[models.EntityProfile]).
		Int("sessions", counts[models.EntitySession]).
		Int("plans", counts[models.EntityPlan]).
		Int("feedback", counts[models.EntityFeedback]).
		Msg("seed completed")
	return nil
}

func save(rec models.SyncableRecord, write func() error) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := write(); err != nil {
		return fmt.Errorf("save %s %s: %w", rec.EntityType(), rec.RecordID(), err)
	}
	return nil
}

func rawJSON(v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
