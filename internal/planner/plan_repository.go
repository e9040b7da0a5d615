package planner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"menu-planner/internal/database"

	"github.com/jmoiron/sqlx"
)

// Profile is a user's stored preferences together with their encoded plan.
type Profile struct {
	UserID      string
	Preferences string
	Allergens   string
	Plan        string
	UpdatedAt   time.Time
}

type profileRow struct {
	UserID      string `db:"user_id"`
	Preferences string `db:"preferences"`
	Allergens   string `db:"allergens"`
	Plan        string `db:"plan"`
	UpdatedAt   string `db:"updated_at"`
}

// PlanRepository is a database-backed repository for user menus.
type PlanRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db, now: time.Now}
}

// GetProfile returns the stored profile, or nil when the user has none.
func (r *PlanRepository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var row profileRow
	err := r.db.GetContext(ctx, &row,
		`SELECT user_id, preferences, allergens, plan, updated_at FROM user_menus WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile for user %s: %w", userID, err)
	}

	updatedAt, err := time.Parse(database.TimeLayout, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for user %s: %w", userID, err)
	}

	return &Profile{
		UserID:      row.UserID,
		Preferences: row.Preferences,
		Allergens:   row.Allergens,
		Plan:        row.Plan,
		UpdatedAt:   updatedAt,
	}, nil
}

// SaveProfile stores preferences and allergens, keeping any existing plan.
func (r *PlanRepository) SaveProfile(ctx context.Context, userID, preferences, allergens string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_menus (user_id, preferences, allergens, plan, updated_at) VALUES (?, ?, ?, '', ?)
		ON CONFLICT (user_id) DO UPDATE SET
			preferences = excluded.preferences,
			allergens = excluded.allergens,
			updated_at = excluded.updated_at`,
		userID, preferences, allergens, r.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save profile for user %s: %w", userID, err)
	}
	return nil
}

// SavePlan stores the encoded plan, keeping the user's preferences.
func (r *PlanRepository) SavePlan(ctx context.Context, userID, plan string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_menus (user_id, plan, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = excluded.plan,
			updated_at = excluded.updated_at`,
		userID, plan, r.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save plan for user %s: %w", userID, err)
	}
	return nil
}

func (r *PlanRepository) timestamp() string {
	return r.now().UTC().Format(database.TimeLayout)
}
