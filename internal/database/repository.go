package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// GetGlobalUsage returns the platform-wide usage for date, or nil when no
// question has been recorded that day.
func (db *DB) GetGlobalUsage(ctx context.Context, date string) (*models.GlobalUsage, error) {
	var g models.GlobalUsage
	err := db.Pool.QueryRow(ctx, `
		SELECT date, total_cost, question_count FROM global_usage WHERE date = $1
	`, date).Scan(&g.Date, &g.TotalCost, &g.QuestionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying global usage: %w", err)
	}
	return &g, nil
}

// SaveGlobalUsage upserts the day's platform-wide totals.
func (db *DB) SaveGlobalUsage(ctx context.Context, g *models.GlobalUsage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO global_usage (date, total_cost, question_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (date) DO UPDATE
		SET total_cost = EXCLUDED.total_cost,
		    question_count = EXCLUDED.question_count
	`, g.Date, g.TotalCost, g.QuestionCount)
	if err != nil {
		return fmt.Errorf("saving global usage: %w", err)
	}
	return nil
}

// GetIdentityUsage returns the usage of one IP address on date, or nil.
func (db *DB) GetIdentityUsage(ctx context.Context, ip, date string) (*models.IdentityUsage, error) {
	var u models.IdentityUsage
	err := db.Pool.QueryRow(ctx, `
		SELECT ip_address, date, question_count, total_cost
		FROM ip_usage WHERE ip_address = $1 AND date = $2
	`, ip, date).Scan(&u.IPAddress, &u.Date, &u.QuestionCount, &u.TotalCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ip usage: %w", err)
	}
	return &u, nil
}

// SaveIdentityUsage upserts one IP address's totals for a day.
func (db *DB) SaveIdentityUsage(ctx context.Context, u *models.IdentityUsage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO ip_usage (ip_address, date, question_count, total_cost)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address, date) DO UPDATE
		SET question_count = EXCLUDED.question_count,
		    total_cost = EXCLUDED.total_cost
	`, u.IPAddress, u.Date, u.QuestionCount, u.TotalCost)
	if err != nil {
		return fmt.Errorf("saving ip usage: %w", err)
	}
	return nil
}

// GetUserUsage returns the question count of one user on date, or nil.
func (db *DB) GetUserUsage(ctx context.Context, userID, date string) (*models.UserUsage, error) {
	var u models.UserUsage
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, date, count FROM user_usage WHERE user_id = $1 AND date = $2
	`, userID, date).Scan(&u.UserID, &u.Date, &u.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user usage: %w", err)
	}
	return &u, nil
}

// SaveUserUsage upserts one user's count for a day.
func (db *DB) SaveUserUsage(ctx context.Context, u *models.UserUsage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO user_usage (user_id, date, count)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO UPDATE
		SET count = EXCLUDED.count
	`, u.UserID, u.Date, u.Count)
	if err != nil {
		return fmt.Errorf("saving user usage: %w", err)
	}
	return nil
}

// GetUserPlan returns the subscription plan of a user, or "" without a profile.
func (db *DB) GetUserPlan(ctx context.Context, userID string) (string, error) {
	var plan string
	err := db.Pool.QueryRow(ctx, `
		SELECT subscription_plan FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying user profile: %w", err)
	}
	return plan, nil
}

// SaveUserProfile creates or updates a user's subscription plan.
func (db *DB) SaveUserProfile(ctx context.Context, p *models.UserProfile) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, subscription_plan)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET subscription_plan = EXCLUDED.subscription_plan
	`, p.UserID, p.SubscriptionPlan)
	if err != nil {
		return fmt.Errorf("saving user profile: %w", err)
	}
	return nil
}

// ListGlobalUsage returns the global rows with from <= date <= to, newest first.
func (db *DB) ListGlobalUsage(ctx context.Context, from, to string) ([]models.GlobalUsage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT date, total_cost, question_count FROM global_usage
		WHERE date >= $1 AND date <= $2
		ORDER BY date DESC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying global usage range: %w", err)
	}
	defer rows.Close()

	var results []models.GlobalUsage
	for rows.Next() {
		var g models.GlobalUsage
		if err := rows.Scan(&g.Date, &g.TotalCost, &g.QuestionCount); err != nil {
			return nil, fmt.Errorf("scanning global usage: %w", err)
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

// ListIdentityUsage returns the per-IP rows with from <= date <= to, newest first.
func (db *DB) ListIdentityUsage(ctx context.Context, from, to string) ([]models.IdentityUsage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT ip_address, date, question_count, total_cost FROM ip_usage
		WHERE date >= $1 AND date <= $2
		ORDER BY date DESC, ip_address
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying ip usage range: %w", err)
	}
	defer rows.Close()

	var results []models.IdentityUsage
	for rows.Next() {
		var u models.IdentityUsage
		if err := rows.Scan(&u.IPAddress, &u.Date, &u.QuestionCount, &u.TotalCost); err != nil {
			return nil, fmt.Errorf("scanning ip usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}
