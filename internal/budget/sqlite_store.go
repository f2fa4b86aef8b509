package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

// SQLiteStore persists the ledger tables in a local SQLite file. It is meant
// for single-node deployments and development.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the ledger database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("sqlite ledger: path is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite ledger: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", abs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ledger: ping database: %w", err)
	}

	s := &SQLiteStore{db: db, path: abs}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS global_usage (
			date TEXT PRIMARY KEY,
			total_cost REAL NOT NULL DEFAULT 0,
			question_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ip_usage (
			ip_address TEXT NOT NULL,
			date TEXT NOT NULL,
			question_count INTEGER NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (ip_address, date)
		)`,
		`CREATE TABLE IF NOT EXISTS user_usage (
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			subscription_plan TEXT NOT NULL DEFAULT 'free'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite ledger: create table: %w", err)
		}
	}
	return nil
}

// GetGlobalUsage implements Store.
func (s *SQLiteStore) GetGlobalUsage(ctx context.Context, date string) (*models.GlobalUsage, error) {
	var g models.GlobalUsage
	err := s.db.QueryRowContext(ctx,
		`SELECT date, total_cost, question_count FROM global_usage WHERE date = ?`, date,
	).Scan(&g.Date, &g.TotalCost, &g.QuestionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: get global usage: %w", err)
	}
	return &g, nil
}

// SaveGlobalUsage implements Store.
func (s *SQLiteStore) SaveGlobalUsage(ctx context.Context, g *models.GlobalUsage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_usage (date, total_cost, question_count) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE
		SET total_cost = excluded.total_cost, question_count = excluded.question_count
	`, g.Date, g.TotalCost, g.QuestionCount)
	if err != nil {
		return fmt.Errorf("sqlite ledger: save global usage: %w", err)
	}
	return nil
}

// GetIdentityUsage implements Store.
func (s *SQLiteStore) GetIdentityUsage(ctx context.Context, ip, date string) (*models.IdentityUsage, error) {
	var u models.IdentityUsage
	err := s.db.QueryRowContext(ctx,
		`SELECT ip_address, date, question_count, total_cost FROM ip_usage WHERE ip_address = ? AND date = ?`,
		ip, date,
	).Scan(&u.IPAddress, &u.Date, &u.QuestionCount, &u.TotalCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: get ip usage: %w", err)
	}
	return &u, nil
}

// SaveIdentityUsage implements Store.
func (s *SQLiteStore) SaveIdentityUsage(ctx context.Context, u *models.IdentityUsage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_usage (ip_address, date, question_count, total_cost) VALUES (?, ?, ?, ?)
		ON CONFLICT(ip_address, date) DO UPDATE
		SET question_count = excluded.question_count, total_cost = excluded.total_cost
	`, u.IPAddress, u.Date, u.QuestionCount, u.TotalCost)
	if err != nil {
		return fmt.Errorf("sqlite ledger: save ip usage: %w", err)
	}
	return nil
}

// GetUserUsage implements Store.
func (s *SQLiteStore) GetUserUsage(ctx context.Context, userID, date string) (*models.UserUsage, error) {
	var u models.UserUsage
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, date, count FROM user_usage WHERE user_id = ? AND date = ?`, userID, date,
	).Scan(&u.UserID, &u.Date, &u.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: get user usage: %w", err)
	}
	return &u, nil
}

// SaveUserUsage implements Store.
func (s *SQLiteStore) SaveUserUsage(ctx context.Context, u *models.UserUsage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_usage (user_id, date, count) VALUES (?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET count = excluded.count
	`, u.UserID, u.Date, u.Count)
	if err != nil {
		return fmt.Errorf("sqlite ledger: save user usage: %w", err)
	}
	return nil
}

// GetUserPlan implements Store.
func (s *SQLiteStore) GetUserPlan(ctx context.Context, userID string) (string, error) {
	var plan string
	err := s.db.QueryRowContext(ctx,
		`SELECT subscription_plan FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite ledger: get user plan: %w", err)
	}
	return plan, nil
}

// SaveUserProfile creates or updates a user's subscription plan.
func (s *SQLiteStore) SaveUserProfile(ctx context.Context, p *models.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, subscription_plan) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET subscription_plan = excluded.subscription_plan
	`, p.UserID, p.SubscriptionPlan)
	if err != nil {
		return fmt.Errorf("sqlite ledger: save user profile: %w", err)
	}
	return nil
}

// ListGlobalUsage implements Store.
func (s *SQLiteStore) ListGlobalUsage(ctx context.Context, from, to string) ([]models.GlobalUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_cost, question_count FROM global_usage
		WHERE date >= ? AND date <= ? ORDER BY date DESC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: list global usage: %w", err)
	}
	defer rows.Close()

	var out []models.GlobalUsage
	for rows.Next() {
		var g models.GlobalUsage
		if err := rows.Scan(&g.Date, &g.TotalCost, &g.QuestionCount); err != nil {
			return nil, fmt.Errorf("sqlite ledger: scan global usage: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListIdentityUsage implements Store.
func (s *SQLiteStore) ListIdentityUsage(ctx context.Context, from, to string) ([]models.IdentityUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip_address, date, question_count, total_cost FROM ip_usage
		WHERE date >= ? AND date <= ? ORDER BY date DESC, ip_address
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: list ip usage: %w", err)
	}
	defer rows.Close()

	var out []models.IdentityUsage
	for rows.Next() {
		var u models.IdentityUsage
		if err := rows.Scan(&u.IPAddress, &u.Date, &u.QuestionCount, &u.TotalCost); err != nil {
			return nil, fmt.Errorf("sqlite ledger: scan ip usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
