package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		clerk_id        TEXT NOT NULL UNIQUE,
		tier            TEXT NOT NULL DEFAULT 'FREE',
		monthly_credits INTEGER NOT NULL DEFAULT 50
	);
	CREATE TABLE IF NOT EXISTS usage_logs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT NOT NULL,
		job_id     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS usage_logs_user_id ON usage_logs (user_id);
`

// SQLiteStore keeps profiles and usage in a local SQLite file. Use ":memory:"
// for a throwaway database.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("quota: mkdir %s: %w", filepath.Dir(path), err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("quota: open db: %w", err)
	}
	// single writer; also keeps one shared :memory: database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("quota: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertProfile creates or replaces the profile for profile.UserID.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, clerk_id, tier, monthly_credits) VALUES (?, ?, ?, ?)
		ON CONFLICT (clerk_id) DO UPDATE SET tier = excluded.tier, monthly_credits = excluded.monthly_credits
	`, profile.ID, profile.UserID, string(profile.Tier), profile.MonthlyCredits)
	if err != nil {
		return fmt.Errorf("quota: upsert profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindProfile(ctx context.Context, userID string) (Profile, bool, error) {
	var (
		profile Profile
		tier    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, clerk_id, tier, monthly_credits FROM users WHERE clerk_id = ?`, userID,
	).Scan(&profile.ID, &profile.UserID, &tier, &profile.MonthlyCredits)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("quota: query profile: %w", err)
	}
	profile.Tier = Tier(tier)
	return profile, true, nil
}

func (s *SQLiteStore) CountUsage(ctx context.Context, profileID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_logs WHERE user_id = ?`, profileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("quota: count usage: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) InsertUsage(ctx context.Context, profileID, jobID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (user_id, job_id, created_at) VALUES (?, ?, ?)`,
		profileID, jobID, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("quota: insert usage: %w", err)
	}
	return nil
}
