package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		clerk_id        TEXT NOT NULL UNIQUE,
		tier            TEXT NOT NULL DEFAULT 'FREE',
		monthly_credits INTEGER NOT NULL DEFAULT 50
	);
	CREATE TABLE IF NOT EXISTS usage_logs (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		job_id     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS usage_logs_user_id ON usage_logs (user_id);
`

// PostgresStore reads the users and usage_logs tables. The pool is usually
// shared with the Postgres job store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("ensure quota schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) FindProfile(ctx context.Context, userID string) (Profile, bool, error) {
	var (
		profile Profile
		tier    string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, clerk_id, tier, monthly_credits
		FROM users
		WHERE clerk_id = $1
	`, userID).Scan(&profile.ID, &profile.UserID, &tier, &profile.MonthlyCredits)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("query profile: %w", err)
	}
	profile.Tier = Tier(tier)
	return profile, true, nil
}

func (s *PostgresStore) CountUsage(ctx context.Context, profileID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM usage_logs WHERE user_id = $1`, profileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertUsage(ctx context.Context, profileID, jobID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_logs (user_id, job_id, created_at) VALUES ($1, $2, $3)
	`, profileID, jobID, at)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}
