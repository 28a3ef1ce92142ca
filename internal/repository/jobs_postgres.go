package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobsSchema = `
	CREATE TABLE IF NOT EXISTS collector_jobs (
		id            TEXT PRIMARY KEY,
		url           TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		language      TEXT NOT NULL,
		status        TEXT NOT NULL,
		result        JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)
`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, jobsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure jobs schema: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

// Pool exposes the connection pool so other stores can share it.
func (r *PostgresJobsRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO collector_jobs (
			id,
			url,
			user_id,
			language,
			status,
			result,
			error_message,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		job.ID,
		job.URL,
		job.UserID,
		job.Language,
		string(job.Status),
		nullableJSON(job.Result),
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job, from domain.JobStatus) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE collector_jobs
		SET status = $2,
			result = $3,
			error_message = $4,
			updated_at = $5
		WHERE id = $1 AND status = $6
	`, job.ID, string(job.Status), nullableJSON(job.Result), job.ErrorMessage, job.UpdatedAt, string(from))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM collector_jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return fmt.Errorf("%w: job %s is no longer %s", domain.ErrInvalidTransition, job.ID, from)
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		result    []byte
		createdAt time.Time
		updatedAt time.Time
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, url, user_id, language, status, result, error_message, created_at, updated_at
		FROM collector_jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&job.URL,
		&job.UserID,
		&job.Language,
		&status,
		&result,
		&job.ErrorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Status = domain.JobStatus(status)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	return &job, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
