package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

// compareAndSetJob returns -1 when the job is missing, 0 when the stored
// status differs from ARGV[1] and 1 after writing the new state.
var compareAndSetJob = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'result', ARGV[3], 'error_message', ARGV[4], 'updated_at', ARGV[5])
local ttl = tonumber(ARGV[6])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

type RedisJobsConfig struct {
	KeyPrefix string
	// Retention bounds how long a job record lives after its last update.
	Retention time.Duration
}

// RedisJobsRepository keeps each job in a hash next to the Streams queue so
// a single Redis deployment is the queue and the result store.
type RedisJobsRepository struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

func NewRedisJobsRepository(client *redis.Client, cfg RedisJobsConfig) *RedisJobsRepository {
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "lc:job:"
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	return &RedisJobsRepository{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		retention: cfg.Retention,
	}
}

func (r *RedisJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	key := r.key(job.ID)
	created, err := r.client.HSetNX(ctx, key, "id", job.ID).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !created {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	pipeline := r.client.TxPipeline()
	pipeline.HSet(ctx, key, map[string]any{
		"url":           job.URL,
		"user_id":       job.UserID,
		"language":      job.Language,
		"status":        string(job.Status),
		"result":        string(job.Result),
		"error_message": job.ErrorMessage,
		"created_at":    job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if r.retention > 0 {
		pipeline.Expire(ctx, key, r.retention)
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *RedisJobsRepository) UpdateJob(ctx context.Context, job *domain.Job, from domain.JobStatus) error {
	outcome, err := compareAndSetJob.Run(ctx, r.client, []string{r.key(job.ID)},
		string(from),
		string(job.Status),
		string(job.Result),
		job.ErrorMessage,
		job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		int64(r.retention/time.Second),
	).Int()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	switch outcome {
	case -1:
		return domain.ErrJobNotFound
	case 0:
		return fmt.Errorf("%w: job %s is no longer %s", domain.ErrInvalidTransition, job.ID, from)
	default:
		return nil
	}
}

func (r *RedisJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	values, err := r.client.HGetAll(ctx, r.key(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	if len(values) == 0 || values["status"] == "" {
		return nil, domain.ErrJobNotFound
	}
	return jobFromHash(jobID, values)
}

func (r *RedisJobsRepository) key(jobID string) string {
	return r.keyPrefix + jobID
}

func jobFromHash(jobID string, values map[string]string) (*domain.Job, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, values["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, values["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}

	job := &domain.Job{
		ID:           jobID,
		URL:          values["url"],
		UserID:       values["user_id"],
		Language:     values["language"],
		Status:       domain.JobStatus(values["status"]),
		ErrorMessage: values["error_message"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if result := values["result"]; result != "" {
		job.Result = json.RawMessage(result)
	}
	return job, nil
}
