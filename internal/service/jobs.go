package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/queue"
	"github.com/iago/link-collector-back/internal/repository"
)

// JobStatusView is what callers polling a job see.
type JobStatusView struct {
	JobID  string
	Status domain.JobStatus
	Result json.RawMessage
	Error  string
}

const failWriteTimeout = 5 * time.Second

type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	logger   *log.Logger
	now      func() time.Time
}

func NewJobsService(repo repository.JobsRepository, producer queue.Producer, logger *log.Logger) *JobsService {
	return &JobsService{
		repo:     repo,
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue records a queued job and pushes it to the queue. It returns as soon
// as the message is accepted; processing happens in a worker.
func (s *JobsService) Enqueue(ctx context.Context, rawURL, userID, language string) (*domain.Job, error) {
	targetURL, err := normalizeTargetURL(rawURL)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := domain.NewJob(uuid.NewString(), targetURL, strings.TrimSpace(userID), strings.TrimSpace(language), now)
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		URL:         job.URL,
		UserID:      job.UserID,
		Language:    job.Language,
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		s.failUnqueued(ctx, job, err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// failUnqueued marks a job whose message never reached the queue as failed so
// pollers do not wait on it forever.
func (s *JobsService) failUnqueued(ctx context.Context, job *domain.Job, enqueueErr error) {
	if err := job.Fail(enqueueErr.Error(), s.now()); err != nil {
		s.logf("fail unqueued job job_id=%s err=%v", job.ID, err)
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if err := s.repo.UpdateJob(writeCtx, job, domain.JobStatusQueued); err != nil {
		s.logf("store unqueued job failure job_id=%s enqueue_err=%v err=%v", job.ID, enqueueErr, err)
	}
}

func (s *JobsService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Status reports the current state of a job. Records that claim a terminal
// state without the matching payload are reported as failed.
func (s *JobsService) Status(ctx context.Context, jobID string) (JobStatusView, error) {
	job, err := s.repo.GetJob(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return JobStatusView{}, err
	}

	view := JobStatusView{JobID: job.ID, Status: job.Status}
	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusProcessing:
	case domain.JobStatusCompleted:
		if len(job.Result) == 0 {
			view.Status = domain.JobStatusFailed
			view.Error = domain.UnknownErrorMessage
			break
		}
		view.Result = job.Result
	case domain.JobStatusFailed:
		view.Error = firstNonEmpty(job.ErrorMessage, domain.UnknownErrorMessage)
	default:
		view.Status = domain.JobStatusFailed
		view.Error = domain.UnknownErrorMessage
	}
	return view, nil
}

func normalizeTargetURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", domain.NewError(domain.ErrInvalidInput, "url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", domain.NewError(domain.ErrInvalidInput, "url must be an absolute http(s) URL")
	}
	return parsed.String(), nil
}
