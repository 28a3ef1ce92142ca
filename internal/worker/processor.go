package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/knowledge"
	"github.com/iago/link-collector-back/internal/queue"
	"github.com/iago/link-collector-back/internal/repository"
	"github.com/iago/link-collector-back/internal/video"
)

const (
	terminalWriteTimeout = 10 * time.Second
	abandonGrace         = time.Minute

	interruptedMessage = "processing interrupted by shutdown"
	abandonedMessage   = "processing interrupted, worker stopped before finishing"
)

// WebExtractor never fails; an empty result means nothing was extracted.
type WebExtractor interface {
	Extract(ctx context.Context, pageURL string) domain.ExtractionResult
}

type VideoExtractor interface {
	Process(ctx context.Context, videoURL string) (domain.ExtractionResult, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text, language string) string
}

type Dependencies struct {
	Consumer    queue.Consumer
	Repo        repository.JobsRepository
	Web         WebExtractor
	Video       VideoExtractor
	Summarizer  Summarizer
	JobTimeout  time.Duration
	Concurrency int
	Logger      *log.Logger
}

// Processor is the dispatcher: it claims queued jobs, extracts text with the
// extractor matching the URL, summarizes it and stores the terminal state.
type Processor struct {
	consumer    queue.Consumer
	repo        repository.JobsRepository
	web         WebExtractor
	video       VideoExtractor
	summarizer  Summarizer
	jobTimeout  time.Duration
	concurrency int
	logger      *log.Logger
	now         func() time.Time
}

func NewProcessor(deps Dependencies) *Processor {
	if deps.JobTimeout <= 0 {
		deps.JobTimeout = 15 * time.Minute
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	return &Processor{
		consumer:    deps.Consumer,
		repo:        deps.Repo,
		web:         deps.Web,
		video:       deps.Video,
		summarizer:  deps.Summarizer,
		jobTimeout:  deps.JobTimeout,
		concurrency: deps.Concurrency,
		logger:      deps.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the consume loops until ctx is done.
func (p *Processor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(loop int) {
			defer wg.Done()
			p.consumeLoop(ctx, loop)
		}(i)
	}
	wg.Wait()
}

func (p *Processor) consumeLoop(ctx context.Context, loop int) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.HandleMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error loop=%d err=%v", loop, err)

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// HandleMessage runs one job. Job failures are written to the store and are
// not returned; only store errors reach the queue, which parks the message.
func (p *Processor) HandleMessage(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}
	if job.Status == domain.JobStatusProcessing && p.abandoned(job) {
		return p.failAbandoned(ctx, job)
	}
	if job.Status != domain.JobStatusQueued {
		p.logf("skip job not queued job_id=%s status=%s", job.ID, job.Status)
		return nil
	}

	if err := job.MarkProcessing(p.now()); err != nil {
		return err
	}
	if err := p.repo.UpdateJob(ctx, job, domain.JobStatusQueued); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			p.logf("job already claimed job_id=%s", job.ID)
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	started := time.Now()
	result, runErr := p.run(ctx, job)

	// The terminal write must land even when ctx was canceled by shutdown.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if runErr != nil {
		if err := job.Fail(failureMessage(runErr), p.now()); err != nil {
			return err
		}
		if err := p.repo.UpdateJob(storeCtx, job, domain.JobStatusProcessing); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		p.logf("job failed job_id=%s duration_ms=%d err=%v", job.ID, time.Since(started).Milliseconds(), runErr)
		return nil
	}

	if err := job.Complete(result, p.now()); err != nil {
		return err
	}
	if err := p.repo.UpdateJob(storeCtx, job, domain.JobStatusProcessing); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	p.logf("job processed job_id=%s duration_ms=%d", job.ID, time.Since(started).Milliseconds())
	return nil
}

// abandoned reports a processing job whose worker can no longer be running:
// every run is bounded by the job timeout plus the terminal write.
func (p *Processor) abandoned(job *domain.Job) bool {
	return p.now().Sub(job.UpdatedAt) > p.jobTimeout+terminalWriteTimeout+abandonGrace
}

func (p *Processor) failAbandoned(ctx context.Context, job *domain.Job) error {
	if err := job.Fail(abandonedMessage, p.now()); err != nil {
		return err
	}
	if err := p.repo.UpdateJob(ctx, job, domain.JobStatusProcessing); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("mark abandoned: %w", err)
	}
	p.logf("job abandoned by previous worker job_id=%s", job.ID)
	return nil
}

func (p *Processor) run(ctx context.Context, job *domain.Job) (result json.RawMessage, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job panicked: %v", recovered)
		}
	}()

	extraction, err := p.extract(ctx, job.URL)
	if err != nil {
		return nil, err
	}
	if extraction.Empty() {
		return nil, errors.New(domain.NoContentMessage)
	}
	p.logf("job extracted job_id=%s method=%s chars=%d", job.ID, extraction.Method, len(extraction.Content))

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	summary := p.summarizer.Summarize(ctx, extraction.Content, job.Language)
	data := knowledge.ParseOrWrap(summary)
	if err := knowledge.Validate(data); err != nil {
		p.logf("summary is not a complete knowledge block job_id=%s err=%v", job.ID, err)
	} else if block, err := knowledge.Decode(data); err == nil {
		p.logf("job summarized job_id=%s title=%q priority=%s category=%q tags=%d", job.ID, block.Title, block.Priority, block.Category, len(block.Tags))
	}

	encoded, err := json.Marshal(domain.JobResult{
		Data:             data,
		OriginalURL:      job.URL,
		ProcessedAt:      p.now(),
		ExtractionMethod: extraction.Method,
	})
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return encoded, nil
}

func (p *Processor) extract(ctx context.Context, targetURL string) (domain.ExtractionResult, error) {
	if video.IsVideoURL(targetURL) {
		if p.video == nil {
			return domain.ExtractionResult{}, errors.New("video extraction is not configured")
		}
		return p.video.Process(ctx, targetURL)
	}
	if p.web == nil {
		return domain.ExtractionResult{}, errors.New("web extraction is not configured")
	}
	return p.web.Extract(ctx, targetURL), nil
}

func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "processing timed out"
	}
	if errors.Is(err, context.Canceled) {
		return interruptedMessage
	}
	return err.Error()
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
