package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	readBatchSize  = 10
	claimBatchSize = 50
	ackTimeout     = 5 * time.Second
)

type StreamsConfig struct {
	Stream    string
	DLQStream string
	Group     string
	Consumer  string
	Block     time.Duration
	// ClaimIdle is how long an entry may sit unacknowledged in the group's
	// pending list before a consumer takes it over.
	ClaimIdle time.Duration
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams. The
// consumer group hands every entry to a single consumer; failed entries are
// acknowledged and copied to the dead-letter stream without redelivery.
// Entries left pending by a consumer that stopped mid-batch are reclaimed
// once they have been idle for ClaimIdle.
type StreamsQueue struct {
	client    *redis.Client
	stream    string
	dlqStream string
	group     string
	consumer  string
	block     time.Duration
	claimIdle time.Duration
	logger    *log.Logger

	claimMu   sync.Mutex
	lastClaim time.Time
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig, logger *log.Logger) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "lc_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "lc_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "lc_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}

	queue := &StreamsQueue{
		client:    client,
		stream:    cfg.Stream,
		dlqStream: cfg.DLQStream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		block:     cfg.Block,
		claimIdle: cfg.ClaimIdle,
		logger:    logger,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: messageValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if q.claimDue() {
			if err := q.reclaim(ctx, handler); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				q.logf("reclaim pending entries failed err=%v", err)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    readBatchSize,
			Block:    q.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			q.handleBatch(ctx, stream.Messages, handler)
		}
	}
}

func (q *StreamsQueue) claimDue() bool {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()
	if time.Since(q.lastClaim) < q.claimIdle/2 {
		return false
	}
	q.lastClaim = time.Now()
	return true
}

// reclaim takes over entries that stayed pending longer than claimIdle,
// walking the whole pending list in pages.
func (q *StreamsQueue) reclaim(ctx context.Context, handler Handler) error {
	start := "0-0"
	for ctx.Err() == nil {
		messages, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    start,
			Count:    claimBatchSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("xautoclaim: %w", err)
		}
		if len(messages) > 0 {
			q.logf("reclaimed pending entries count=%d", len(messages))
		}
		q.handleBatch(ctx, messages, handler)
		if next == "" || next == "0-0" {
			return nil
		}
		start = next
	}
	return ctx.Err()
}

// handleBatch stops at cancellation; the untouched entries stay pending for
// a later reclaim.
func (q *StreamsQueue) handleBatch(ctx context.Context, items []redis.XMessage, handler Handler) {
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		q.handle(ctx, item, handler)
	}
}

func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler Handler) {
	message, err := parseStreamMessage(item)
	if err == nil {
		err = handler(ctx, message)
	}
	if err != nil && ctx.Err() != nil {
		q.logf("leaving entry pending after cancellation stream_id=%s err=%v", item.ID, err)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err != nil {
		if dlqErr := q.sendToDLQ(writeCtx, message, item, err.Error()); dlqErr != nil {
			q.logf("dlq write failed stream_id=%s err=%v", item.ID, dlqErr)
		}
	}
	if ackErr := q.ackAndDelete(writeCtx, item.ID); ackErr != nil {
		q.logf("ack failed stream_id=%s err=%v", item.ID, ackErr)
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.QueueMessage,
	item redis.XMessage,
	errorMessage string,
) error {
	values := messageValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func (q *StreamsQueue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

func messageValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":       message.JobID,
		"url":          message.URL,
		"user_id":      message.UserID,
		"language":     message.Language,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if strings.TrimSpace(jobID) == "" {
		return domain.QueueMessage{}, errors.New("empty job_id")
	}
	targetURL, err := getString("url")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	userID, err := getString("user_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	language, err := getString("language")
	if err != nil {
		return domain.QueueMessage{}, err
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	return domain.QueueMessage{
		JobID:       jobID,
		URL:         targetURL,
		UserID:      userID,
		Language:    language,
		RequestedAt: requestedAt,
	}, nil
}
