package queue

import (
	"context"
	"log"
	"sync"

	"github.com/iago/link-collector-back/internal/domain"
)

// DeadLetter is a message whose handler failed.
type DeadLetter struct {
	Message domain.QueueMessage
	Error   string
}

// LocalQueue is an in-process queue used when Redis is not configured.
// Several Consume loops may share it; each message goes to one of them.
type LocalQueue struct {
	ch     chan domain.QueueMessage
	logger *log.Logger

	dlqMu sync.Mutex
	dlq   []DeadLetter
}

func NewLocalQueue(bufferSize int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	return &LocalQueue{
		ch:     make(chan domain.QueueMessage, bufferSize),
		logger: logger,
		dlq:    make([]DeadLetter, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			q.dlqMu.Lock()
			q.dlq = append(q.dlq, DeadLetter{Message: message, Error: err.Error()})
			q.dlqMu.Unlock()
			if q.logger != nil {
				q.logger.Printf("local queue moved message to DLQ job_id=%s err=%v", message.JobID, err)
			}
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DeadLetters returns a copy of the parked messages.
func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}
