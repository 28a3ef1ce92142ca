package queue

import (
	"context"

	"github.com/iago/link-collector-back/internal/domain"
)

// Handler processes one work item. A returned error is final: the message is
// parked in the dead-letter store, never redelivered.
type Handler func(context.Context, domain.QueueMessage) error

// Producer pushes work items to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer delivers each work item to exactly one handler call.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}
