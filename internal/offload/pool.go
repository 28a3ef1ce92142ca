package offload

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking jobs (headless browsers, yt-dlp, uploads)
// run at once. Callers get a Future and stay free to observe cancellation.
type Pool struct {
	sem *semaphore.Weighted
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Await blocks until the job finishes or ctx is done. The job itself keeps
// its own context and is not interrupted by an abandoned Await.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit schedules fn on the pool. Acquiring a slot honours ctx.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	future := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(future.done)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			future.err = err
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if recovered := recover(); recovered != nil {
				future.err = fmt.Errorf("offloaded job panicked: %v", recovered)
			}
		}()
		future.value, future.err = fn(ctx)
	}()
	return future
}

// Do is Submit followed by Await.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	return Submit(ctx, p, fn).Await(ctx)
}
