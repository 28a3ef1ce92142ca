package ai

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      *log.Logger
}

// BreakerGenerator stops calling a backend that keeps failing so queued jobs
// fall through to the summary stub without waiting on every retry.
type BreakerGenerator struct {
	next    TextGenerator
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next TextGenerator, config BreakerConfig) *BreakerGenerator {
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	threshold := config.ConsecutiveFailures
	logger := config.Logger

	settings := gobreaker.Settings{
		Name:        next.Backend().Name,
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Printf("llm breaker state change backend=%s from=%s to=%s", name, from, to)
			}
		},
	}
	return &BreakerGenerator{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerGenerator) Backend() Backend {
	return b.next.Backend()
}

func (b *BreakerGenerator) Available() bool {
	return b.next.Available()
}

func (b *BreakerGenerator) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	value, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, request)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return GenerateResult{}, errors.Join(ErrProviderUnavailable, err)
		}
		return GenerateResult{}, err
	}
	return value.(GenerateResult), nil
}

// countsAsOutage separates backend outages from request problems such as a
// rejected prompt or a caller cancelling its context.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrProviderUnavailable) {
		return false
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableProviderError(httpErr) || httpErr.StatusCode == 401 || httpErr.StatusCode == 403
	}
	return true
}
