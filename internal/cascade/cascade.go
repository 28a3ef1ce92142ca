package cascade

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ErrEmpty marks a tier that returned without error but produced nothing usable.
var ErrEmpty = errors.New("tier produced no content")

// ErrExhausted is returned by Run when no tier succeeded.
var ErrExhausted = errors.New("all tiers failed")

// Tier is one strategy in an ordered fallback chain.
type Tier[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
	// Usable decides whether a value counts as success. Nil accepts any value.
	Usable func(T) bool
}

// Outcome describes which tier produced the value and what the others reported.
type Outcome struct {
	Tier     string
	Failures []TierFailure
}

type TierFailure struct {
	Tier string
	Err  error
}

// Run tries tiers in order and returns the first usable value. Tier errors
// and panics are logged and swallowed; only exhaustion is reported.
func Run[T any](ctx context.Context, logger *log.Logger, tiers []Tier[T]) (T, Outcome, error) {
	var (
		zero    T
		outcome Outcome
	)
	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			outcome.Failures = append(outcome.Failures, TierFailure{Tier: tier.Name, Err: err})
			break
		}

		value, err := runTier(ctx, tier)
		if err == nil && tier.Usable != nil && !tier.Usable(value) {
			err = ErrEmpty
		}
		if err != nil {
			outcome.Failures = append(outcome.Failures, TierFailure{Tier: tier.Name, Err: err})
			if logger != nil {
				logger.Printf("cascade tier failed tier=%s err=%v", tier.Name, err)
			}
			continue
		}

		outcome.Tier = tier.Name
		return value, outcome, nil
	}
	return zero, outcome, ErrExhausted
}

func runTier[T any](ctx context.Context, tier Tier[T]) (value T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("tier %s panicked: %v", tier.Name, recovered)
		}
	}()
	if tier.Run == nil {
		return value, fmt.Errorf("tier %s has no runner", tier.Name)
	}
	return tier.Run(ctx)
}
