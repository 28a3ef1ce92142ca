package quota

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
)

type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

// DemoUserID is the sandbox identity used when callers send no user id.
const DemoUserID = "demo_user"

// Profile is the subscription record behind an external user id.
type Profile struct {
	ID             string
	UserID         string
	Tier           Tier
	MonthlyCredits int
}

// Unlimited reports whether the profile skips the credit check.
func (p Profile) Unlimited() bool {
	return strings.EqualFold(string(p.Tier), string(TierPro))
}

// DemoProfile is returned for DemoUserID when the store has no row for it.
func DemoProfile() Profile {
	return Profile{ID: "demo-uuid-123", UserID: DemoUserID, Tier: TierFree, MonthlyCredits: 50}
}

// Gate decides whether a user may submit another job.
type Gate interface {
	// Check returns the profile when the user is allowed, domain.ErrUserNotFound
	// for unknown users and domain.ErrQuotaExceeded when credits are spent.
	Check(ctx context.Context, userID string) (Profile, error)
	// Record charges one credit for an accepted job.
	Record(ctx context.Context, profile Profile, jobID string) error
}

// Store persists profiles and the usage ledger.
type Store interface {
	FindProfile(ctx context.Context, userID string) (Profile, bool, error)
	CountUsage(ctx context.Context, profileID string) (int, error)
	InsertUsage(ctx context.Context, profileID, jobID string, at time.Time) error
}

type Checker struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

func NewChecker(store Store, logger *log.Logger) *Checker {
	return &Checker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Check counts every usage row of the profile; there is no monthly window.
func (c *Checker) Check(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = DemoUserID
	}

	profile, found, err := c.store.FindProfile(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if !found {
		if userID != DemoUserID {
			return Profile{}, domain.NewError(domain.ErrUserNotFound, "User profile not found")
		}
		profile = DemoProfile()
	}
	if profile.Unlimited() {
		return profile, nil
	}

	used, err := c.store.CountUsage(ctx, profile.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("count usage: %w", err)
	}
	if used >= profile.MonthlyCredits {
		c.logf("quota exceeded user_id=%s used=%d credits=%d", userID, used, profile.MonthlyCredits)
		return Profile{}, domain.NewError(domain.ErrQuotaExceeded, domain.QuotaExceededMessage)
	}
	return profile, nil
}

func (c *Checker) Record(ctx context.Context, profile Profile, jobID string) error {
	if err := c.store.InsertUsage(ctx, profile.ID, jobID, c.now()); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Allow is a gate for deployments without a user store: every caller gets
// the demo profile and nothing is counted.
type Allow struct{}

func (Allow) Check(_ context.Context, userID string) (Profile, error) {
	profile := DemoProfile()
	if trimmed := strings.TrimSpace(userID); trimmed != "" {
		profile.UserID = trimmed
	}
	return profile, nil
}

func (Allow) Record(context.Context, Profile, string) error { return nil }

func (c *Checker) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
