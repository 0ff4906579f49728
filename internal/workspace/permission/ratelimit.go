package permission

import (
	"context"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// RateLimitResult is the outcome of a rate-limit check.
type RateLimitResult struct {
	Allowed           bool      `json:"allowed"`
	RemainingRequests int       `json:"remainingRequests"`
	ResetTime         time.Time `json:"resetTime"`
}

// RateLimiter decides whether an agent may call a capability on a connection now.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, agentID string, capability models.Capability, connectionID string) (RateLimitResult, error)
}

// Unlimited allows every call. No limiting policy has been chosen yet, so
// this is the default; the hook stays in the validation path. Now defaults
// to time.Now; NewService sets it to the service clock.
type Unlimited struct {
	Now func() time.Time
}

func (u Unlimited) CheckRateLimit(_ context.Context, _ string, _ models.Capability, _ string) (RateLimitResult, error) {
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	return RateLimitResult{
		Allowed:           true,
		RemainingRequests: 1000,
		ResetTime:         now().Add(time.Hour),
	}, nil
}
