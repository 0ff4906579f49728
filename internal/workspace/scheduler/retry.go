package scheduler

import (
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
)

// transientMarkers are matched case-insensitively against the failure text.
var transientMarkers = []string{
	"network",
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"temporary",
	"temporarily",
	"unavailable",
}

// ShouldRetry reports whether a failed execution may succeed later.
// Access-control failures need a human and are never retried; a rate
// limit is, since it resets on its own.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := workspace.KindOf(err); ok {
		switch kind {
		case workspace.ErrorRateLimited:
			return true
		case workspace.ErrorNoConnection, workspace.ErrorConnectionInactive, workspace.ErrorExpiredToken,
			workspace.ErrorNoPermission, workspace.ErrorScopeMismatch:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryPolicy computes exponential delays between attempts.
type RetryPolicy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy doubles from one minute up to an hour.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: time.Minute, Max: time.Hour, Multiplier: 2}
}

// Delay returns the wait before retry number attempt (1-based). A provider
// hint (Retry-After, rate-limit reset) wins when it is longer.
func (p RetryPolicy) Delay(attempt int, cause error, now time.Time) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.Reset()

	d := p.Base
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if hint := retryHint(cause, now); hint > d {
		d = hint
	}
	return d
}

func retryHint(err error, now time.Time) time.Duration {
	if err == nil {
		return 0
	}
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	var we *workspace.WorkspaceError
	if errors.As(err, &we) && we.ResetTime != nil {
		if d := we.ResetTime.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
