// Package ratelimit provides distributed sliding-window rate limiting for the
// blog platform's mutating endpoints. Counters live in Redis so that limits
// hold across service replicas; when Redis is unreachable the engine degrades
// to an in-process fallback counter rather than failing requests.
package ratelimit

import (
	"context"
	"time"
)

// Backend identifies which counter store produced a decision.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// Dimension is one axis a limit is enforced on.
type Dimension string

const (
	DimensionUser Dimension = "user"
	DimensionIP   Dimension = "ip"
)

// checkOrder fixes the order dimensions are charged in. User quota is spent
// before IP quota so that an IP-level denial does not consume the user's
// allowance. The ordering itself is a product decision, kept explicit here.
var checkOrder = []Dimension{DimensionUser, DimensionIP}

// Subjects carries the identities a check is scoped to. Either field may be
// empty; empty dimensions are skipped.
type Subjects struct {
	UserID string
	IP     string
}

// Decision is the result of one rate check. It is produced fresh per call and
// never persisted. ResetAt is set whenever a dimension was charged; RetryAfter
// only when the request is denied.
type Decision struct {
	Allowed    bool
	Backend    Backend
	Dimension  Dimension // dimension that produced the decision
	Limit      int
	Remaining  int
	ResetAt    time.Time // end of the current window
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry hint in whole seconds, rounded up and
// clamped to a minimum of 1 so clients never receive a zero-second hint.
// Returns 0 for allowed decisions.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Counter is a shared counter store with atomic increment and millisecond
// expiry. Implementations must guarantee that Incr is atomic at the store:
// concurrent callers across processes observe a strictly increasing count
// within one window.
type Counter interface {
	// Incr increments the counter for key, starting a new window with the
	// given duration if none exists, and returns the post-increment count
	// together with the remaining window TTL.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Checker is the decision contract consumed by middleware and the check API.
// Implementations must never return an error to callers: infrastructure
// failures downgrade to the local fallback instead.
type Checker interface {
	Check(ctx context.Context, resourceClass, action string, subjects Subjects) Decision
}
