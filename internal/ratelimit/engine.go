package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/models"
)

// Engine computes allow/deny decisions per (resource class, action, subject)
// against the shared counter store, degrading to the local fallback when the
// store is unavailable. Store failures are never surfaced to callers.
type Engine struct {
	remote   Counter // nil when no counter store is configured
	local    *LocalCounter
	enabled  bool
	policies map[string]models.RateLimitPolicy
}

// NewEngine builds an engine from the configured policy table. remote may be
// nil, in which case every check runs against the local counter.
func NewEngine(remote Counter, local *LocalCounter, cfg models.RateLimitConfig) *Engine {
	if local == nil {
		local = NewLocalCounter()
	}
	return &Engine{
		remote:   remote,
		local:    local,
		enabled:  cfg.Enabled,
		policies: cfg.Policies,
	}
}

// Key builds the counter key for one dimension of a check. Distinct subjects
// never collide because the subject id is the final segment.
func Key(resourceClass, action string, dim Dimension, id string) string {
	return fmt.Sprintf("%s:%s:%s:%s", resourceClass, action, dim, id)
}

// Check charges each present dimension in order (user first, then IP) and
// returns the first denial, or the last allowed decision. When a dimension
// denies, later dimensions are not charged, so a rejected request spends
// quota on at most one axis past the denying one.
//
// Disabled limiting (globally, per class, or an unknown class) is a no-op
// fast path: no counter is touched and the decision is allowed.
func (e *Engine) Check(ctx context.Context, resourceClass, action string, subjects Subjects) Decision {
	if !e.enabled {
		return Decision{Allowed: true}
	}

	policyKey := resourceClass + "-" + action
	policy, ok := e.policies[policyKey]
	if !ok {
		// Fail open: an unregistered class is a wiring bug upstream, not a
		// reason to reject user traffic.
		slog.Warn("rate limit check for unknown resource class", "resource_class", policyKey)
		return Decision{Allowed: true}
	}
	if !policy.Enabled {
		return Decision{Allowed: true}
	}

	decision := Decision{Allowed: true}
	for _, dim := range checkOrder {
		id, limit := subjectFor(dim, subjects, policy)
		if id == "" || limit <= 0 {
			continue
		}

		key := Key(resourceClass, action, dim, id)
		count, ttl, backend := e.incr(ctx, key, policy.Window)

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}

		decision = Decision{
			Allowed:   count <= int64(limit),
			Backend:   backend,
			Dimension: dim,
			Limit:     limit,
			Remaining: remaining,
			ResetAt:   time.Now().Add(ttl),
		}

		if !decision.Allowed {
			decision.RetryAfter = ttl
			return decision
		}
	}

	return decision
}

// incr charges the remote counter, downgrading to the local fallback on any
// store failure. The downgrade happens at most once per call; there is no
// retry against the store itself.
func (e *Engine) incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, Backend) {
	if e.remote != nil {
		count, ttl, err := e.remote.Incr(ctx, key, window)
		if err == nil {
			return count, ttl, BackendRemote
		}
		slog.Warn("counter store unavailable, using local fallback", "key", key, "error", err)
	}

	w := e.local.Increment(key, window)
	ttl := time.Until(w.ResetAt)
	if ttl < 0 {
		ttl = 0
	}
	return w.Count, ttl, BackendLocal
}

func subjectFor(dim Dimension, subjects Subjects, policy models.RateLimitPolicy) (string, int) {
	switch dim {
	case DimensionUser:
		return subjects.UserID, policy.PerUser
	case DimensionIP:
		return subjects.IP, policy.PerIP
	}
	return "", 0
}
