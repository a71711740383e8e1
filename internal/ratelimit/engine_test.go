package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tally/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCounter is an in-memory Counter that can be told to fail, standing in
// for the shared store in engine tests.
type stubCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newStubCounter() *stubCounter {
	return &stubCounter{counts: make(map[string]int64)}
}

func (s *stubCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	s.counts[key]++
	return s.counts[key], window, nil
}

func (s *stubCounter) count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

func testPolicies() models.RateLimitConfig {
	return models.RateLimitConfig{
		Enabled: true,
		Policies: map[string]models.RateLimitPolicy{
			"comment-create": {Enabled: true, Window: time.Minute, PerUser: 3, PerIP: 6},
			"like-toggle":    {Enabled: false, Window: time.Minute, PerUser: 1, PerIP: 1},
			"search-query":   {Enabled: true, Window: time.Minute, PerUser: 0, PerIP: 2},
		},
	}
}

func TestEngineAllowsUnderLimit(t *testing.T) {
	store := newStubCounter()
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	subjects := Subjects{UserID: "user-1", IP: "10.0.0.1"}
	for i := 0; i < 3; i++ {
		decision := engine.Check(context.Background(), "comment", "create", subjects)
		assert.True(t, decision.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, BackendRemote, decision.Backend)
		assert.True(t, decision.ResetAt.After(time.Now()), "charged decisions carry the window end")
	}
}

func TestEngineDeniesOverLimit(t *testing.T) {
	store := newStubCounter()
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	subjects := Subjects{UserID: "user-1", IP: "10.0.0.1"}
	for i := 0; i < 3; i++ {
		require.True(t, engine.Check(context.Background(), "comment", "create", subjects).Allowed)
	}

	decision := engine.Check(context.Background(), "comment", "create", subjects)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DimensionUser, decision.Dimension)
	assert.Equal(t, 3, decision.Limit)
	assert.Equal(t, 0, decision.Remaining)

	retryAfter := decision.RetryAfterSeconds()
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestEngineDenialDoesNotChargeLaterDimensions(t *testing.T) {
	store := newStubCounter()
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	subjects := Subjects{UserID: "user-1", IP: "10.0.0.1"}
	for i := 0; i < 4; i++ {
		engine.Check(context.Background(), "comment", "create", subjects)
	}

	// Three allowed requests charged both dimensions; the fourth was denied
	// on the user dimension before reaching the IP counter.
	assert.Equal(t, int64(4), store.count(Key("comment", "create", DimensionUser, "user-1")))
	assert.Equal(t, int64(3), store.count(Key("comment", "create", DimensionIP, "10.0.0.1")))
}

func TestEngineSkipsEmptyAndZeroLimitDimensions(t *testing.T) {
	store := newStubCounter()
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	// search-query has PerUser=0, so only the IP dimension counts.
	decision := engine.Check(context.Background(), "search", "query", Subjects{UserID: "user-1", IP: "10.0.0.1"})
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), store.count(Key("search", "query", DimensionUser, "user-1")))
	assert.Equal(t, int64(1), store.count(Key("search", "query", DimensionIP, "10.0.0.1")))

	// An anonymous request with no IP either touches nothing.
	decision = engine.Check(context.Background(), "search", "query", Subjects{})
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, decision.Limit)
}

func TestEngineDisabledIsNoOp(t *testing.T) {
	cfg := testPolicies()
	cfg.Enabled = false
	store := newStubCounter()
	local := NewLocalCounter()
	engine := NewEngine(store, local, cfg)

	decision := engine.Check(context.Background(), "comment", "create", Subjects{UserID: "user-1", IP: "10.0.0.1"})
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), store.count(Key("comment", "create", DimensionUser, "user-1")))
	_, ok := local.Peek(Key("comment", "create", DimensionUser, "user-1"))
	assert.False(t, ok, "disabled engine should not touch any counter")
}

func TestEnginePolicyDisabledIsNoOp(t *testing.T) {
	store := newStubCounter()
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	decision := engine.Check(context.Background(), "like", "toggle", Subjects{UserID: "user-1", IP: "10.0.0.1"})
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), store.count(Key("like", "toggle", DimensionUser, "user-1")))
}

func TestEngineUnknownClassFailsOpen(t *testing.T) {
	store := newStubCounter()
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	decision := engine.Check(context.Background(), "unknown", "op", Subjects{UserID: "user-1"})
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), store.count(Key("unknown", "op", DimensionUser, "user-1")))
}

func TestEngineFallsBackWhenStoreFails(t *testing.T) {
	store := newStubCounter()
	store.err = errors.New("connection refused")
	engine := NewEngine(store, NewLocalCounter(), testPolicies())

	subjects := Subjects{UserID: "user-1"}
	for i := 0; i < 3; i++ {
		decision := engine.Check(context.Background(), "comment", "create", subjects)
		assert.True(t, decision.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, BackendLocal, decision.Backend, "failed store should downgrade to local counting")
	}

	decision := engine.Check(context.Background(), "comment", "create", subjects)
	assert.False(t, decision.Allowed)
	assert.Equal(t, BackendLocal, decision.Backend)
	assert.GreaterOrEqual(t, decision.RetryAfterSeconds(), 1)
}

func TestEngineNilRemoteUsesLocal(t *testing.T) {
	engine := NewEngine(nil, NewLocalCounter(), testPolicies())

	decision := engine.Check(context.Background(), "comment", "create", Subjects{UserID: "user-1"})
	assert.True(t, decision.Allowed)
	assert.Equal(t, BackendLocal, decision.Backend)
}

func TestKeyDistinctSubjects(t *testing.T) {
	a := Key("comment", "create", DimensionUser, "user-1")
	b := Key("comment", "create", DimensionUser, "user-2")
	c := Key("comment", "create", DimensionIP, "user-1")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDecisionRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		expected int
	}{
		{"allowed returns zero", Decision{Allowed: true, RetryAfter: time.Minute}, 0},
		{"denied rounds up", Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, 2},
		{"denied clamps to one", Decision{Allowed: false, RetryAfter: 10 * time.Millisecond}, 1},
		{"denied zero clamps to one", Decision{Allowed: false, RetryAfter: 0}, 1},
		{"denied exact seconds", Decision{Allowed: false, RetryAfter: 42 * time.Second}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.decision.RetryAfterSeconds())
		})
	}
}
