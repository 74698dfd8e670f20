package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBuckets é um BucketStore em memória com falha injetável.
type memBuckets struct {
	mu     sync.Mutex
	now    time.Time
	states map[domain.Key]domain.BucketState
	err    error
	calls  int
	// estado do último ctx recebido
	hadDeadline bool
	wasCanceled bool
}

func newMemBuckets() *memBuckets {
	return &memBuckets{now: time.Unix(1_700_000_000, 0), states: map[domain.Key]domain.BucketState{}}
}

func (m *memBuckets) TryConsume(ctx context.Context, key domain.Key, p domain.BucketPolicy, cost uint64) (domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	_, m.hadDeadline = ctx.Deadline()
	m.wasCanceled = ctx.Err() != nil
	if m.err != nil {
		return domain.Decision{}, m.err
	}
	st, ok := m.states[key]
	if !ok {
		st = domain.FullState(p, m.now)
	}
	next, dec := domain.Evaluate(st, p, cost, m.now)
	if dec.Admitted {
		m.states[key] = next
	}
	return dec, nil
}

type recObserver struct {
	mu        sync.Mutex
	decisions []domain.Decision
	fallbacks []error
}

func (o *recObserver) ObserveDecision(dec domain.Decision, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, dec)
}

func (o *recObserver) ObserveFallback(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, err)
}

type stubBreaker struct {
	open               bool
	successes, failure int
}

func (b *stubBreaker) Allow() bool { return !b.open }
func (b *stubBreaker) OnSuccess() { b.successes++ }
func (b *stubBreaker) OnFailure() { b.failure++ }

func testGate(t *testing.T, dist, local domain.BucketStore, opts ...GateOption) *Gate {
	t.Helper()
	auth, err := domain.NewPolicy("auth", []domain.BandwidthTier{domain.MustTier(5, 5, time.Minute)})
	require.NoError(t, err)
	global, err := domain.NewPolicy("ai-generation", []domain.BandwidthTier{domain.MustTier(2, 2, time.Minute)}, domain.WithShared(true))
	require.NoError(t, err)
	set, err := domain.NewPolicySet(auth, global)
	require.NoError(t, err)

	router := NewClassRouter(
		route(t, "/auth/**", "auth"),
		route(t, "/ai/**", "ai-generation"),
		route(t, "/orphan/**", "no-such-class"),
	)
	opts = append([]GateOption{WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}, opts...)
	return NewGate(router, set, dist, local, opts...)
}

func TestGate_BypassUnmatched(t *testing.T) {
	dist := newMemBuckets()
	g := testGate(t, dist, nil)

	dec := g.Admit(context.Background(), &domain.Identity{RemoteAddr: "10.0.0.1:1"}, "GET", "/healthz")
	assert.True(t, dec.Admitted)
	assert.Equal(t, domain.SourceBypass, dec.Source)
	assert.Zero(t, dist.calls)
}

func TestGate_AuthBudget(t *testing.T) {
	g := testGate(t, newMemBuckets(), nil)
	id := &domain.Identity{RemoteAddr: "10.0.0.1:1"}

	for want := uint64(4); ; want-- {
		dec := g.Admit(context.Background(), id, "POST", "/auth/login")
		require.True(t, dec.Admitted)
		require.Equal(t, want, dec.Remaining)
		require.Equal(t, domain.SourceDistributed, dec.Source)
		require.Equal(t, "auth", dec.OperationClass)
		require.Equal(t, domain.Key("ip:10.0.0.1:auth"), dec.Key)
		if want == 0 {
			break
		}
	}
	dec := g.Admit(context.Background(), id, "POST", "/auth/login")
	assert.False(t, dec.Admitted)
	assert.Greater(t, dec.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, dec.RetryAfter, time.Minute)

	// outra identidade não é afetada
	other := g.Admit(context.Background(), &domain.Identity{RemoteAddr: "10.0.0.2:1"}, "POST", "/auth/login")
	assert.True(t, other.Admitted)
}

func TestGate_SharedPolicyUsesGlobalKey(t *testing.T) {
	g := testGate(t, newMemBuckets(), nil)

	a := g.Admit(context.Background(), &domain.Identity{Subject: "alice"}, "POST", "/ai/gen")
	b := g.Admit(context.Background(), &domain.Identity{Subject: "bob"}, "POST", "/ai/gen")
	c := g.Admit(context.Background(), &domain.Identity{Subject: "carol"}, "POST", "/ai/gen")

	assert.Equal(t, domain.Key("global:*:ai-generation"), a.Key)
	assert.True(t, a.Admitted)
	assert.True(t, b.Admitted)
	assert.False(t, c.Admitted)
}

func TestGate_AnonymousTiersOnlyForIPKeys(t *testing.T) {
	g := testGate(t, newMemBuckets(), nil, WithAnonymousTiers(domain.MustTier(2, 2, time.Minute)))

	anon := &domain.Identity{RemoteAddr: "10.0.0.9:1"}
	for i := 0; i < 2; i++ {
		dec := g.Admit(context.Background(), anon, "POST", "/auth/login")
		require.True(t, dec.Admitted)
	}
	dec := g.Admit(context.Background(), anon, "POST", "/auth/login")
	assert.False(t, dec.Admitted, "anonymous tier caps the ip key below the class budget")
	assert.Equal(t, domain.Key("ip:10.0.0.9:auth"), dec.Key)

	user := &domain.Identity{Subject: "alice", RemoteAddr: "10.0.0.9:1"}
	for want := uint64(4); want >= 2; want-- {
		dec := g.Admit(context.Background(), user, "POST", "/auth/login")
		require.True(t, dec.Admitted)
		require.Equal(t, want, dec.Remaining, "authenticated callers use only the class tiers")
	}
}

func TestGate_MissingPolicyDenies(t *testing.T) {
	obs := &recObserver{}
	g := testGate(t, newMemBuckets(), nil, WithObserver(obs))

	dec := g.Admit(context.Background(), nil, "GET", "/orphan/x")
	assert.False(t, dec.Admitted)
	assert.Equal(t, domain.SourceMisconfigured, dec.Source)
	assert.Equal(t, "no-such-class", dec.OperationClass)
	assert.Positive(t, dec.RetryAfter)
	require.Len(t, obs.decisions, 1)
}

func TestGate_FallbackOnStoreError(t *testing.T) {
	dist := newMemBuckets()
	dist.err = &domain.StoreUnavailableError{Op: "load", Err: errors.New("connection refused")}
	local := newMemBuckets()
	obs := &recObserver{}
	g := testGate(t, dist, local, WithObserver(obs))

	dec := g.Admit(context.Background(), &domain.Identity{Subject: "alice"}, "POST", "/auth/login")
	assert.True(t, dec.Admitted)
	assert.Equal(t, domain.SourceLocal, dec.Source)
	assert.Equal(t, uint64(4), dec.Remaining)
	assert.Equal(t, 1, local.calls)

	require.Len(t, obs.fallbacks, 1)
	assert.ErrorIs(t, obs.fallbacks[0], domain.ErrStoreUnavailable)
	require.Len(t, obs.decisions, 1)
	assert.Equal(t, domain.SourceLocal, obs.decisions[0].Source)
}

func TestGate_LocalFallbackEnforcesBudget(t *testing.T) {
	dist := newMemBuckets()
	dist.err = errors.New("timeout")
	g := testGate(t, dist, newMemBuckets())
	id := &domain.Identity{Subject: "alice"}

	for i := 0; i < 5; i++ {
		require.True(t, g.Admit(context.Background(), id, "POST", "/auth/login").Admitted)
	}
	dec := g.Admit(context.Background(), id, "POST", "/auth/login")
	assert.False(t, dec.Admitted)
	assert.Equal(t, domain.SourceLocal, dec.Source)
}

func TestGate_NoLocalDeniesConservatively(t *testing.T) {
	dist := newMemBuckets()
	dist.err = errors.New("down")
	g := testGate(t, dist, nil)

	dec := g.Admit(context.Background(), nil, "POST", "/auth/login")
	assert.False(t, dec.Admitted)
	assert.Equal(t, domain.SourceLocal, dec.Source)
	assert.Equal(t, time.Second, dec.RetryAfter)
}

func TestGate_StoreContextDetachedAndBounded(t *testing.T) {
	dist := newMemBuckets()
	g := testGate(t, dist, nil, WithStoreTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := g.Admit(ctx, nil, "POST", "/auth/login")
	assert.True(t, dec.Admitted)
	assert.Equal(t, domain.SourceDistributed, dec.Source)
	assert.True(t, dist.hadDeadline)
	assert.False(t, dist.wasCanceled)
}

func TestGate_BreakerOpenGoesLocal(t *testing.T) {
	dist := newMemBuckets()
	local := newMemBuckets()
	br := &stubBreaker{open: true}
	obs := &recObserver{}
	g := testGate(t, dist, local, WithBreaker(br), WithObserver(obs))

	dec := g.Admit(context.Background(), nil, "POST", "/auth/login")
	assert.Equal(t, domain.SourceLocal, dec.Source)
	assert.Zero(t, dist.calls)
	assert.Equal(t, 1, local.calls)
	require.Len(t, obs.fallbacks, 1)
	assert.ErrorIs(t, obs.fallbacks[0], domain.ErrCircuitOpen)
}

func TestGate_BreakerFeedback(t *testing.T) {
	dist := newMemBuckets()
	br := &stubBreaker{}
	g := testGate(t, dist, newMemBuckets(), WithBreaker(br))

	g.Admit(context.Background(), nil, "POST", "/auth/login")
	assert.Equal(t, 1, br.successes)

	dist.err = errors.New("down")
	g.Admit(context.Background(), nil, "POST", "/auth/login")
	assert.Equal(t, 1, br.failure)
}
