package infra

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	DefaultStateIdleTTL   = 5 * time.Minute
	DefaultCASMaxAttempts = 3
	// DefaultContendedRetryAfter é o Retry-After devolvido quando todas as tentativas de CAS falham.
	DefaultContendedRetryAfter = time.Second
)

// DistributedBucketStore implementa domain.BucketStore sobre um domain.StateStore
// compartilhado, com read-modify-write otimista (compare-and-swap).
//
// Duas instâncias que leem o mesmo estado não conseguem gravar as duas:
// a segunda CAS falha e ela relê. Nenhum token é concedido duas vezes.
type DistributedBucketStore struct {
	state domain.StateStore

	idleTTL     time.Duration
	maxAttempts int
	contended   time.Duration
	now         func() time.Time

	// onConflict é chamado a cada CAS perdida (métrica).
	onConflict func(key domain.Key)
	onLatency  func(op string, d time.Duration)
}

type BucketStoreOption func(*DistributedBucketStore)

// WithStateIdleTTL define quanto tempo uma chave ociosa fica no store.
// O TTL efetivo nunca é menor que o tempo de encher da política.
func WithStateIdleTTL(d time.Duration) BucketStoreOption {
	return func(s *DistributedBucketStore) { s.idleTTL = d }
}

func WithCASMaxAttempts(n int) BucketStoreOption {
	return func(s *DistributedBucketStore) { s.maxAttempts = n }
}

func WithContendedRetryAfter(d time.Duration) BucketStoreOption {
	return func(s *DistributedBucketStore) { s.contended = d }
}

func WithClock(now func() time.Time) BucketStoreOption {
	return func(s *DistributedBucketStore) { s.now = now }
}

func WithConflictHook(fn func(key domain.Key)) BucketStoreOption {
	return func(s *DistributedBucketStore) { s.onConflict = fn }
}

// WithLatencyHook recebe a duração de cada round-trip ("load" ou "cas").
func WithLatencyHook(fn func(op string, d time.Duration)) BucketStoreOption {
	return func(s *DistributedBucketStore) { s.onLatency = fn }
}

func NewDistributedBucketStore(state domain.StateStore, opts ...BucketStoreOption) *DistributedBucketStore {
	s := &DistributedBucketStore{
		state:       state,
		idleTTL:     DefaultStateIdleTTL,
		maxAttempts: DefaultCASMaxAttempts,
		contended:   DefaultContendedRetryAfter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultCASMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TTL é o tempo de vida gravado junto com o estado de uma política.
func (s *DistributedBucketStore) TTL(p domain.BucketPolicy) time.Duration {
	ttl := s.idleTTL
	if full := p.TimeToFull(); full > ttl {
		ttl = full
	}
	return ttl
}

// TryConsume implementa domain.BucketStore.
func (s *DistributedBucketStore) TryConsume(ctx context.Context, key domain.Key, p domain.BucketPolicy, cost uint64) (domain.Decision, error) {
	if cost == 0 {
		cost = 1
	}
	ttl := s.TTL(p)

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		prev, err := s.load(ctx, key)
		if err != nil {
			return domain.Decision{}, err
		}

		now := s.now()
		state := domain.FullState(p, now)
		if prev != nil {
			if err := state.UnmarshalBinary(prev); err != nil {
				return domain.Decision{}, &domain.StoreUnavailableError{Op: "decode", Key: key, Err: err}
			}
		}

		next, dec := domain.Evaluate(state, p, cost, now)
		dec.Key = key
		if !dec.Admitted {
			// negação não grava: o estado continua o mesmo
			return dec, nil
		}

		raw, err := next.MarshalBinary()
		if err != nil {
			return domain.Decision{}, &domain.StoreUnavailableError{Op: "encode", Key: key, Err: err}
		}
		swapped, err := s.cas(ctx, key, prev, raw, ttl)
		if err != nil {
			return domain.Decision{}, err
		}
		if swapped {
			return dec, nil
		}
		if s.onConflict != nil {
			s.onConflict(key)
		}
	}

	return domain.Decision{
		OperationClass: p.OperationClass(),
		Key:            key,
		RetryAfter:     s.contended,
		Contended:      true,
	}, nil
}

func (s *DistributedBucketStore) load(ctx context.Context, key domain.Key) ([]byte, error) {
	start := time.Now()
	raw, err := s.state.Load(ctx, key)
	s.latency("load", start)
	if err != nil {
		return nil, wrapStoreErr("load", key, err)
	}
	return raw, nil
}

func (s *DistributedBucketStore) cas(ctx context.Context, key domain.Key, prev, next []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.state.CompareAndSwap(ctx, key, prev, next, ttl)
	s.latency("cas", start)
	if err != nil {
		return false, wrapStoreErr("cas", key, err)
	}
	return ok, nil
}

func (s *DistributedBucketStore) latency(op string, start time.Time) {
	if s.onLatency != nil {
		s.onLatency(op, time.Since(start))
	}
}

func wrapStoreErr(op string, key domain.Key, err error) error {
	if _, ok := err.(*domain.StoreUnavailableError); ok {
		return err
	}
	return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
}
