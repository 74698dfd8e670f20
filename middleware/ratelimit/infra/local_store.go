package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// LocalFallbackStore é o BucketStore em memória usado quando o store compartilhado falha.
//
// Mesmo algoritmo do store distribuído, mas o orçamento é por instância: com N réplicas
// o limite efetivo durante uma queda é até N vezes maior.
type LocalFallbackStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*localEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type localEntry struct {
	state    domain.BucketState
	expireAt time.Time
}

type LocalStoreOption func(*LocalFallbackStore)

func WithIdleTTL(d time.Duration) LocalStoreOption {
	return func(s *LocalFallbackStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LocalStoreOption {
	return func(s *LocalFallbackStore) { s.cleanupEvery = d }
}

func WithLocalClock(now func() time.Time) LocalStoreOption {
	return func(s *LocalFallbackStore) { s.now = now }
}

func NewLocalFallbackStore(opts ...LocalStoreOption) *LocalFallbackStore {
	s := &LocalFallbackStore{
		entries:      make(map[domain.Key]*localEntry),
		idleTTL:      DefaultStateIdleTTL,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalFallbackStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Len é o número de chaves em memória.
func (s *LocalFallbackStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TryConsume implementa domain.BucketStore. Nunca retorna erro.
func (s *LocalFallbackStore) TryConsume(_ context.Context, key domain.Key, p domain.BucketPolicy, cost uint64) (domain.Decision, error) {
	if cost == 0 {
		cost = 1
	}
	ttl := s.idleTTL
	if full := p.TimeToFull(); full > ttl {
		ttl = full
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.expireAt) {
		ent = &localEntry{state: domain.FullState(p, now)}
		s.entries[key] = ent
	}

	next, dec := domain.Evaluate(ent.state, p, cost, now)
	dec.Key = key
	if dec.Admitted {
		ent.state = next
		ent.expireAt = now.Add(ttl)
	} else if ent.expireAt.IsZero() {
		ent.expireAt = now.Add(ttl)
	}
	return dec, nil
}

// Cleanup remove chaves expiradas.
func (s *LocalFallbackStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if !now.Before(ent.expireAt) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *LocalFallbackStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
