package infra

import (
	"sync"
	"time"
)

// BreakerState é o estado do circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type BreakerOptions struct {
	// FailureThreshold falhas seguidas abrem o circuito (padrão 5).
	FailureThreshold int
	// OpenDuration é quanto tempo o circuito fica aberto antes de testar de novo (padrão 1s).
	OpenDuration time.Duration
	// HalfOpenMaxCalls limita as chamadas de teste simultâneas (padrão 1).
	HalfOpenMaxCalls int
	Now              func() time.Time
}

// CircuitBreaker implementa domain.Breaker.
//
// Fechado: tudo passa e falhas seguidas são contadas. Aberto: nada passa até OpenDuration.
// Meio-aberto: poucas chamadas de teste; um sucesso fecha, uma falha reabre.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openUntil time.Time
	inFlight  int
	opts      BreakerOptions
}

func NewCircuitBreaker(opts BreakerOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = time.Second
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CircuitBreaker{opts: opts}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.opts.Now().Before(b.openUntil) {
			return false
		}
		b.state = BreakerHalfOpen
		b.inFlight = 1
		return true
	case BreakerHalfOpen:
		if b.inFlight >= b.opts.HalfOpenMaxCalls {
			return false
		}
		b.inFlight++
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) OnSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.inFlight = 0
	}
}

func (b *CircuitBreaker) OnFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		// falha atrasada de uma chamada anterior ao trip não estende openUntil.
		return
	case BreakerHalfOpen:
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.opts.FailureThreshold {
		b.trip()
	}
}

func (b *CircuitBreaker) trip() {
	b.state = BreakerOpen
	b.failures = 0
	b.inFlight = 0
	b.openUntil = b.opts.Now().Add(b.opts.OpenDuration)
}
