package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

const (
	DefaultStoreTimeout = 50 * time.Millisecond
	// admissionCost é fixo: uma requisição consome um token.
	admissionCost = 1
)

// Gate concentra a regra de aplicação do admission control.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Admit nunca retorna erro: falhas do store distribuído viram decisões locais.
type Gate struct {
	Router   *ClassRouter
	Resolver KeyResolver
	Policies domain.PolicySet

	Distributed domain.BucketStore
	Local       domain.BucketStore

	// Breaker é opcional. Aberto, o gate vai direto ao store local.
	Breaker  domain.Breaker
	Observer domain.Observer
	Logger   *slog.Logger

	// AnonymousTiers valem só para chaves de escopo ip, somados aos tiers da classe.
	AnonymousTiers []domain.BandwidthTier

	// StoreTimeout limita cada chamada ao store distribuído (padrão 50ms).
	StoreTimeout time.Duration

	degradedLog rate.Sometimes
	missingLog  rate.Sometimes
}

// GateOption ajusta um Gate em NewGate.
type GateOption func(*Gate)

func WithBreaker(b domain.Breaker) GateOption {
	return func(g *Gate) { g.Breaker = b }
}

func WithObserver(o domain.Observer) GateOption {
	return func(g *Gate) { g.Observer = o }
}

func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.Logger = l }
}

func WithStoreTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.StoreTimeout = d }
}

// WithAnonymousTiers aplica um teto extra a chamadores sem identidade autenticada.
func WithAnonymousTiers(tiers ...domain.BandwidthTier) GateOption {
	return func(g *Gate) { g.AnonymousTiers = append([]domain.BandwidthTier(nil), tiers...) }
}

func WithResolver(r KeyResolver) GateOption {
	return func(g *Gate) { g.Resolver = r }
}

func NewGate(router *ClassRouter, policies domain.PolicySet, distributed, local domain.BucketStore, opts ...GateOption) *Gate {
	g := &Gate{
		Router:       router,
		Policies:     policies,
		Distributed:  distributed,
		Local:        local,
		StoreTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.Logger == nil {
		g.Logger = slog.Default()
	}
	// no máximo um aviso a cada 10s por tipo
	g.degradedLog = rate.Sometimes{First: 1, Interval: 10 * time.Second}
	g.missingLog = rate.Sometimes{First: 1, Interval: 10 * time.Second}
	return g
}

// Admit decide se a requisição (identity, method, path) passa.
func (g *Gate) Admit(ctx context.Context, id *domain.Identity, method, path string) domain.Decision {
	start := time.Now()

	class, ok := g.Router.Classify(method, path)
	if !ok {
		return domain.Decision{Admitted: true, Source: domain.SourceBypass}
	}

	policy, ok := g.Policies.Lookup(class)
	if !ok {
		g.missingLog.Do(func() {
			g.logger().Error("ratelimit: operation class has no policy, denying", "class", class)
		})
		dec := domain.Decision{
			OperationClass: class,
			RetryAfter:     time.Second,
			Source:         domain.SourceMisconfigured,
		}
		g.observe(dec, start)
		return dec
	}

	key := g.Resolver.Resolve(id, class)
	if policy.Shared() {
		key = g.Resolver.ResolveShared(class)
	}
	if key.Scope() == domain.ScopeIP {
		policy = policy.WithTiers(g.AnonymousTiers...)
	}

	dec, err := g.consumeDistributed(ctx, key, policy)
	if err != nil {
		dec = g.consumeLocal(ctx, key, policy, err)
	}
	dec.Key = key
	dec.OperationClass = class
	g.observe(dec, start)
	return dec
}

func (g *Gate) consumeDistributed(ctx context.Context, key domain.Key, policy domain.BucketPolicy) (domain.Decision, error) {
	if g.Distributed == nil {
		return domain.Decision{}, fmt.Errorf("ratelimit: no distributed store: %w", domain.ErrStoreUnavailable)
	}
	if g.Breaker != nil && !g.Breaker.Allow() {
		return domain.Decision{}, domain.ErrCircuitOpen
	}

	timeout := g.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	// o consumo não deve ser abandonado no meio por cancelamento do cliente
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	dec, err := g.Distributed.TryConsume(sctx, key, policy, admissionCost)
	if g.Breaker != nil {
		if err != nil {
			g.Breaker.OnFailure()
		} else {
			g.Breaker.OnSuccess()
		}
	}
	if err != nil {
		return domain.Decision{}, err
	}
	dec.Source = domain.SourceDistributed
	return dec, nil
}

func (g *Gate) consumeLocal(ctx context.Context, key domain.Key, policy domain.BucketPolicy, cause error) domain.Decision {
	if g.Observer != nil {
		g.Observer.ObserveFallback(policy.OperationClass(), cause)
	}
	if !errors.Is(cause, domain.ErrCircuitOpen) {
		g.degradedLog.Do(func() {
			g.logger().Warn("ratelimit: distributed store unavailable, using local fallback",
				"class", policy.OperationClass(), "err", cause)
		})
	}

	// sem fallback utilizável a negação é conservadora: falha interna não libera tráfego
	if g.Local == nil {
		return domain.Decision{RetryAfter: time.Second, Source: domain.SourceLocal}
	}
	dec, err := g.Local.TryConsume(context.WithoutCancel(ctx), key, policy, admissionCost)
	if err != nil {
		g.logger().Error("ratelimit: local fallback failed", "key", string(key), "err", err)
		return domain.Decision{RetryAfter: time.Second, Source: domain.SourceLocal}
	}
	dec.Source = domain.SourceLocal
	return dec
}

func (g *Gate) observe(dec domain.Decision, start time.Time) {
	if g.Observer != nil {
		g.Observer.ObserveDecision(dec, time.Since(start))
	}
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}
