package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Admitter é o que o middleware precisa do gate (application.Gate implementa).
type Admitter interface {
	Admit(ctx context.Context, id *domain.Identity, method, path string) domain.Decision
}

const DefaultStatsTimeout = 50 * time.Millisecond

type Options struct {
	Gate Admitter
	// Exempt são caminhos que nunca passam pelo gate (health, readiness, métricas).
	Exempt []domain.PathPattern

	IdentityFn    IdentityFunc
	SubjectHeader string

	Stats domain.StatsStore
	// StatsTimeout limita cada Record; estatística nunca segura a requisição (padrão 50ms).
	StatsTimeout time.Duration
	// AddRateLimitHeaders adiciona X-RateLimit-Key (debug). Desligado por padrão.
	AddRateLimitHeaders bool
	RejectStatus        int

	Logger *slog.Logger
	Now    func() time.Time
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = DefaultIdentityFunc(opts.SubjectHeader)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = DefaultStatsTimeout
	}

	return func(next http.Handler) http.Handler {
		if opts.Gate == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r, opts.Exempt) {
				next.ServeHTTP(w, r)
				return
			}

			dec := opts.Gate.Admit(r.Context(), opts.IdentityFn(r), r.Method, r.URL.Path)
			if dec.Source == domain.SourceBypass {
				next.ServeHTTP(w, r)
				return
			}

			if opts.Stats != nil {
				ev := domain.StatsEventFor(dec, r.Method, r.URL.Path, opts.Now())
				recordStats(r.Context(), opts, ev)
			}
			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", string(dec.Key))
			}

			if !dec.Admitted {
				opts.Logger.Info("ratelimit: request rejected",
					"class", dec.OperationClass,
					"key", string(dec.Key),
					"source", string(dec.Source),
					"retry_after", dec.RetryAfter,
					"request_id", RequestIDFrom(r.Context()),
				)
				writeRejection(w, r, opts.RejectStatus, dec, opts.Now())
				return
			}

			w.Header().Set("X-RateLimit-Remaining", formatUint(dec.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

func exempt(r *http.Request, patterns []domain.PathPattern) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	for _, p := range patterns {
		if p.Match(r.URL.Path) {
			return true
		}
	}
	return false
}

func recordStats(parent context.Context, opts Options, ev domain.StatsEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), opts.StatsTimeout)
	defer cancel()
	if err := opts.Stats.Record(ctx, ev); err != nil {
		opts.Logger.Debug("ratelimit: stats record failed", "err", err)
	}
}
