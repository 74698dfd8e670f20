package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := config.Default(false)
	local := infra.NewLocalFallbackStore()
	local.StartJanitor(ctx)

	// sem REDIS_ADDR o store local faz os dois papéis (uma instância só)
	var distributed domain.BucketStore = local
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		distributed = infra.NewDistributedBucketStore(infra.NewRedisStateStore(rdb))
	}
	gate := application.NewGate(settings.Router, settings.Policies, distributed, local,
		application.WithAnonymousTiers(settings.Anonymous...),
		application.WithLogger(logger),
	)
	stats := infra.NewMemoryStatsStore()

	r := chi.NewRouter()
	r.Use(ratelimit.RequestID)
	r.Use(demoAuth)
	// X-RateLimit-Key expõe a identidade resolvida; fica desligado fora de debug
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Gate:   gate,
		Exempt: settings.Exempt,
		Stats:  stats,
		Logger: logger,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", ok)
		r.Get("/places/search", ok)
		r.Get("/travel-plans/search", ok)
		r.Post("/travel-plans/generate", ok)
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"total":   stats.Total(),
				"byClass": stats.ByClass(),
			})
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// demoAuth simula a camada de autenticação: X-Demo-User vira o sujeito da requisição.
func demoAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := r.Header.Get("X-Demo-User"); u != "" {
			r = r.WithContext(ratelimit.WithSubject(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
