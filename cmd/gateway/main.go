package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	policyconfig "admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.logFormat, cfg.logLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	settings := policyconfig.Default(cfg.strictMode)
	if cfg.policyFile != "" {
		// política inválida é fatal: não sobe com limites errados
		if settings, err = policyconfig.Load(cfg.policyFile); err != nil {
			return err
		}
	}
	if len(cfg.exemptPaths) > 0 {
		extra, err := policyconfig.ParsePatterns(cfg.exemptPaths, "EXEMPT_PATHS")
		if err != nil {
			return err
		}
		settings.Exempt = append(settings.Exempt, extra...)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "err", err, "request_id", ratelimit.RequestIDFrom(r.Context()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.redisAddr,
		Password:     cfg.redisPassword,
		DB:           cfg.redisDB,
		DialTimeout:  time.Second,
		ReadTimeout:  cfg.storeTimeout,
		WriteTimeout: cfg.storeTimeout,
		// uma tentativa só: o gate já tem fallback e timeout próprios
		MaxRetries: -1,
	})
	defer func() { _ = rdb.Close() }()

	state := infra.NewRedisStateStore(rdb, infra.WithStatePrefix(cfg.redisPrefix))
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := state.Ping(pingCtx); err != nil {
		// sobe mesmo assim; o gate opera com o store local até o Redis voltar
		logger.Warn("redis ping failed, starting in degraded mode", "addr", cfg.redisAddr, "err", err)
	}
	cancel()

	distributed := infra.NewDistributedBucketStore(state,
		infra.WithStateIdleTTL(cfg.stateIdleTTL),
		infra.WithCASMaxAttempts(cfg.casMaxAttempts),
		infra.WithConflictHook(metrics.CASConflict),
		infra.WithLatencyHook(metrics.StoreLatency),
	)
	local := infra.NewLocalFallbackStore(
		infra.WithIdleTTL(cfg.stateIdleTTL),
		infra.WithCleanupEvery(cfg.localCleanupEvery),
	)

	opts := []application.GateOption{
		application.WithResolver(application.KeyResolver{TrustForwardedFor: cfg.trustXFF}),
		application.WithAnonymousTiers(settings.Anonymous...),
		application.WithStoreTimeout(cfg.storeTimeout),
		application.WithObserver(metrics),
		application.WithLogger(logger),
	}
	if cfg.breakerFailures > 0 {
		opts = append(opts, application.WithBreaker(infra.NewCircuitBreaker(infra.BreakerOptions{
			FailureThreshold: cfg.breakerFailures,
			OpenDuration:     cfg.breakerOpen,
		})))
	}
	gate := application.NewGate(settings.Router, settings.Policies, distributed, local, opts...)

	var statsStore domain.StatsStore
	if cfg.rateStatsEnabled {
		statsRDB := rdb
		if cfg.rateStatsRedisAddr != "" && cfg.rateStatsRedisAddr != cfg.redisAddr {
			statsRDB = redis.NewClient(&redis.Options{
				Addr:         cfg.rateStatsRedisAddr,
				Password:     cfg.rateStatsRedisPassword,
				DB:           cfg.rateStatsRedisDB,
				DialTimeout:  time.Second,
				ReadTimeout:  cfg.rateStatsTimeout,
				WriteTimeout: cfg.rateStatsTimeout,
				MaxRetries:   -1,
			})
			defer func() { _ = statsRDB.Close() }()
		}
		statsStore = infra.NewRedisStatsStore(
			statsRDB,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	local.StartJanitor(ctx)

	h := http.Handler(proxy)
	if cfg.rateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Gate:                gate,
			Exempt:              settings.Exempt,
			SubjectHeader:       cfg.subjectHeader,
			Stats:               statsStore,
			StatsTimeout:        cfg.rateStatsTimeout,
			AddRateLimitHeaders: cfg.addHeaders,
			Logger:              logger,
		})(h)
	}
	h = ratelimit.RequestID(h)

	srv := newServer(cfg.listenAddr, h)
	servers := []*http.Server{srv}
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, newServer(cfg.metricsAddr, mux))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(shutdownCtx)
		}
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("admission",
		"enabled", cfg.rateEnabled,
		"policy_file", cfg.policyFile,
		"classes", settings.Policies.Classes(),
		"redis_addr", cfg.redisAddr,
		"store_timeout", cfg.storeTimeout,
		"trust_xff", cfg.trustXFF,
		"breaker_failures", cfg.breakerFailures,
	)
	logger.Info("rate-stats", "enabled", cfg.rateStatsEnabled, "bucket", cfg.rateStatsBucket, "ttl", cfg.rateStatsTTL, "track_keys", cfg.rateStatsTrackKeys)

	errc := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("server %s: %w", s.Addr, err)
				return
			}
			errc <- nil
		}(s)
	}
	for range servers {
		if err := <-errc; err != nil {
			stop()
			return err
		}
	}
	return nil
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
