package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
)

type config struct {
	listenAddr  string
	upstreamURL string
	metricsAddr string
	logFormat   string
	logLevel    string

	rateEnabled   bool
	policyFile    string
	strictMode    bool
	exemptPaths   []string
	subjectHeader string
	trustXFF      bool
	addHeaders    bool

	redisAddr      string
	redisPassword  string
	redisDB        int
	redisPrefix    string
	storeTimeout   time.Duration
	stateIdleTTL   time.Duration
	casMaxAttempts int

	breakerFailures   int
	breakerOpen       time.Duration
	localCleanupEvery time.Duration

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
	rateStatsTimeout       time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	var env envReader
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.metricsAddr = getenvDefault("METRICS_ADDR", ":9090")
	cfg.logFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.rateEnabled = env.boolean("RATE_ENABLED", true)
	cfg.policyFile = os.Getenv("RATE_POLICY_FILE")
	cfg.strictMode = env.boolean("RATE_STRICT_MODE", false)
	cfg.exemptPaths = getenvList("EXEMPT_PATHS")
	cfg.subjectHeader = os.Getenv("SUBJECT_HEADER")
	cfg.trustXFF = env.boolean("TRUST_XFF", false)
	cfg.addHeaders = env.boolean("ADD_RATELIMIT_HEADERS", false)

	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = env.integer("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "ratelimit")
	cfg.storeTimeout = env.duration("STORE_TIMEOUT", application.DefaultStoreTimeout)
	cfg.stateIdleTTL = env.duration("STATE_IDLE_TTL", infra.DefaultStateIdleTTL)
	cfg.casMaxAttempts = env.integer("CAS_MAX_ATTEMPTS", infra.DefaultCASMaxAttempts)

	cfg.breakerFailures = env.integer("BREAKER_FAILURES", 5)
	cfg.breakerOpen = env.duration("BREAKER_OPEN", time.Second)
	cfg.localCleanupEvery = env.duration("LOCAL_CLEANUP_EVERY", 2*time.Minute)

	cfg.rateStatsEnabled = env.boolean("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = env.integer("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = env.duration("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = env.boolean("RATE_STATS_TRACK_KEYS", false)
	cfg.rateStatsTimeout = env.duration("RATE_STATS_TIMEOUT", ratelimit.DefaultStatsTimeout)

	if err := env.Err(); err != nil {
		return config{}, err
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR must not be empty")
	}
	if cfg.storeTimeout <= 0 {
		return config{}, errors.New("STORE_TIMEOUT must be > 0")
	}
	if cfg.rateStatsTimeout <= 0 {
		return config{}, errors.New("RATE_STATS_TIMEOUT must be > 0")
	}
	if cfg.casMaxAttempts <= 0 {
		return config{}, errors.New("CAS_MAX_ATTEMPTS must be > 0")
	}
	if cfg.breakerFailures < 0 {
		return config{}, errors.New("BREAKER_FAILURES must be >= 0 (0 disables the breaker)")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		return config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch cfg.logFormat {
	case "json", "text":
	default:
		return config{}, errors.New("LOG_FORMAT must be json or text")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvList lê uma lista separada por vírgulas, ignorando itens vazios.
func getenvList(k string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(k), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// envReader lê variáveis tipadas e acumula os erros de parse; valor malformado
// nunca cai silenciosamente no padrão.
type envReader struct {
	errs []error
}

func (e *envReader) Err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) fail(k, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: invalid value %q: %w", k, v, err))
}

func (e *envReader) integer(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *envReader) boolean(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}
