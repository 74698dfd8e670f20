package config

import (
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

// DefaultWindow é o período do tier principal de cada classe padrão.
const DefaultWindow = time.Minute

// Default é a configuração usada quando não há arquivo de políticas.
//
// strict adiciona tiers mais longos (por hora / burst curto) às classes auth,
// ai-generation e general, e remove o tier de burst de search.
// Chamadores anônimos (chave ip) ganham ainda um teto de 20 por janela,
// mais 10/min no modo strict.
func Default(strict bool) Settings {
	w := DefaultWindow
	primary := func(n uint64) domain.BandwidthTier { return domain.MustTier(n, n, w) }

	auth := []domain.BandwidthTier{primary(10)}
	ai := []domain.BandwidthTier{primary(5)}
	search := []domain.BandwidthTier{primary(30)}
	general := []domain.BandwidthTier{primary(100)}
	media := []domain.BandwidthTier{primary(10), domain.MustTier(100, 100, 24*time.Hour)}
	anonymous := []domain.BandwidthTier{primary(20)}
	if strict {
		anonymous = append(anonymous, domain.MustTier(10, 10, time.Minute))
		auth = append(auth, domain.MustTier(3, 3, time.Minute))
		ai = append(ai, domain.MustTier(50, 50, time.Hour))
		general = append(general, domain.MustTier(1000, 1000, time.Hour))
	} else {
		search = append(search, domain.MustTier(60, 30, 5*time.Minute))
	}

	set, err := domain.NewPolicySet(
		mustPolicy("auth", auth),
		mustPolicy("ai-generation", ai),
		mustPolicy("search", search),
		mustPolicy("media-upload", media),
		mustPolicy("general", general),
	)
	if err != nil {
		panic(err)
	}

	// da mais específica para a mais genérica
	router := application.NewClassRouter(
		mustRoute("/api/v1/auth/**", "auth"),
		mustRoute("/api/v1/ai/**", "ai-generation"),
		mustRoute("/api/v1/travel-plans/generate", "ai-generation", "POST"),
		mustRoute("/api/v1/places/search", "search"),
		mustRoute("/api/v1/travel-plans/search", "search"),
		mustRoute("/api/v1/search/**", "search"),
		mustRoute("/api/v1/media/**", "media-upload", "POST", "PUT"),
		mustRoute("/api/v1/**", "general"),
	)

	exempt, err := ParsePatterns([]string{"/actuator/**", "/api/v1/health/**", "/healthz"}, "exempt")
	if err != nil {
		panic(err)
	}
	return Settings{Policies: set, Router: router, Exempt: exempt, Anonymous: anonymous}
}

func mustPolicy(class string, tiers []domain.BandwidthTier) domain.BucketPolicy {
	p, err := domain.NewPolicy(class, tiers)
	if err != nil {
		panic(err)
	}
	return p
}

func mustRoute(pattern, class string, methods ...string) application.Route {
	p, err := domain.ParsePathPattern(pattern)
	if err != nil {
		panic(err)
	}
	return application.Route{Pattern: p, Class: class, Methods: methods}
}
