// Package config carrega políticas, rotas e caminhos isentos a partir de YAML.
//
// Formato:
//
//	policies:
//	  auth:
//	    tiers:
//	      - {capacity: 10, refillTokens: 10, refillPeriodSeconds: 60}
//	  ai-generation:
//	    shared: false
//	    tiers:
//	      - {capacity: 5, refillTokens: 5, refillPeriod: 1m}
//	routes:
//	  - {pattern: /api/v1/auth/**, class: auth, methods: [POST]}
//	exempt:
//	  - /actuator/**
//	anonymous:
//	  tiers:
//	    - {capacity: 20, refillTokens: 20, refillPeriod: 1m}
//
// anonymous é opcional: tiers somados a toda chave de escopo ip.
//
// Qualquer entrada inválida vira *domain.ConfigError; o processo não deve subir.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

// Settings é a configuração já validada.
type Settings struct {
	Policies domain.PolicySet
	Router   *application.ClassRouter
	Exempt   []domain.PathPattern

	// Anonymous vai para application.WithAnonymousTiers.
	Anonymous []domain.BandwidthTier
}

type fileConfig struct {
	Policies  map[string]filePolicy `yaml:"policies"`
	Routes    []fileRoute           `yaml:"routes"`
	Exempt    []string              `yaml:"exempt"`
	Anonymous *fileAnonymous        `yaml:"anonymous"`
}

type fileAnonymous struct {
	Tiers []fileTier `yaml:"tiers"`
}

type filePolicy struct {
	Shared bool       `yaml:"shared"`
	Tiers  []fileTier `yaml:"tiers"`
}

type fileTier struct {
	Capacity            uint64 `yaml:"capacity"`
	RefillTokens        uint64 `yaml:"refillTokens"`
	RefillPeriodSeconds int64  `yaml:"refillPeriodSeconds"`
	// RefillPeriod aceita time.ParseDuration ("90s", "1h"); exclusivo com RefillPeriodSeconds.
	RefillPeriod string `yaml:"refillPeriod"`
}

type fileRoute struct {
	Pattern string   `yaml:"pattern"`
	Class   string   `yaml:"class"`
	Methods []string `yaml:"methods"`
}

// Load lê e valida o arquivo em path.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read policy file %q: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Settings{}, fmt.Errorf("policy file %q: %w", path, err)
	}
	return s, nil
}

// Parse valida um documento YAML. Campos desconhecidos são erro.
func Parse(data []byte) (Settings, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fc fileConfig
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, &domain.ConfigError{Field: "yaml", Reason: err.Error()}
	}
	return fc.build()
}

func (fc fileConfig) build() (Settings, error) {
	if len(fc.Policies) == 0 {
		return Settings{}, &domain.ConfigError{Field: "policies", Reason: "at least one policy is required"}
	}

	classes := make([]string, 0, len(fc.Policies))
	for c := range fc.Policies {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	policies := make([]domain.BucketPolicy, 0, len(classes))
	for _, class := range classes {
		p, err := fc.Policies[class].build(class)
		if err != nil {
			return Settings{}, err
		}
		policies = append(policies, p)
	}
	set, err := domain.NewPolicySet(policies...)
	if err != nil {
		return Settings{}, err
	}

	routes := make([]application.Route, 0, len(fc.Routes))
	for i, r := range fc.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		pat, err := domain.ParsePathPattern(r.Pattern)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", field, err)
		}
		if _, ok := set.Lookup(r.Class); !ok {
			return Settings{}, &domain.ConfigError{Field: field, Reason: fmt.Sprintf("unknown operation class %q", r.Class)}
		}
		routes = append(routes, application.Route{Pattern: pat, Class: r.Class, Methods: r.Methods})
	}

	exempt, err := ParsePatterns(fc.Exempt, "exempt")
	if err != nil {
		return Settings{}, err
	}

	var anonymous []domain.BandwidthTier
	if fc.Anonymous != nil {
		if len(fc.Anonymous.Tiers) == 0 {
			return Settings{}, &domain.ConfigError{Field: "anonymous.tiers", Reason: "at least one tier is required"}
		}
		if anonymous, err = buildTiers("anonymous", fc.Anonymous.Tiers); err != nil {
			return Settings{}, err
		}
	}

	return Settings{
		Policies:  set,
		Router:    application.NewClassRouter(routes...),
		Exempt:    exempt,
		Anonymous: anonymous,
	}, nil
}

func (fp filePolicy) build(class string) (domain.BucketPolicy, error) {
	tiers, err := buildTiers("policies."+class, fp.Tiers)
	if err != nil {
		return domain.BucketPolicy{}, err
	}
	return domain.NewPolicy(class, tiers, domain.WithShared(fp.Shared))
}

func buildTiers(field string, raw []fileTier) ([]domain.BandwidthTier, error) {
	tiers := make([]domain.BandwidthTier, 0, len(raw))
	for i, ft := range raw {
		period, err := ft.period()
		if err != nil {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("%s.tiers[%d]", field, i), Reason: err.Error()}
		}
		t, err := domain.NewTier(ft.Capacity, ft.RefillTokens, period)
		if err != nil {
			return nil, fmt.Errorf("%s.tiers[%d]: %w", field, i, err)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func (ft fileTier) period() (time.Duration, error) {
	switch {
	case ft.RefillPeriod != "" && ft.RefillPeriodSeconds != 0:
		return 0, errors.New("set either refillPeriod or refillPeriodSeconds, not both")
	case ft.RefillPeriod != "":
		d, err := time.ParseDuration(ft.RefillPeriod)
		if err != nil {
			return 0, fmt.Errorf("refillPeriod: %w", err)
		}
		return d, nil
	default:
		return time.Duration(ft.RefillPeriodSeconds) * time.Second, nil
	}
}

// ParsePatterns compila uma lista de padrões (ex.: EXEMPT_PATHS).
func ParsePatterns(raw []string, field string) ([]domain.PathPattern, error) {
	out := make([]domain.PathPattern, 0, len(raw))
	for i, r := range raw {
		p, err := domain.ParsePathPattern(r)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
