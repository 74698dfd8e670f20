package domain

import (
	"sort"
	"strings"
	"time"
)

// BandwidthTier descreve um limite de token bucket: até Capacity tokens,
// repondo RefillTokens a cada RefillPeriod completo.
//
// Construa com NewTier; o valor zero não é válido.
type BandwidthTier struct {
	capacity     uint64
	refillTokens uint64
	refillPeriod time.Duration
}

// NewTier valida capacity >= refillTokens > 0 e refillPeriod > 0.
func NewTier(capacity, refillTokens uint64, refillPeriod time.Duration) (BandwidthTier, error) {
	switch {
	case refillTokens == 0:
		return BandwidthTier{}, configErrorf("refillTokens", "must be > 0")
	case capacity < refillTokens:
		return BandwidthTier{}, configErrorf("capacity", "must be >= refillTokens (%d < %d)", capacity, refillTokens)
	case refillPeriod <= 0:
		return BandwidthTier{}, configErrorf("refillPeriod", "must be > 0, got %s", refillPeriod)
	}
	return BandwidthTier{capacity: capacity, refillTokens: refillTokens, refillPeriod: refillPeriod}, nil
}

// MustTier é NewTier para tabelas estáticas; entra em pânico se inválido.
func MustTier(capacity, refillTokens uint64, refillPeriod time.Duration) BandwidthTier {
	t, err := NewTier(capacity, refillTokens, refillPeriod)
	if err != nil {
		panic(err)
	}
	return t
}

func (t BandwidthTier) Capacity() uint64 { return t.capacity }
func (t BandwidthTier) RefillTokens() uint64 { return t.refillTokens }
func (t BandwidthTier) RefillPeriod() time.Duration { return t.refillPeriod }

// timeToFull é quantos períodos (em tempo) o tier leva para sair de 0 e chegar à capacidade.
func (t BandwidthTier) timeToFull() time.Duration {
	periods := (t.capacity + t.refillTokens - 1) / t.refillTokens
	return time.Duration(periods) * t.refillPeriod
}

// BucketPolicy é a regra de admissão de uma classe de operação.
// Uma requisição só passa se todos os tiers tiverem saldo.
type BucketPolicy struct {
	class string
	tiers []BandwidthTier
	// Shared faz todos os chamadores da classe dividirem um único bucket (escopo global).
	shared bool
}

// PolicyOption ajusta uma BucketPolicy na construção.
type PolicyOption func(*BucketPolicy)

// WithShared marca a política como de escopo global.
func WithShared(shared bool) PolicyOption {
	return func(p *BucketPolicy) { p.shared = shared }
}

func NewPolicy(class string, tiers []BandwidthTier, opts ...PolicyOption) (BucketPolicy, error) {
	class = strings.TrimSpace(class)
	if class == "" {
		return BucketPolicy{}, configErrorf("operationClass", "must not be empty")
	}
	if strings.Contains(class, KeyDelimiter) {
		return BucketPolicy{}, configErrorf("operationClass", "%q must not contain %q", class, KeyDelimiter)
	}
	if len(tiers) == 0 {
		return BucketPolicy{}, configErrorf(class, "policy needs at least one tier")
	}
	for i, t := range tiers {
		if t.refillTokens == 0 || t.refillPeriod <= 0 {
			return BucketPolicy{}, configErrorf(class, "tier %d was not built with NewTier", i)
		}
	}
	p := BucketPolicy{class: class, tiers: append([]BandwidthTier(nil), tiers...)}
	for _, opt := range opts {
		opt(&p)
	}
	return p, nil
}

func (p BucketPolicy) OperationClass() string { return p.class }
func (p BucketPolicy) Shared() bool { return p.shared }
func (p BucketPolicy) Len() int { return len(p.tiers) }

// Tier retorna o i-ésimo tier, na ordem de declaração.
func (p BucketPolicy) Tier(i int) BandwidthTier { return p.tiers[i] }

// Tiers retorna uma cópia dos tiers.
func (p BucketPolicy) Tiers() []BandwidthTier {
	return append([]BandwidthTier(nil), p.tiers...)
}

// WithTiers devolve uma cópia da política com extra anexado depois dos tiers próprios.
func (p BucketPolicy) WithTiers(extra ...BandwidthTier) BucketPolicy {
	if len(extra) == 0 {
		return p
	}
	tiers := make([]BandwidthTier, 0, len(p.tiers)+len(extra))
	tiers = append(append(tiers, p.tiers...), extra...)
	p.tiers = tiers
	return p
}

// TimeToFull é o maior tempo que algum tier leva para encher a partir de zero.
// Um estado expirado antes disso devolveria saldo antes da hora.
func (p BucketPolicy) TimeToFull() time.Duration {
	var longest time.Duration
	for _, t := range p.tiers {
		if d := t.timeToFull(); d > longest {
			longest = d
		}
	}
	return longest
}

// PolicySet mapeia classe de operação -> política. Somente leitura após NewPolicySet.
type PolicySet struct {
	byClass map[string]BucketPolicy
}

func NewPolicySet(policies ...BucketPolicy) (PolicySet, error) {
	m := make(map[string]BucketPolicy, len(policies))
	for _, p := range policies {
		if p.class == "" {
			return PolicySet{}, configErrorf("policies", "policy without operation class")
		}
		if _, dup := m[p.class]; dup {
			return PolicySet{}, configErrorf(p.class, "duplicate policy")
		}
		m[p.class] = p
	}
	return PolicySet{byClass: m}, nil
}

func (s PolicySet) Lookup(class string) (BucketPolicy, bool) {
	p, ok := s.byClass[class]
	return p, ok
}

// Classes retorna as classes em ordem alfabética.
func (s PolicySet) Classes() []string {
	out := make([]string, 0, len(s.byClass))
	for c := range s.byClass {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
