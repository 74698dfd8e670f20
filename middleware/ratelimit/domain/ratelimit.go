package domain

// Camada de domínio do admission control.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"strings"
	"time"
)

// KeyDelimiter separa escopo, identidade e classe dentro de uma Key.
const KeyDelimiter = ":"

// Scope é o primeiro componente de uma Key.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeIP     Scope = "ip"
	ScopeGlobal Scope = "global"
)

// Key é a chave de rate limit: {scope}:{identity}:{operationClass}.
type Key string

// NewKey compõe a chave. identity já deve estar sanitizada (sem KeyDelimiter).
func NewKey(scope Scope, identity, class string) Key {
	return Key(string(scope) + KeyDelimiter + identity + KeyDelimiter + class)
}

// Scope devolve o escopo codificado na chave.
func (k Key) Scope() Scope {
	s, _, _ := strings.Cut(string(k), KeyDelimiter)
	return Scope(s)
}

// Source diz qual caminho produziu a decisão.
type Source string

const (
	// SourceBypass: nenhuma rota casou, a requisição não é controlada.
	SourceBypass      Source = "bypass"
	SourceDistributed Source = "distributed"
	// SourceLocal: decisão em modo degradado, store compartilhado indisponível.
	SourceLocal Source = "local"
	// SourceMisconfigured: classe sem política; negação conservadora.
	SourceMisconfigured Source = "misconfigured"
)

type Decision struct {
	Admitted bool
	// Remaining é o menor saldo entre os tiers após a decisão.
	Remaining uint64
	// RetryAfter é o maior tempo de espera entre os tiers sem saldo.
	// Zero quando admitida.
	RetryAfter time.Duration

	OperationClass string
	Key            Key
	Source         Source
	// Contended indica negação por esgotamento de tentativas de CAS.
	Contended bool
}

// BucketStore consome tokens de uma chave segundo uma política.
//
// Erros são apenas de comunicação com o store; falta de saldo é Decision.Admitted=false.
type BucketStore interface {
	TryConsume(ctx context.Context, key Key, policy BucketPolicy, cost uint64) (Decision, error)
}

// StateStore é o contrato mínimo do store compartilhado: valor opaco por chave
// com leitura e escrita condicional (compare-and-swap).
type StateStore interface {
	// Load retorna nil, nil quando a chave não existe.
	Load(ctx context.Context, key Key) ([]byte, error)
	// CompareAndSwap grava next somente se o valor atual for igual a prev
	// (prev nil exige ausência). swapped=false indica conflito, não erro.
	CompareAndSwap(ctx context.Context, key Key, prev, next []byte, ttl time.Duration) (swapped bool, err error)
}

// Observer recebe sinais de observabilidade do gate.
// Implementações devem ser rápidas e não bloquear.
type Observer interface {
	ObserveDecision(dec Decision, elapsed time.Duration)
	ObserveFallback(class string, err error)
}

// Breaker protege o store distribuído de chamadas quando ele está falhando.
type Breaker interface {
	Allow() bool
	OnSuccess()
	OnFailure()
}
