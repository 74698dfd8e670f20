package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão de admissão.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key      Key
	Class    string
	Admitted bool
	Source   Source

	Method string
	Path   string

	At time.Time
}

// StatsEventFor monta o evento a partir de uma decisão.
func StatsEventFor(dec Decision, method, path string, at time.Time) StatsEvent {
	return StatsEvent{
		Key:      dec.Key,
		Class:    dec.OperationClass,
		Admitted: dec.Admitted,
		Source:   dec.Source,
		Method:   method,
		Path:     path,
		At:       at,
	}
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
