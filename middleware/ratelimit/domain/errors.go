package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indica falha de comunicação com o store compartilhado.
	// O gate trata como motivo para cair no store local.
	ErrStoreUnavailable = errors.New("shared state store unavailable")

	// ErrCircuitOpen indica que o breaker cortou a chamada ao store distribuído.
	ErrCircuitOpen = errors.New("shared state store circuit open")
)

// ConfigError descreve uma política, rota ou padrão inválido.
// É fatal: o processo não deve subir com ela.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "ratelimit config: " + e.Reason
	}
	return fmt.Sprintf("ratelimit config: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StoreUnavailableError embrulha erros de I/O do store compartilhado.
type StoreUnavailableError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("state store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// IsConfigError informa se err (ou algo na cadeia) é um *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
