package ratelimit

import (
	"context"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// IdentityFunc extrai de quem é a requisição. A autenticação acontece antes, fora daqui.
type IdentityFunc func(r *http.Request) *domain.Identity

type subjectKey struct{}

// WithSubject anexa o sujeito autenticado ao contexto (usado pela camada de autenticação).
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom devolve o sujeito anexado por WithSubject.
func SubjectFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey{}).(string)
	return s, ok && s != ""
}

// DefaultIdentityFunc lê o sujeito do contexto ou, se subjectHeader não for vazio, desse header.
// O header só deve ser usado quando é escrito por um componente confiável (ex.: proxy de auth)
// e removido das requisições dos clientes.
func DefaultIdentityFunc(subjectHeader string) IdentityFunc {
	return func(r *http.Request) *domain.Identity {
		id := &domain.Identity{
			RemoteAddr:   r.RemoteAddr,
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
		}
		if s, ok := SubjectFrom(r.Context()); ok {
			id.Subject = s
		} else if subjectHeader != "" {
			id.Subject = strings.TrimSpace(r.Header.Get(subjectHeader))
		}
		return id
	}
}
