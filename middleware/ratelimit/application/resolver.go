package application

import (
	"net"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

const unknownAddr = "unknown"

// KeyResolver deriva a chave {scope}:{identity}:{class} de uma requisição.
//
// TrustForwardedFor faz usar o primeiro endereço de X-Forwarded-For. Só ligue quando
// o deploy termina TLS atrás de um proxy confiável que sobrescreve esse header;
// caso contrário o cliente escolhe a própria chave.
type KeyResolver struct {
	TrustForwardedFor bool
}

// Resolve é uma função pura: sem I/O, mesma entrada produz a mesma chave.
func (r KeyResolver) Resolve(id *domain.Identity, class string) domain.Key {
	if !id.Anonymous() {
		return domain.NewKey(domain.ScopeUser, domain.EscapeIdentity(strings.TrimSpace(id.Subject)), class)
	}
	return domain.NewKey(domain.ScopeIP, domain.EscapeIdentity(r.CallerAddr(id)), class)
}

// ResolveShared é a chave de uma política de escopo global, igual para todos os chamadores.
func (r KeyResolver) ResolveShared(class string) domain.Key {
	return domain.NewKey(domain.ScopeGlobal, "*", class)
}

// CallerAddr escolhe o endereço do chamador. Com vários valores em X-Forwarded-For o
// primeiro é usado, sempre.
func (r KeyResolver) CallerAddr(id *domain.Identity) string {
	if id == nil {
		return unknownAddr
	}
	if r.TrustForwardedFor {
		first, _, _ := strings.Cut(id.ForwardedFor, ",")
		if ip := domain.NormalizeAddr(first); ip != "" {
			return ip
		}
	}

	remote := strings.TrimSpace(id.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		remote = host
	}
	if ip := domain.NormalizeAddr(remote); ip != "" {
		return ip
	}
	return unknownAddr
}
