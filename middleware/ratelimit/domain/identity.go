package domain

import (
	"net/netip"
	"strings"
)

// Identity é quem está fazendo a requisição, já resolvido pela camada de cima
// (autenticação/sessão e endereço de rede).
type Identity struct {
	// Subject é o usuário autenticado; vazio para anônimo.
	Subject string
	// RemoteAddr é o par direto da conexão (host ou host:port).
	RemoteAddr string
	// ForwardedFor é o valor bruto de X-Forwarded-For, se houver.
	ForwardedFor string
}

// Anonymous informa se não há sujeito autenticado.
func (id *Identity) Anonymous() bool {
	return id == nil || strings.TrimSpace(id.Subject) == ""
}

var identityEscaper = strings.NewReplacer("%", "%25", KeyDelimiter, "%3A")

// EscapeIdentity garante que o valor não contenha o delimitador de chave.
// O escape é reversível, então valores distintos produzem chaves distintas.
func EscapeIdentity(v string) string {
	return identityEscaper.Replace(v)
}

// NormalizeAddr devolve a forma canônica de um IP (IPv4 mapeado em IPv6 vira IPv4).
// Valores que não são IP voltam apenas sem espaços.
func NormalizeAddr(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	if addr, err := netip.ParseAddr(v); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return v
}
