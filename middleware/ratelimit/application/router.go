package application

import (
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// Route associa um padrão de caminho (e opcionalmente métodos) a uma classe de operação.
type Route struct {
	Pattern domain.PathPattern
	// Methods vazio casa qualquer método.
	Methods []string
	Class   string
}

// ClassRouter classifica requisições numa lista ordenada de rotas; a primeira que casar vence.
// Padrões mais específicos precisam vir antes dos genéricos do mesmo prefixo.
//
// Imutável após NewClassRouter, seguro para uso concorrente.
type ClassRouter struct {
	routes []Route
}

func NewClassRouter(routes ...Route) *ClassRouter {
	rs := make([]Route, len(routes))
	for i, r := range routes {
		methods := make([]string, len(r.Methods))
		for j, m := range r.Methods {
			methods[j] = strings.ToUpper(strings.TrimSpace(m))
		}
		rs[i] = Route{Pattern: r.Pattern, Methods: methods, Class: r.Class}
	}
	return &ClassRouter{routes: rs}
}

// Classify retorna a classe da primeira rota que casar. matched=false significa que a
// requisição não passa por admission control.
func (c *ClassRouter) Classify(method, path string) (class string, matched bool) {
	if c == nil {
		return "", false
	}
	for _, r := range c.routes {
		if !methodAllowed(r.Methods, method) {
			continue
		}
		if r.Pattern.Match(path) {
			return r.Class, true
		}
	}
	return "", false
}

// Routes devolve uma cópia das rotas, na ordem de avaliação.
func (c *ClassRouter) Routes() []Route {
	if c == nil {
		return nil
	}
	return append([]Route(nil), c.routes...)
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
