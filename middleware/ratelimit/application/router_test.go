package application

import (
	"testing"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func route(t *testing.T, pattern, class string, methods ...string) Route {
	t.Helper()
	p, err := domain.ParsePathPattern(pattern)
	require.NoError(t, err)
	return Route{Pattern: p, Class: class, Methods: methods}
}

func TestClassRouter_FirstMatchWins(t *testing.T) {
	r := NewClassRouter(
		route(t, "/api/v1/auth/**", "auth"),
		route(t, "/api/v1/search/**", "search", "get"),
		route(t, "/api/v1/**", "general"),
	)

	cases := []struct {
		method, path string
		class        string
		matched      bool
	}{
		{"POST", "/api/v1/auth/login", "auth", true},
		{"GET", "/api/v1/search/users", "search", true},
		{"POST", "/api/v1/search/users", "general", true},
		{"GET", "/api/v1/posts/1", "general", true},
		{"GET", "/healthz", "", false},
	}
	for _, c := range cases {
		class, ok := r.Classify(c.method, c.path)
		assert.Equal(t, c.matched, ok, "%s %s", c.method, c.path)
		assert.Equal(t, c.class, class, "%s %s", c.method, c.path)
	}
}

func TestClassRouter_Idempotent(t *testing.T) {
	r := NewClassRouter(route(t, "/api/v1/auth/**", "auth"))
	first, _ := r.Classify("POST", "/api/v1/auth/login")
	for i := 0; i < 10; i++ {
		got, ok := r.Classify("POST", "/api/v1/auth/login")
		require.True(t, ok)
		require.Equal(t, first, got)
	}
}

func TestClassRouter_NilAndEmpty(t *testing.T) {
	var r *ClassRouter
	_, ok := r.Classify("GET", "/x")
	assert.False(t, ok)

	_, ok = NewClassRouter().Classify("GET", "/x")
	assert.False(t, ok)
}
