package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeIdentity_RemovesDelimiter(t *testing.T) {
	assert.Equal(t, "alice", EscapeIdentity("alice"))
	assert.Equal(t, "a%3Ab", EscapeIdentity("a:b"))
	// "%3A" literal não pode colidir com ":" escapado
	assert.NotEqual(t, EscapeIdentity("a%3Ab"), EscapeIdentity("a:b"))
}

func TestNormalizeAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1", NormalizeAddr(" 10.0.0.1 "))
	assert.Equal(t, "10.0.0.1", NormalizeAddr("::ffff:10.0.0.1"))
	assert.Equal(t, "2001:db8::1", NormalizeAddr("[2001:DB8::1]"))
	assert.Equal(t, "not-an-ip", NormalizeAddr("not-an-ip"))
}

func TestKey_Compose(t *testing.T) {
	k := NewKey(ScopeUser, "alice", "search")
	assert.Equal(t, Key("user:alice:search"), k)
	assert.Equal(t, ScopeUser, k.Scope())

	var nilID *Identity
	assert.True(t, nilID.Anonymous())
	assert.True(t, (&Identity{Subject: "  "}).Anonymous())
	assert.False(t, (&Identity{Subject: "bob"}).Anonymous())
}
