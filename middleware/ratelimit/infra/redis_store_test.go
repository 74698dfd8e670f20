package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateStore_CompareAndSwap(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedisStateStore(rdb)
	ctx := context.Background()

	raw, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, raw)

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("v1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:k"))

	// já existe: criar de novo falha
	ok, err = s.CompareAndSwap(ctx, "k", nil, []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// prev desatualizado
	ok, err = s.CompareAndSwap(ctx, "k", []byte("v0"), []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	raw, err = s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), raw)
}

func TestRedisStateStore_BinaryValues(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewRedisStateStore(rdb)
	ctx := context.Background()

	v := []byte{0x01, 0x00, 0xff, 0x80, 0x00}
	ok, err := s.CompareAndSwap(ctx, "bin", nil, v, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CompareAndSwap(ctx, "bin", v, []byte{0x02}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStateStore_Ping(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedisStateStore(rdb)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
