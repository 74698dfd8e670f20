package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsEvents() []domain.StatsEvent {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []domain.StatsEvent{
		{Key: "ip:1.1.1.1:auth", Class: "auth", Admitted: true, Source: domain.SourceDistributed, Method: "POST", Path: "/auth/login", At: at},
		{Key: "ip:1.1.1.1:auth", Class: "auth", Admitted: false, Source: domain.SourceDistributed, Method: "POST", Path: "/auth/login", At: at},
		{Key: "ip:1.1.1.1:auth", Class: "auth", Admitted: true, Source: domain.SourceLocal, Method: "POST", Path: "/auth/login", At: at},
	}
}

func TestMemoryStatsStore_Record(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	for _, ev := range statsEvents() {
		require.NoError(t, s.Record(context.Background(), ev))
	}

	assert.Equal(t, Counters{Admitted: 2, Denied: 1, Local: 1}, s.Total())
	assert.Equal(t, Counters{Admitted: 2, Denied: 1, Local: 1}, s.ByClass()["auth"])
	assert.Equal(t, Counters{Admitted: 2, Denied: 1, Local: 1}, s.ByRoute()["POST /auth/login"])
	assert.Contains(t, s.ByKey(), "ip:1.1.1.1:auth")
}

func TestMemoryStatsStore_NoKeysByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), statsEvents()[0]))
	assert.Empty(t, s.ByKey())
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("st:"), WithStatsTrackKeys(true), WithStatsTTL(time.Hour))
	for _, ev := range statsEvents() {
		require.NoError(t, s.Record(context.Background(), ev))
	}

	assert.Equal(t, "2", mr.HGet("st:total", "admitted"))
	assert.Equal(t, "1", mr.HGet("st:total", "denied"))
	assert.Equal(t, "1", mr.HGet("st:total", "local"))
	assert.Equal(t, "2", mr.HGet("st:minute:202601020304", "admitted"))
	assert.Equal(t, time.Hour, mr.TTL("st:minute:202601020304"))
	assert.Equal(t, "1", mr.HGet("st:class", "auth:denied"))
	assert.Equal(t, "1", mr.HGet("st:class", "auth:local"))
	assert.Equal(t, "2", mr.HGet("st:route", "POST /auth/login:admitted"))
	assert.Equal(t, "1", mr.HGet("st:key:ip:1.1.1.1:auth", "denied"))
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), statsEvents()[0]))
}
