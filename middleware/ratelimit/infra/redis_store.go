package infra

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// casScript grava ARGV[3] somente se o valor atual for ARGV[2]
// (ou se a chave não existir, quando ARGV[1] == "1").
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
  if cur then return 0 end
elseif cur ~= ARGV[2] then
  return 0
end
if ARGV[4] == '0' then
  redis.call('SET', KEYS[1], ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
end
return 1
`)

// RedisStateStore implementa domain.StateStore usando Redis (GET + script Lua de CAS).
type RedisStateStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisStateOption func(*RedisStateStore)

// WithStatePrefix define o namespace das chaves (padrão "ratelimit").
func WithStatePrefix(prefix string) RedisStateOption {
	return func(s *RedisStateStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStateStore(rdb redis.UniversalClient, opts ...RedisStateOption) *RedisStateStore {
	s := &RedisStateStore{rdb: rdb, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStateStore) redisKey(key domain.Key) string {
	if s.prefix == "" {
		return string(key)
	}
	return s.prefix + ":" + string(key)
}

// Load implementa domain.StateStore.
func (s *RedisStateStore) Load(ctx context.Context, key domain.Key) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: "load", Key: key, Err: err}
	}
	return raw, nil
}

// CompareAndSwap implementa domain.StateStore.
func (s *RedisStateStore) CompareAndSwap(ctx context.Context, key domain.Key, prev, next []byte, ttl time.Duration) (bool, error) {
	expectAbsent := "0"
	if prev == nil {
		expectAbsent = "1"
	}
	ttlMS := int64(0)
	if ttl > 0 {
		ttlMS = ttl.Milliseconds()
		if ttlMS == 0 {
			ttlMS = 1
		}
	}

	n, err := casScript.Run(ctx, s.rdb, []string{s.redisKey(key)},
		expectAbsent, prev, next, strconv.FormatInt(ttlMS, 10)).Int()
	if err != nil {
		return false, &domain.StoreUnavailableError{Op: "cas", Key: key, Err: err}
	}
	return n == 1, nil
}

// Ping verifica a conexão; usado na subida do gateway.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return &domain.StoreUnavailableError{Op: "ping", Err: err}
	}
	return nil
}
