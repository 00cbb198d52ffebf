package hmacauth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisNonceKeyPrefix = "cheval:nonce:"

// RedisNonceStore shares replay protection across sidecar replicas using
// SET NX with the nonce TTL as the key expiry.
type RedisNonceStore struct {
	client *redis.Client
}

func NewRedisNonceStore(redisURL string) (*RedisNonceStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisNonceStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisNonceStore) CheckAndAdmit(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, redisNonceKeyPrefix+nonce, "1", ttl).Result()
}

// Size reports the key count of the backing database. Shared databases will
// overcount; this feeds a readiness gauge, not an invariant.
func (s *RedisNonceStore) Size() int {
	n, err := s.client.DBSize(context.Background()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (s *RedisNonceStore) Close() error {
	return s.client.Close()
}
