package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash field names for bucket records. Kept short and stable so state written
// by one instance is readable by any other.
const (
	fieldTokens     = "tokens"
	fieldLastRefill = "lastRefill"
)

// RedisStore implements Store on top of Redis using only HGET/HSET, EXPIRE
// and INCR. State is shared by every process instance pointed at the same
// Redis, which is what makes the limits global rather than per-replica.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client. The caller owns the client's
// lifecycle; the store never closes it.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies connectivity, for startup health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) GetBucket(ctx context.Context, key string) (BucketRecord, bool, error) {
	vals, err := s.client.HMGet(ctx, key, fieldTokens, fieldLastRefill).Result()
	if err != nil {
		return BucketRecord{}, false, fmt.Errorf("hmget %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return BucketRecord{}, false, nil
	}

	tokens, err := parseFloatField(vals[0])
	if err != nil {
		return BucketRecord{}, false, fmt.Errorf("field %s of %s: %w", fieldTokens, key, err)
	}
	lastRefill, err := parseIntField(vals[1])
	if err != nil {
		return BucketRecord{}, false, fmt.Errorf("field %s of %s: %w", fieldLastRefill, key, err)
	}
	return BucketRecord{Tokens: tokens, LastRefill: lastRefill}, true, nil
}

// UpdateBucket is a read-modify-write over the hash fields. Concurrent
// writers to the same key can overlap between the read and the write; the
// damage is bounded to one refill interval, the price of keeping the store
// contract down to four primitives.
func (s *RedisStore) UpdateBucket(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	rec, found, err := s.GetBucket(ctx, key)
	if err != nil {
		return err
	}
	next := fn(rec, found)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		fieldTokens, strconv.FormatFloat(next.Tokens, 'f', -1, 64),
		fieldLastRefill, strconv.FormatInt(next.LastRefill, 10),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n, nil
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return n, nil
}

func parseFloatField(v interface{}) (float64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseFloat(str, 64)
}

func parseIntField(v interface{}) (int64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(str, 10, 64)
}
