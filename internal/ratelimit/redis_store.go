package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one sorted set per key, scored by hit time in
// milliseconds, so every replica sees the same window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	k := s.prefix + key
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		p.ZAdd(ctx, k, redis.Z{Score: float64(nowMs), Member: member})
		card = p.ZCard(ctx, k)
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit redis hit: %w", err)
	}

	count := int(card.Val())
	if count <= limit {
		return Decision{Allowed: true, Remaining: limit - count}, nil
	}

	// Over the limit: the rejected hit must not extend the window.
	if err := s.client.ZRem(ctx, k, member).Err(); err != nil {
		return Decision{}, fmt.Errorf("ratelimit redis rollback: %w", err)
	}
	retry := window
	oldest, err := s.client.ZRangeWithScores(ctx, k, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		retry = time.Duration(int64(oldest[0].Score)+window.Milliseconds()-nowMs) * time.Millisecond
	}
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}
