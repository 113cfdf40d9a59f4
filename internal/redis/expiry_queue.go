package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultExpiryKey = "appointments:expiry"

// ExpiryQueue is a sorted set of timer references scored by fire time in
// unix milliseconds. Schedule is an upsert, so re-scheduling moves the timer.
type ExpiryQueue struct {
	client redis.Cmdable
	key    string
}

func NewExpiryQueue(client redis.Cmdable, key string) *ExpiryQueue {
	if key == "" {
		key = DefaultExpiryKey
	}
	return &ExpiryQueue{client: client, key: key}
}

func (q *ExpiryQueue) ScheduleExpiry(ctx context.Context, ref string, at time.Time) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: ref}).Err()
	if err != nil {
		return fmt.Errorf("schedule expiry %s: %w", ref, err)
	}
	return nil
}

func (q *ExpiryQueue) CancelExpiry(ctx context.Context, ref string) error {
	if err := q.client.ZRem(ctx, q.key, ref).Err(); err != nil {
		return fmt.Errorf("cancel expiry %s: %w", ref, err)
	}
	return nil
}

// Due lists up to limit references whose fire time is at or before now.
func (q *ExpiryQueue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	refs, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list due expiries: %w", err)
	}
	return refs, nil
}

// Claim removes ref and reports whether this caller removed it. Only the
// claiming worker fires the timer.
func (q *ExpiryQueue) Claim(ctx context.Context, ref string) (bool, error) {
	n, err := q.client.ZRem(ctx, q.key, ref).Result()
	if err != nil {
		return false, fmt.Errorf("claim expiry %s: %w", ref, err)
	}
	return n == 1, nil
}

// Pending returns the number of scheduled timers.
func (q *ExpiryQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
