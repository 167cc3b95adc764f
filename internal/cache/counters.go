package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrScript increments a bucket and sets its expiry on first write.
var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// maxSumKeys bounds a single MGET.
const maxSumKeys = 512

// RedisCounterStore keeps velocity buckets as expiring Redis keys.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore wraps client as a domain.CounterStore.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Increment bumps the bucket and lets Redis expire it after retention.
func (s *RedisCounterStore) Increment(ctx context.Context, subject string, action domain.Action, bucket time.Time, retention time.Duration) error {
	key := bucketKey(subject, action, bucket)
	return incrScript.Run(ctx, s.client, []string{key}, retention.Milliseconds()).Err()
}

// Sum reads every bucket key in [from, to] and totals them.
func (s *RedisCounterStore) Sum(ctx context.Context, subject string, action domain.Action, from, to time.Time, width time.Duration) (int64, error) {
	if width <= 0 {
		width = time.Second
	}

	var total int64
	keys := make([]string, 0, maxSumKeys)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			n, err := strconv.ParseInt(str, 10, 64)
			if err == nil {
				total += n
			}
		}
		keys = keys[:0]
		return nil
	}

	for b := from; !b.After(to); b = b.Add(width) {
		keys = append(keys, bucketKey(subject, action, b))
		if len(keys) == maxSumKeys {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}

// Purge is a no-op; buckets expire on their own.
func (s *RedisCounterStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func bucketKey(subject string, action domain.Action, bucket time.Time) string {
	return keyPrefix + "velocity:" + subject + ":" + action.String() + ":" + strconv.FormatInt(bucket.Unix(), 10)
}
