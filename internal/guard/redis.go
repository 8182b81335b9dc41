package guard

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rv:"

// consumeScript deletes the stored hash only when it matches, so a bad guess
// cannot burn the real token. Returns -1 missing, 1 consumed, 0 mismatch.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false then
	return -1
end
if v == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

func (r *RedisStore) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	fullKey := keyPrefix + "rl:" + key

	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count > int64(max) {
		ttl, err := r.client.PTTL(ctx, fullKey).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		if ttl < time.Second {
			ttl = time.Second
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

func (r *RedisStore) SetToken(ctx context.Context, key, hash string, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+key, hash, ttl).Err()
}

func (r *RedisStore) ConsumeToken(ctx context.Context, key, hash string) (ConsumeResult, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{keyPrefix + key}, hash).Int64()
	if err != nil {
		return ConsumeMissing, err
	}
	switch res {
	case 1:
		return ConsumeOK, nil
	case -1:
		return ConsumeMissing, nil
	default:
		return ConsumeMismatch, nil
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
