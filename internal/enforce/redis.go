package enforce

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a fixed-window limiter backed by Redis, shared across
// replicas counting against the same quota rule.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Allow counts one request for key in the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (CountResult, error) {
	if l == nil || l.client == nil {
		return CountResult{}, errors.New("enforce redis: no client")
	}
	if window <= 0 {
		window = time.Minute
	}
	windowSec := int64(window / time.Second)
	if windowSec <= 0 {
		windowSec = 1
	}
	bucket := now.Unix() / windowSec
	reset := time.Unix((bucket+1)*windowSec, 0).UTC()
	if limit <= 0 {
		return CountResult{Allowed: false, Remaining: 0, Reset: reset}, nil
	}

	redisKey := l.buildKey(key, bucket)
	// A TTL one window past the boundary keeps a straggler read valid
	// while the bucket rolls over.
	res, errEval := redisIncrScript.Run(ctx, l.client, []string{redisKey}, windowSec*2).Result()
	if errEval != nil {
		return CountResult{}, errEval
	}
	count, ok := res.(int64)
	if !ok {
		return CountResult{}, errors.New("enforce redis: unexpected response type")
	}
	if count > limit {
		return CountResult{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return CountResult{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

func (l *RedisLimiter) buildKey(key string, bucket int64) string {
	bucketStr := strconv.FormatInt(bucket, 10)
	if l.prefix == "" {
		return key + ":" + bucketStr
	}
	return l.prefix + ":" + key + ":" + bucketStr
}
