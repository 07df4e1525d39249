package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// allowScript counts and records in one step so concurrent callers
// cannot both pass the same check. Scores are unix
// microseconds to stay exact as Lua numbers.
//
//	KEYS[1] sorted set, ARGV: window start, now, limit, ttl ms, members...
var allowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local current = redis.call("ZCARD", KEYS[1])
if current + (#ARGV - 4) > tonumber(ARGV[3]) then
	return {0, current}
end
for i = 5, #ARGV do
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[i])
end
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {1, current}
`)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int // requests allowed per window
	Window time.Duration
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding-window limiter backed by a sorted set per key.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow checks a single request against the limit for key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN checks n requests at once. Rejected requests are not recorded.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-r.config.Window)
	resetAt := now.Add(r.config.Window)
	redisKey := "ratelimit:" + key

	args := make([]interface{}, 0, 4+n)
	args = append(args,
		windowStart.UnixMicro(),
		now.UnixMicro(),
		r.config.Limit,
		(r.config.Window + time.Second).Milliseconds(),
	)
	for i := 0; i < n; i++ {
		args = append(args, uuid.NewString())
	}

	res, err := allowScript.Run(ctx, r.client.rdb, []string{redisKey}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis rate limit script: unexpected reply %v", res)
	}

	current := int(res[1])
	remaining := r.config.Limit - current

	if res[0] == 0 {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", current),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{
			Allowed:   false,
			Limit:     r.config.Limit,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Limit:     r.config.Limit,
		Remaining: remaining - n,
		ResetAt:   resetAt,
	}, nil
}
