package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only if this holder still owns the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lease is a cluster-wide lock held for at most TTL. Replicas running the
// same cycle take the lease first; whoever misses it skips the tick.
// A holder whose run outlasts TTL keeps the lease with Renew.
type Lease struct {
	client *Client
	logger *zap.Logger
	key    string
	ttl    time.Duration
	holder string
}

func NewLease(client *Client, logger *zap.Logger, name string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		logger: logger,
		key:    fmt.Sprintf("lease:%s", name),
		ttl:    ttl,
		holder: uuid.NewString(),
	}
}

// Acquire takes the lease with SET NX PX. It returns false when another
// holder has it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("lease held elsewhere", zap.String("key", l.key))
	}
	return ok, nil
}

// Release gives the lease back if it is still ours. An expired lease that
// another holder picked up is left alone.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("redis lease release failed: %w", err)
	}
	return nil
}

// Renew pushes the expiry out to a full TTL from now. It returns false
// when the lease expired or another holder took it.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.client.rdb, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lease renew failed: %w", err)
	}
	if n == 0 {
		l.logger.Warn("lease no longer held", zap.String("key", l.key))
	}
	return n == 1, nil
}

// TTL is how long the lease lives without a renewal.
func (l *Lease) TTL() time.Duration { return l.ttl }
