// Package locker provides a Redis lease so only one replica runs a periodic job.
package locker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client is the subset of redis.Cmdable the lease needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only if this holder still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type Redis struct {
	client Client
	prefix string
}

func NewRedis(client Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Lease is a held lock.
type Lease struct {
	key   string
	token string
	r     *Redis
}

// TryAcquire returns a lease when the lock was free. ok=false means another
// holder owns it.
func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	key := r.prefix + name
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{key: key, token: token, r: r}, true, nil
}

// Release gives the lease back. Releasing an expired or stolen lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.r.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}
