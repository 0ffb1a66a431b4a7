package definition

import (
	"context"
	"time"

	"github.com/lemline/lemline/common/redis"
)

// DistributedLock marks which consumer process is computing a
// (name, version) key (C14). Other processes do not wait for that
// result: a Cache that loses TryLock sleeps briefly and then reads the
// repository itself, so duplicate reads are reduced, not prevented.
// When no Redis client is configured, the
// Cache's per-key sync.Once already serializes within one process,
// which is sufficient for a single-process deployment.
type DistributedLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDistributedLock wraps a redis.Client as a `SET NX PX`-style lock.
func NewDistributedLock(client *redis.Client, ttl time.Duration) *DistributedLock {
	return &DistributedLock{client: client, ttl: ttl}
}

// TryLock attempts to claim key, returning true if this caller won the
// race to compute it.
func (l *DistributedLock) TryLock(ctx context.Context, key string) (bool, error) {
	return l.client.SetNX(ctx, "lemline:defcache:"+key, "1", l.ttl)
}

// Unlock releases a previously claimed key once the compute finishes.
func (l *DistributedLock) Unlock(ctx context.Context, key string) error {
	return l.client.Delete(ctx, "lemline:defcache:"+key)
}
