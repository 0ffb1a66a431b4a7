package secretstore

import (
	"context"
	"fmt"

	"github.com/lemline/lemline/common/redis"
)

// RedisStore backs multi-node deployments that need one shared secret
// store: each secret is a field in a single Redis hash, keyed by
// secret name.
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore wraps a redis.Client, storing secrets under the given
// hash key (e.g. "lemline:secrets").
func NewRedisStore(client *redis.Client, hash string) *RedisStore {
	return &RedisStore{client: client, hash: hash}
}

func (s *RedisStore) Resolve(ctx context.Context, names []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		raw, err := s.client.GetHash(ctx, s.hash, name)
		if err != nil {
			continue // secret absent; leave unresolved for the caller to reject if required
		}
		out[name] = decodeMaybeJSON(raw)
	}
	return out, nil
}

// Put stores a secret's raw value, used by provisioning tooling and
// tests rather than the running workflow instance.
func (s *RedisStore) Put(ctx context.Context, name, value string) error {
	if err := s.client.SetHash(ctx, s.hash, name, value); err != nil {
		return fmt.Errorf("store secret %q: %w", name, err)
	}
	return nil
}
