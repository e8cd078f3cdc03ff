// Package redis provides the secondary-storage cache spec §4.3 describes
// for sessions: a TTL-bounded lookaside in front of the primary Store, so
// a busy deployment does not hit the database on every request that
// carries a session cookie. Grounded on the upstream redis adapter's
// key-prefix + createKey/getKey/deleteKey helpers, narrowed from a full
// storage.Store implementation to the session.Cache contract the session
// package depends on.
package redis

import (
	"context"
	"encoding/json"
	"time"

	redisv9 "github.com/go-redis/redis/v9"

	"github.com/better-auth/authd/storage"
)

// Config configures a redis.UniversalClient the same way the upstream
// adapter does: a single struct covers standalone, cluster, and sentinel
// deployments.
type Config struct {
	Addrs            []string `json:"addrs" yaml:"addrs"`
	Password         string   `json:"password" yaml:"password"`
	SentinelPassword string   `json:"sentinelPassword" yaml:"sentinelPassword"`
	MasterName       string   `json:"masterName" yaml:"masterName"`
	// KeyPrefix namespaces every key this cache writes, so one redis
	// instance can be shared across deployments.
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

func (c Config) Open() *Cache {
	opts := &redisv9.UniversalOptions{
		Addrs:            c.Addrs,
		Password:         c.Password,
		SentinelPassword: c.SentinelPassword,
		MasterName:       c.MasterName,
	}
	prefix := c.KeyPrefix
	if prefix == "" {
		prefix = "authd/"
	}
	return &Cache{db: redisv9.NewUniversalClient(opts), prefix: prefix}
}

// Cache is a TTL-bounded key/value cache over redis. Values are JSON
// encoded, matching the upstream adapter's encoding for every cached
// struct.
type Cache struct {
	db     redisv9.UniversalClient
	prefix string
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) key(namespace, id string) string {
	return c.prefix + namespace + "/" + id
}

// Set stores value under namespace/id with the given ttl. A zero ttl
// means no expiry; callers set one for every session/verification cache
// entry so a crashed eviction sweep cannot leak memory.
func (c *Cache) Set(ctx context.Context, namespace, id string, value any, ttl time.Duration) error {
	blob, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.db.Set(ctx, c.key(namespace, id), blob, ttl).Err()
}

// Get decodes the cached value into dest, or returns storage.ErrNotFound
// if the key is absent or expired.
func (c *Cache) Get(ctx context.Context, namespace, id string, dest any) error {
	val, err := c.db.Get(ctx, c.key(namespace, id)).Result()
	if err != nil {
		if err == redisv9.Nil {
			return storage.ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// Delete removes a cached value. Absence is not an error: the session
// package calls Delete unconditionally on sign-out.
func (c *Cache) Delete(ctx context.Context, namespace, id string) error {
	return c.db.Del(ctx, c.key(namespace, id)).Err()
}

// Touch refreshes a key's ttl without re-encoding its value, or returns
// storage.ErrNotFound if the key is absent.
func (c *Cache) Touch(ctx context.Context, namespace, id string, ttl time.Duration) error {
	ok, err := c.db.Expire(ctx, c.key(namespace, id), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

// Increment atomically increments the counter at ratelimit/<namespace>
// (namespace is the whole rate-limit key), setting ttl only on the
// key's first creation, implementing the
// ratelimit.Cache contract for cross-replica rate limiting.
func (c *Cache) Increment(ctx context.Context, namespace string, ttl time.Duration) (int64, error) {
	key := c.key("ratelimit", namespace)
	n, err := c.db.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.db.Expire(ctx, key, ttl)
	}
	return n, nil
}
