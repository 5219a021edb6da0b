package history

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// DefaultRedisPrefix namespaces history keys.
const DefaultRedisPrefix = "zyro:history:"

// RedisBackend stores each window as a JSON array under prefix+userID.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to addr and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

// Load scans all history keys.
func (b *RedisBackend) Load(ctx context.Context) (map[string][]prompt.Message, error) {
	out := make(map[string][]prompt.Message)
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := b.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "get %s", key)
		}
		var window []prompt.Message
		if err := json.Unmarshal(raw, &window); err != nil {
			return nil, errors.Wrapf(err, "decode %s", key)
		}
		out[strings.TrimPrefix(key, b.prefix)] = window
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan history keys")
	}
	return out, nil
}

// Write replaces the user's key.
func (b *RedisBackend) Write(ctx context.Context, userID string, window []prompt.Message) error {
	raw, err := json.Marshal(window)
	if err != nil {
		return errors.Wrap(err, "encode window")
	}
	return errors.Wrapf(b.client.Set(ctx, b.prefix+userID, raw, 0).Err(), "set %s", b.prefix+userID)
}

// Close closes the client.
func (b *RedisBackend) Close() error { return b.client.Close() }

var _ Backend = (*RedisBackend)(nil)
