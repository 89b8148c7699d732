// Package bindings holds the host resources a module can reach through its
// Env: a Postgres database, a Redis key/value namespace and Redis-backed
// queue producers.
package bindings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a key/value namespace stored in Redis under "kv:<namespace>:".
type KV struct {
	client redis.UniversalClient
	prefix string
}

func NewKV(client redis.UniversalClient, namespace string) *KV {
	return &KV{client: client, prefix: fmt.Sprintf("kv:%s:", namespace)}
}

func (kv *KV) key(k string) string {
	return kv.prefix + k
}

// Get returns the value for key. ok is false when the key does not exist.
func (kv *KV) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	data, err := kv.client.Get(ctx, kv.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return data, true, nil
}

// GetJSON decodes the value for key into dst.
func (kv *KV) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("kv decode %s: %w", key, err)
	}
	return true, nil
}

// Put stores value under key. A zero ttl keeps the key forever.
func (kv *KV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := kv.client.Set(ctx, kv.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (kv *KV) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Put(ctx, key, data, ttl)
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	return kv.client.Del(ctx, kv.key(key)).Err()
}

// Incr atomically increments an integer counter and returns the new value.
func (kv *KV) Incr(ctx context.Context, key string) (int64, error) {
	return kv.client.Incr(ctx, kv.key(key)).Result()
}

// List returns keys starting with prefix, without the namespace.
func (kv *KV) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := kv.client.Scan(ctx, 0, kv.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), kv.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	return keys, nil
}
