package bindings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestKVPutGet(t *testing.T) {
	mr, client := newRedis(t)
	kv := NewKV(client, "counter")
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, "greeting", []byte("hello"), 0))
	v, ok, err := kv.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", string(v))
	assert.True(t, mr.Exists("kv:counter:greeting"))

	require.NoError(t, kv.Delete(ctx, "greeting"))
	_, ok, err = kv.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVTTL(t *testing.T) {
	mr, client := newRedis(t)
	kv := NewKV(client, "ns")
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "session", []byte("x"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := kv.Get(ctx, "session")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVJSONAndIncr(t *testing.T) {
	_, client := newRedis(t)
	kv := NewKV(client, "ns")
	ctx := context.Background()

	type cron struct {
		Expr string `json:"expr"`
	}
	require.NoError(t, kv.PutJSON(ctx, "last", cron{Expr: "* * * * *"}, 0))

	var got cron
	ok, err := kv.GetJSON(ctx, "last", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "* * * * *", got.Expr)

	for i := int64(1); i <= 3; i++ {
		n, err := kv.Incr(ctx, "hits")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
}

func TestKVList(t *testing.T) {
	_, client := newRedis(t)
	kv := NewKV(client, "ns")
	other := NewKV(client, "other")
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "user:1", []byte("a"), 0))
	require.NoError(t, kv.Put(ctx, "user:2", []byte("b"), 0))
	require.NoError(t, kv.Put(ctx, "job:1", []byte("c"), 0))
	require.NoError(t, other.Put(ctx, "user:3", []byte("d"), 0))

	keys, err := kv.List(ctx, "user:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}
