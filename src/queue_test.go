package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-host/src/shim"
)

func queueLen(t *testing.T, env *testEnv) (int64, int64) {
	t.Helper()
	pending, dead, err := env.srv.queues.Len(context.Background(), "jobs")
	require.NoError(t, err)
	return pending, dead
}

func TestConsumerAcksBatch(t *testing.T) {
	mod := &echoModule{}
	env := newTestServer(t, mod)
	ctx := context.Background()

	_, err := env.srv.queues.SendBatch(ctx, "jobs", [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)

	n, err := env.srv.newConsumer("jobs").Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, mod.batches, 1)
	batch := mod.batches[0]
	assert.Equal(t, "jobs", batch.Queue)
	require.Len(t, batch.Messages, 3)
	assert.Equal(t, "a", string(batch.Messages[0].Body))

	pending, dead := queueLen(t, env)
	assert.Zero(t, pending)
	assert.Zero(t, dead)
	assert.Equal(t, int32(1), mod.starts.Load())
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	mod := &echoModule{queueErr: errors.New("downstream unavailable")}
	env := newTestServer(t, mod)
	ctx := context.Background()
	consumer := env.srv.newConsumer("jobs")

	_, err := env.srv.queues.Send(ctx, "jobs", []byte("job"))
	require.NoError(t, err)

	// QueueMaxRetries is 2: two requeues, then the dead letter list.
	for attempt := 0; attempt < 2; attempt++ {
		n, err := consumer.Poll(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		pending, dead := queueLen(t, env)
		assert.Equal(t, int64(1), pending, "attempt %d", attempt)
		assert.Zero(t, dead)
	}

	_, err = consumer.Poll(ctx)
	require.NoError(t, err)

	pending, dead := queueLen(t, env)
	assert.Zero(t, pending)
	assert.Equal(t, int64(1), dead)

	require.Len(t, mod.batches, 3)
	assert.Equal(t, 2, mod.batches[2].Messages[0].Attempts)
}

func TestConsumerDeadLettersWithoutQueueHandler(t *testing.T) {
	env := newTestServer(t, scheduledOnly{})
	ctx := context.Background()

	_, err := env.srv.queues.Send(ctx, "jobs", []byte("job"))
	require.NoError(t, err)

	_, err = env.srv.newConsumer("jobs").Poll(ctx)
	require.NoError(t, err)

	pending, dead := queueLen(t, env)
	assert.Zero(t, pending)
	assert.Equal(t, int64(1), dead)
}

func TestConsumerRunStopsWithContext(t *testing.T) {
	env := newTestServer(t, &echoModule{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, env.srv.newConsumer("jobs").Run(ctx))
}

// shutdownModule cancels the consumer's context while it holds the batch,
// the way a SIGTERM would.
type shutdownModule struct {
	cancel context.CancelFunc
}

func (m shutdownModule) Queue(ctx context.Context, _ *shim.MessageBatch, _ *shim.Env) error {
	m.cancel()
	return ctx.Err()
}

func TestConsumerRequeuesWhenCancelledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestServer(t, shutdownModule{cancel: cancel})

	_, err := env.srv.queues.SendBatch(context.Background(), "jobs", [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)

	n, err := env.srv.newConsumer("jobs").Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, dead := queueLen(t, env)
	assert.Equal(t, int64(2), pending)
	assert.Zero(t, dead)

	envs, err := env.srv.queues.Receive(context.Background(), "jobs", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	for _, e := range envs {
		assert.Equal(t, 1, e.Attempts)
	}
}
