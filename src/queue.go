package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"worker-host/src/bindings"
	"worker-host/src/shim"
)

const settleTimeout = 5 * time.Second

// Consumer feeds batches from one Redis queue into the queue entrypoint.
type Consumer struct {
	name       string
	queues     *bindings.Queues
	shim       *shim.Shim
	metrics    *Metrics
	batchSize  int
	wait       time.Duration
	maxRetries int
}

func (s *server) newConsumer(name string) *Consumer {
	return &Consumer{
		name:       name,
		queues:     s.queues,
		shim:       s.shim,
		metrics:    s.metrics,
		batchSize:  s.cfg.QueueBatchSize,
		wait:       s.cfg.QueueBatchTimeout,
		maxRetries: s.cfg.QueueMaxRetries,
	}
}

// Run polls until ctx is done. Redis errors are logged and retried.
func (c *Consumer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("queue %s: %v", c.name, err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}

// Poll receives one batch, delivers it, and settles every message. It
// returns the number of messages received.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	envs, err := c.queues.Receive(ctx, c.name, c.batchSize, c.wait)
	if err != nil || len(envs) == 0 {
		return 0, err
	}

	batch := &shim.MessageBatch{Queue: c.name, Messages: make([]*shim.Message, len(envs))}
	byMessage := make(map[*shim.Message]bindings.Envelope, len(envs))
	for i, env := range envs {
		msg := &shim.Message{
			ID:        env.ID,
			Timestamp: env.Timestamp,
			Body:      env.Body,
			Attempts:  env.Attempts,
		}
		batch.Messages[i] = msg
		byMessage[msg] = env
	}

	handlerErr := c.shim.Queue(ctx, batch)
	acked, retried := shim.Settle(batch, handlerErr)
	c.metrics.QueueSettled(c.name, "acked", len(acked))

	// The messages are already off the list, so they are settled even when
	// ctx was cancelled during delivery.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	// A module without a queue handler will never accept these.
	missing := errors.Is(handlerErr, shim.ErrMissingCapability)
	var requeued, dead int
	var errs []error
	for _, msg := range retried {
		env := byMessage[msg]
		if missing || env.Attempts >= c.maxRetries {
			if err := c.queues.DeadLetter(settleCtx, c.name, env); err != nil {
				errs = append(errs, fmt.Errorf("dead-letter %s: %w", env.ID, err))
				continue
			}
			dead++
		} else {
			if err := c.queues.Requeue(settleCtx, c.name, env); err != nil {
				errs = append(errs, fmt.Errorf("requeue %s: %w", env.ID, err))
				continue
			}
			requeued++
		}
	}
	c.metrics.QueueSettled(c.name, "retried", requeued)
	c.metrics.QueueSettled(c.name, "dead_lettered", dead)

	return len(envs), errors.Join(errs...)
}
