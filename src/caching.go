package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// newRedisClient creates the client shared by the KV and queue bindings.
// Nothing is dialed until first use.
func newRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: "",
		DB:       0,
	})
}

// waitFor calls check until it succeeds, up to attempts times.
func waitFor(ctx context.Context, name string, attempts int, backoff time.Duration, check func(context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = check(pingCtx)
		cancel()

		if err == nil {
			return nil
		}

		log.Printf("%s connection attempt %d failed: %v", name, i+1, err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to connect to %s after %d attempts: %w", name, attempts, err)
}
