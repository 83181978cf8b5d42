package redislifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/lifecycle/lifecycletest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3, // Use separate DB for lifecycle tests
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	lifecycletest.RunStoreTests(t, func(t *testing.T) lifecycle.MarkerStore {
		return New(client)
	})
}
