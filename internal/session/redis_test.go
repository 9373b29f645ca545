package session

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("KBA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: KBA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	runStoreSuite(t, func(t *testing.T, hMax int) Store {
		prefix := "kbtest:" + uuid.NewString() + ":"
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, prefix+"*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
		})
		return NewRedisStore(client, hMax, 0).WithPrefix(prefix)
	})
}
