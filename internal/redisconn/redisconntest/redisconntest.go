// Package redisconntest connects tests to a Redis server configured through
// the same REDIS_* variables the server reads. Tests are skipped when no
// server answers.
package redisconntest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/redis-mcp-server/internal/redisconn"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Client returns a connected client closed at test cleanup, or skips t.
func Client(t testing.TB) redis.UniversalClient {
	t.Helper()
	cfg := redisconn.Default()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		t.Fatalf("redis env: %v", err)
	}
	cl, err := redisconn.New(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		t.Skipf("skipping: redis at %s unavailable: %v", cfg.Addr(), err)
	}
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}
