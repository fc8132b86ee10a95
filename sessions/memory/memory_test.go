package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/redis-mcp-server/sessions"
	"github.com/ggoodman/redis-mcp-server/sessions/sessionstest"
)

func TestMemoryRegistry(t *testing.T) {
	sessionstest.Run(t, func(t *testing.T) sessions.Registry { return New() })
}

func TestDeterministicIDs(t *testing.T) {
	n := 0
	r := New(WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("sess-%d", (n+1)/2)
	}))
	ctx := context.Background()

	a, _ := r.Create(ctx)
	b, _ := r.Create(ctx)
	if a != "sess-1" {
		t.Fatalf("want sess-1, got %s", a)
	}
	if a == b {
		t.Fatalf("duplicate id %s reused", b)
	}
	if r.Len() != 2 {
		t.Fatalf("want 2 sessions, got %d", r.Len())
	}
}

func TestDestroyWakesWaiter(t *testing.T) {
	r := New()
	ctx := context.Background()
	id, _ := r.Create(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := r.Next(ctx, id, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = r.Destroy(ctx, id)

	select {
	case err := <-done:
		if !errors.Is(err, sessions.ErrSessionNotFound) {
			t.Fatalf("want ErrSessionNotFound, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not return after Destroy")
	}
}
