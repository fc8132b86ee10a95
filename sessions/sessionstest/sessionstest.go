// Package sessionstest is the conformance suite for sessions.Registry
// implementations.
package sessionstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/redis-mcp-server/sessions"
)

// Factory creates a fresh Registry for one subtest.
type Factory func(t *testing.T) sessions.Registry

// waitTimeout is long enough for implementations that block in whole seconds.
const waitTimeout = time.Second

// Run runs the complete Registry test suite against the provided factory.
func Run(t *testing.T, factory Factory) {
	t.Run("Create_UniqueIDs", func(t *testing.T) { testCreateUniqueIDs(t, factory) })
	t.Run("Enqueue_UnknownSession", func(t *testing.T) { testEnqueueUnknown(t, factory) })
	t.Run("Next_FIFO", func(t *testing.T) { testFIFO(t, factory) })
	t.Run("Next_Timeout", func(t *testing.T) { testTimeout(t, factory) })
	t.Run("Next_WakesOnEnqueue", func(t *testing.T) { testWakesOnEnqueue(t, factory) })
	t.Run("Next_ContextDeadline", func(t *testing.T) { testContextDeadline(t, factory) })
	t.Run("Sessions_Isolated", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("Destroy_Idempotent", func(t *testing.T) { testDestroyIdempotent(t, factory) })
	t.Run("Enqueue_Concurrent", func(t *testing.T) { testConcurrentEnqueue(t, factory) })
}

func testCreateUniqueIDs(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := r.Create(ctx)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		t.Cleanup(func() { _ = r.Destroy(context.Background(), id) })
		if id == "" || seen[id] {
			t.Fatalf("bad or duplicate id %q", id)
		}
		seen[id] = true

		ok, err := r.Exists(ctx, id)
		if err != nil || !ok {
			t.Fatalf("created session %s not found (err=%v)", id, err)
		}
	}
}

func testEnqueueUnknown(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()

	if err := r.Enqueue(ctx, "ghost", []byte(`{}`)); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
	if ok, err := r.Exists(ctx, "ghost"); err != nil || ok {
		t.Fatalf("ghost should not exist (ok=%v err=%v)", ok, err)
	}
	if _, err := r.Next(ctx, "ghost", waitTimeout); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Next on unknown session: want ErrSessionNotFound, got %v", err)
	}
}

func newSession(t *testing.T, r sessions.Registry) string {
	t.Helper()
	id, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = r.Destroy(context.Background(), id) })
	return id
}

func testFIFO(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()
	id := newSession(t, r)

	for i := 0; i < 5; i++ {
		if err := r.Enqueue(ctx, id, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		msg, err := r.Next(ctx, id, waitTimeout)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if want := fmt.Sprintf(`{"n":%d}`, i); string(msg) != want {
			t.Fatalf("out of order: want %s, got %s", want, msg)
		}
	}
}

func testTimeout(t *testing.T, factory Factory) {
	r := factory(t)
	id := newSession(t, r)

	start := time.Now()
	_, err := r.Next(context.Background(), id, waitTimeout)
	if !errors.Is(err, sessions.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if time.Since(start) < waitTimeout/2 {
		t.Fatalf("Next returned too early")
	}
}

func testWakesOnEnqueue(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()
	id := newSession(t, r)

	got := make(chan []byte, 1)
	errc := make(chan error, 1)
	go func() {
		msg, err := r.Next(ctx, id, 5*time.Second)
		if err != nil {
			errc <- err
			return
		}
		got <- msg
	}()

	time.Sleep(50 * time.Millisecond)
	if err := r.Enqueue(ctx, id, []byte(`"wake"`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg) != `"wake"` {
			t.Fatalf("unexpected message %s", msg)
		}
	case err := <-errc:
		t.Fatalf("next: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("waiter not woken by enqueue")
	}
}

func testContextDeadline(t *testing.T, factory Factory) {
	r := factory(t)
	id := newSession(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.Next(ctx, id, 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context deadline error, got %v", err)
	}
}

func testIsolation(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()
	a := newSession(t, r)
	b := newSession(t, r)

	if err := r.Enqueue(ctx, a, []byte(`"for-a"`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := r.Next(ctx, b, waitTimeout); !errors.Is(err, sessions.ErrTimeout) {
		t.Fatalf("session b should see nothing, got %v", err)
	}
	msg, err := r.Next(ctx, a, waitTimeout)
	if err != nil || string(msg) != `"for-a"` {
		t.Fatalf("session a: got %s (err=%v)", msg, err)
	}
}

func testDestroyIdempotent(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()
	id, err := r.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Enqueue(ctx, id, []byte(`"pending"`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := r.Destroy(ctx, id); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := r.Destroy(ctx, id); err != nil {
		t.Fatalf("second destroy should be a no-op, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Enqueue(ctx, id, []byte(`"late"`)) }()
	select {
	case err := <-done:
		if !errors.Is(err, sessions.ErrSessionNotFound) {
			t.Fatalf("enqueue after destroy: want ErrSessionNotFound, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("enqueue after destroy blocked")
	}

	if ok, _ := r.Exists(ctx, id); ok {
		t.Fatalf("destroyed session still exists")
	}
	if _, err := r.Next(ctx, id, waitTimeout); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("next after destroy: want ErrSessionNotFound, got %v", err)
	}
}

func testConcurrentEnqueue(t *testing.T, factory Factory) {
	r := factory(t)
	ctx := context.Background()
	id := newSession(t, r)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := r.Enqueue(ctx, id, []byte(fmt.Sprintf(`"%d-%d"`, w, i))); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// Per-writer order must be preserved.
	last := make(map[int]int)
	for n := 0; n < writers*perWriter; n++ {
		msg, err := r.Next(ctx, id, waitTimeout)
		if err != nil {
			t.Fatalf("next %d: %v", n, err)
		}
		var w, i int
		if _, err := fmt.Sscanf(string(msg), `"%d-%d"`, &w, &i); err != nil {
			t.Fatalf("parse %s: %v", msg, err)
		}
		if prev, ok := last[w]; ok && i != prev+1 {
			t.Fatalf("writer %d: %d after %d", w, i, prev)
		}
		last[w] = i
	}
	if _, err := r.Next(ctx, id, waitTimeout); !errors.Is(err, sessions.ErrTimeout) {
		t.Fatalf("queue should be drained, got %v", err)
	}
}
