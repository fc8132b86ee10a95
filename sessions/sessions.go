package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned for ids that were never created or have
	// been destroyed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTimeout is returned by Next when no message arrived in time.
	ErrTimeout = errors.New("session: no message before timeout")
)

// State is the logical status of a session.
type State string

const (
	StateActive  State = "active"
	StateClosing State = "closing"
)

// Registry tracks live sessions and their delivery queues. Implementations
// must be safe for concurrent use.
type Registry interface {
	// Create installs a new session with an empty queue and returns its id.
	Create(ctx context.Context) (string, error)
	// Exists reports whether id names a live session.
	Exists(ctx context.Context, id string) (bool, error)
	// Enqueue appends msg to the session's queue without blocking. It returns
	// ErrSessionNotFound when the session is unknown or destroyed.
	Enqueue(ctx context.Context, id string, msg []byte) error
	// Next removes and returns the oldest queued message, waiting up to
	// timeout. It returns ErrTimeout when nothing arrived, ErrSessionNotFound
	// once the session is destroyed, or the context's error.
	Next(ctx context.Context, id string, timeout time.Duration) ([]byte, error)
	// Destroy removes the session. Destroying an unknown session is a no-op.
	Destroy(ctx context.Context, id string) error
}
