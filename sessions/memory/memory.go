// Package memory is an in-process sessions.Registry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/redis-mcp-server/sessions"
	"github.com/google/uuid"
)

// Registry implements sessions.Registry with a mutex-guarded map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	newID    func() string
}

type session struct {
	mu        sync.Mutex
	queue     [][]byte
	destroyed bool

	notify chan struct{} // capacity 1; signals a non-empty queue
	closed chan struct{}
}

var _ sessions.Registry = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator replaces the UUIDv4 session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*session),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Create(ctx context.Context) (string, error) {
	s := &session{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}
	r.sessions[id] = s
	return id, nil
}

func (r *Registry) lookup(id string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	return r.lookup(id) != nil, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Enqueue(ctx context.Context, id string, msg []byte) error {
	s := r.lookup(id)
	if s == nil {
		return sessions.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return sessions.ErrSessionNotFound
	}
	s.queue = append(s.queue, append([]byte(nil), msg...))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Registry) Next(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	s := r.lookup(id)
	if s == nil {
		return nil, sessions.ErrSessionNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msg, ok, err := s.pop(); err != nil || ok {
			return msg, err
		}

		select {
		case <-s.notify:
		case <-s.closed:
			return nil, sessions.ErrSessionNotFound
		case <-timer.C:
			// A message may have raced the timer.
			if msg, ok, err := s.pop(); err != nil || ok {
				return msg, err
			}
			return nil, sessions.ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *session) pop() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, false, sessions.ErrSessionNotFound
	}
	if len(s.queue) == 0 {
		return nil, false, nil
	}
	msg := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if len(s.queue) > 0 {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return msg, true, nil
}

func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.destroyed {
		s.destroyed = true
		s.queue = nil
		close(s.closed)
	}
	return nil
}
