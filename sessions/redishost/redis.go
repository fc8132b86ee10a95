package redishost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/redis-mcp-server/sessions"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "mcp:sse:"
	defaultTTL       = 5 * time.Minute
)

// Registry implements sessions.Registry over a Redis client.
type Registry struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

var _ sessions.Registry = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithKeyPrefix sets the prefix for all keys.
func WithKeyPrefix(p string) Option {
	return func(r *Registry) {
		if p != "" {
			r.keyPrefix = p
		}
	}
}

// WithTTL sets the sliding session lifetime.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client redis.UniversalClient, opts ...Option) *Registry {
	r := &Registry{client: client, keyPrefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// --- Key helpers ---

func (r *Registry) sessionKey(id string) string { return r.keyPrefix + "session:{" + id + "}" }
func (r *Registry) queueKey(id string) string   { return r.keyPrefix + "queue:{" + id + "}" }

func (r *Registry) Create(ctx context.Context) (string, error) {
	for {
		id := uuid.NewString()
		ok, err := r.client.SetNX(ctx, r.sessionKey(id), string(sessions.StateActive), r.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		if ok {
			return id, nil
		}
	}
}

func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return n == 1, nil
}

// enqueueScript pushes ARGV[1] onto KEYS[2] only while KEYS[1] exists.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

func (r *Registry) Enqueue(ctx context.Context, id string, msg []byte) error {
	n, err := enqueueScript.Run(ctx, r.client,
		[]string{r.sessionKey(id), r.queueKey(id)},
		msg, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}

func (r *Registry) Next(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	// Polling the queue keeps the session alive.
	refreshed, err := r.client.Expire(ctx, r.sessionKey(id), r.ttl).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if !refreshed {
		return nil, sessions.ErrSessionNotFound
	}

	res, err := r.client.BLPop(ctx, timeout, r.queueKey(id)).Result()
	switch {
	case err == nil:
		// BLPOP returns [key, value].
		if len(res) != 2 {
			return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
		}
		return []byte(res[1]), nil
	case errors.Is(err, redis.Nil):
		ok, err := r.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, sessions.ErrTimeout
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
}

func (r *Registry) Destroy(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.sessionKey(id), r.queueKey(id)).Err(); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}
