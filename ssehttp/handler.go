package ssehttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/redis-mcp-server/auth"
	"github.com/ggoodman/redis-mcp-server/dispatch"
	"github.com/ggoodman/redis-mcp-server/internal/logctx"
	"github.com/ggoodman/redis-mcp-server/sessions"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	textMediaType         = contenttype.NewMediaType("text/plain")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// DefaultKeepalive bounds how long a stream stays silent.
	DefaultKeepalive = 15 * time.Second
	// DefaultMaxBodyBytes caps POST bodies.
	DefaultMaxBodyBytes int64 = 4 << 20

	sessionIDParam = "sessionId"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections that are
// not JSON-RPC exchanges. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	basePath     string
	keepalive    time.Duration
	maxBodyBytes int64
}

// WithLogger sets the slog logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithBasePath mounts every route under p (for example "/mcp").
func WithBasePath(p string) Option {
	return func(c *config) { c.basePath = strings.TrimRight(strings.TrimSpace(p), "/") }
}

// WithKeepalive sets the idle interval after which a keepalive comment is sent.
func WithKeepalive(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.keepalive = d
		}
	}
}

// WithMaxBodyBytes caps the size of POSTed messages.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// Handler implements the HTTP+SSE transport.
type Handler struct {
	mux  http.Handler
	log  *slog.Logger
	auth auth.Strategy

	registry   sessions.Registry
	dispatcher *dispatch.Dispatcher

	basePath     string
	keepalive    time.Duration
	maxBodyBytes int64

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a Handler. strategy may be nil, which disables
// authentication.
func New(registry sessions.Registry, dispatcher *dispatch.Dispatcher, strategy auth.Strategy, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("session registry is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if strategy == nil {
		strategy = auth.NoAuth{}
	}

	cfg := &config{
		logger:       slog.Default(),
		keepalive:    DefaultKeepalive,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.basePath != "" && !strings.HasPrefix(cfg.basePath, "/") {
		return nil, fmt.Errorf("base path must start with '/', got %q", cfg.basePath)
	}

	h := &Handler{
		log:          logctx.Wrap(cfg.logger),
		auth:         strategy,
		registry:     registry,
		dispatcher:   dispatcher,
		basePath:     cfg.basePath,
		keepalive:    cfg.keepalive,
		maxBodyBytes: cfg.maxBodyBytes,
		done:         make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("GET %s", h.HealthPath()), h.handleHealth)
	mux.HandleFunc(fmt.Sprintf("GET %s", h.SSEPath()), h.handleGetSSE)
	mux.HandleFunc(fmt.Sprintf("POST %s", h.MessagePath()), h.handlePostMessage)

	h.mux = auth.Middleware(strategy, h.log, h.HealthPath())(mux)
	return h, nil
}

// HealthPath, SSEPath and MessagePath return the mounted route paths.
func (h *Handler) HealthPath() string  { return h.basePath + "/health" }
func (h *Handler) SSEPath() string     { return h.basePath + "/sse" }
func (h *Handler) MessagePath() string { return h.basePath + "/message" }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// Close ends every open stream. It is safe to call more than once. Register it
// with http.Server.RegisterOnShutdown: Shutdown waits for active responses and
// a stream never finishes on its own.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", textMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
