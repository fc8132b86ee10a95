package ssehttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/redis-mcp-server/auth"
	"github.com/ggoodman/redis-mcp-server/auth/authtest"
	"github.com/ggoodman/redis-mcp-server/dispatch"
	"github.com/ggoodman/redis-mcp-server/sessions/memory"
	"github.com/ggoodman/redis-mcp-server/ssehttp"
	"github.com/ggoodman/redis-mcp-server/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	srv      *httptest.Server
	handler  *ssehttp.Handler
	registry *memory.Registry
}

func newHarness(t *testing.T, strategy auth.Strategy, opts ...ssehttp.Option) *harness {
	t.Helper()
	backend := tools.NewContainer(
		tools.NewTool("echo", func(ctx context.Context, a echoArgs) (tools.Result, error) {
			return tools.Text(a.Text), nil
		}),
	)
	reg := memory.New()
	opts = append([]ssehttp.Option{
		ssehttp.WithLogger(quietLogger()),
		ssehttp.WithKeepalive(50 * time.Millisecond),
	}, opts...)
	h, err := ssehttp.New(reg, dispatch.New(backend, dispatch.WithLogger(quietLogger())), strategy, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &harness{srv: srv, handler: h, registry: reg}
}

func (h *harness) post(t *testing.T, path, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

type sseEvent struct {
	Event   string
	Data    string
	Comment string
}

type sseStream struct {
	resp   *http.Response
	events chan sseEvent
	cancel context.CancelFunc
	ctx    context.Context
}

func (h *harness) open(t *testing.T, path string, header http.Header) *sseStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s := &sseStream{resp: resp, events: make(chan sseEvent, 64), cancel: cancel, ctx: ctx}
	go s.read()
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return s
}

func (s *sseStream) read() {
	defer close(s.events)
	br := bufio.NewReader(s.resp.Body)
	var ev sseEvent
	var data []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			ev.Data = strings.Join(data, "\n")
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
			ev, data = sseEvent{}, nil
		case strings.HasPrefix(line, ":"):
			ev.Comment = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (s *sseStream) next(t *testing.T) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-s.events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return sseEvent{}
}

// nextMessage skips keepalive comments.
func (s *sseStream) nextMessage(t *testing.T) sseEvent {
	t.Helper()
	for {
		ev := s.next(t)
		if ev.Comment == "" {
			return ev
		}
	}
}

// handshake consumes the session and endpoint events.
func (s *sseStream) handshake(t *testing.T) (sessionID, endpoint string) {
	t.Helper()
	ev := s.next(t)
	require.Equal(t, "session", ev.Event)
	sessionID = ev.Data
	ev = s.next(t)
	require.Equal(t, "endpoint", ev.Event)
	return sessionID, ev.Data
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeReply(t *testing.T, b []byte) rpcReply {
	t.Helper()
	var r rpcReply
	require.NoError(t, json.Unmarshal(b, &r), "body: %s", b)
	return r
}

type transportError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	h := newHarness(t, auth.NewStaticKey([]string{"secret"}))

	resp, err := h.srv.Client().Get(h.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestStreamAnnouncesSessionAndEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	s := h.open(t, "/sse", nil)

	id, endpoint := s.handshake(t)
	require.NotEmpty(t, id)
	assert.Equal(t, "/message?sessionId="+id, endpoint)

	ok, err := h.registry.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBasePathPrefixesRoutes(t *testing.T) {
	h := newHarness(t, nil, ssehttp.WithBasePath("/mcp/"))
	s := h.open(t, "/mcp/sse", nil)

	id, endpoint := s.handshake(t)
	assert.Equal(t, "/mcp/message?sessionId="+id, endpoint)

	resp, _ := h.post(t, endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "message", s.nextMessage(t).Event)
}

func TestRepliesDeliveredInOrderExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	s := h.open(t, "/sse", nil)
	_, endpoint := s.handshake(t)

	for i := 1; i <= 3; i++ {
		resp, body := h.post(t, endpoint, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i), nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Empty(t, body)
	}

	for i := 1; i <= 3; i++ {
		ev := s.nextMessage(t)
		require.Equal(t, "message", ev.Event)
		r := decodeReply(t, []byte(ev.Data))
		assert.Equal(t, fmt.Sprint(i), string(r.ID))
		assert.JSONEq(t, `{}`, string(r.Result))
	}

	// Only keepalives follow once the queue is drained.
	ev := s.next(t)
	assert.Equal(t, "keepalive", ev.Comment)
	assert.Empty(t, ev.Event)
}

func TestToolsCallOverStream(t *testing.T) {
	h := newHarness(t, nil)
	s := h.open(t, "/sse", nil)
	_, endpoint := s.handshake(t)

	resp, _ := h.post(t, endpoint, `{"jsonrpc":"2.0","id":"c1","method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	r := decodeReply(t, []byte(s.nextMessage(t).Data))
	assert.Equal(t, `"c1"`, string(r.ID))
	assert.JSONEq(t, `{"content":[{"type":"text","text":"hi"}]}`, string(r.Result))
}

func TestDirectReplyWithoutSession(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.post(t, "/message", `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	r := decodeReply(t, body)
	assert.Equal(t, "7", string(r.ID))
	assert.Contains(t, string(r.Result), `"echo"`)
}

func TestNotificationsAreAlways204(t *testing.T) {
	h := newHarness(t, nil)

	for _, path := range []string{"/message", "/message?sessionId=ghost"} {
		resp, body := h.post(t, path, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Empty(t, body, path)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.post(t, "/message?sessionId=ghost", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var te transportError
	require.NoError(t, json.Unmarshal(body, &te))
	assert.Equal(t, http.StatusNotFound, te.Error.Code)
	assert.Equal(t, "SSE session not found or expired", te.Error.Message)
}

func TestEmptyBodyIs400(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.post(t, "/message", "  \n", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var te transportError
	require.NoError(t, json.Unmarshal(body, &te))
	assert.Equal(t, "Empty request body", te.Error.Message)
}

func TestParseErrorIsAnsweredDirectly(t *testing.T) {
	h := newHarness(t, nil)
	s := h.open(t, "/sse", nil)
	_, endpoint := s.handshake(t)

	resp, body := h.post(t, endpoint, `{"jsonrpc":`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r := decodeReply(t, body)
	require.NotNil(t, r.Error)
	assert.Equal(t, -32700, r.Error.Code)
	assert.Equal(t, "null", string(r.ID))

	ev := s.next(t)
	assert.Equal(t, "keepalive", ev.Comment, "parse errors must not be pushed to the stream")
}

func TestBodyTooLarge(t *testing.T) {
	h := newHarness(t, nil, ssehttp.WithMaxBodyBytes(16))

	resp, _ := h.post(t, "/message", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestStreamEndDestroysSession(t *testing.T) {
	h := newHarness(t, nil)
	s := h.open(t, "/sse", nil)
	id, endpoint := s.handshake(t)

	s.cancel()
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	ok, err := h.registry.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)

	resp, _ := h.post(t, endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseEndsStreams(t *testing.T) {
	h := newHarness(t, nil)
	s := h.open(t, "/sse", nil)
	s.handshake(t)

	h.handler.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("stream still open after Close")
		}
	}
}

func TestStreamRejectsUnacceptableMediaType(t *testing.T) {
	h := newHarness(t, nil)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	assert.Equal(t, 0, h.registry.Len())
}

func TestStaticKeyGuardsTransport(t *testing.T) {
	h := newHarness(t, auth.NewStaticKey([]string{"secret"}))

	resp, body := h.post(t, "/message", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	r := decodeReply(t, body)
	require.NotNil(t, r.Error)
	assert.Equal(t, -32001, r.Error.Code)
	assert.Equal(t, "Missing X-API-Key header", r.Error.Message)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set(auth.APIKeyHeader, "wrong")
	sresp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	sresp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, sresp.StatusCode)
	assert.Equal(t, 0, h.registry.Len())

	key := http.Header{auth.APIKeyHeader: {"secret"}}
	s := h.open(t, "/sse", key)
	_, endpoint := s.handshake(t)
	resp, _ = h.post(t, endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, key)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestBearerGuardsTransport(t *testing.T) {
	v := authtest.NewVerifier()
	v.Allow("good-token", "client-a", "MCP.Access")
	h := newHarness(t, auth.NewBearer(v, "MCP.Access"))

	resp, _ := h.post(t, "/message", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, http.Header{"Authorization": {"Bearer bad-token"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Bearer"))

	resp, body := h.post(t, "/message", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, http.Header{"Authorization": {"Bearer good-token"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", string(decodeReply(t, body).ID))
}

func TestNewValidatesArguments(t *testing.T) {
	d := dispatch.New(tools.NewContainer())

	_, err := ssehttp.New(nil, d, nil)
	assert.Error(t, err)

	_, err = ssehttp.New(memory.New(), nil, nil)
	assert.Error(t, err)

	_, err = ssehttp.New(memory.New(), d, nil, ssehttp.WithBasePath("mcp"))
	assert.Error(t, err)
}
