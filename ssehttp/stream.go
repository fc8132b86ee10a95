package ssehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/redis-mcp-server/internal/logctx"
	"github.com/ggoodman/redis-mcp-server/sessions"
)

// destroyTimeout bounds session teardown after the client has gone away.
const destroyTimeout = 5 * time.Second

func (h *Handler) handleGetSSE(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			h.log.InfoContext(ctx, "sse.stream.reject", reasonAttr("not_acceptable"), errAttr(err))
			writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.stream.fail", reasonAttr("no_flusher"))
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID, err := h.registry.Create(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.session.create.fail", errAttr(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	sd := &logctx.SessionData{SessionID: sessionID, State: string(sessions.StateActive)}
	ctx = logctx.WithSessionData(ctx, sd)

	defer func() {
		sd.State = string(sessions.StateClosing)
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
		defer cancel()
		if err := h.registry.Destroy(dctx, sessionID); err != nil {
			h.log.ErrorContext(dctx, "sse.session.destroy.fail", errAttr(err))
		}
		h.log.InfoContext(dctx, "sse.stream.end", durationAttr(start))
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	wf := &lockedWriteFlusher{w: w, f: flusher}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	endpoint := fmt.Sprintf("%s?%s=%s", h.MessagePath(), sessionIDParam, url.QueryEscape(sessionID))
	if err := writeSSEEvent(wf, "session", []byte(sessionID)); err != nil {
		h.log.InfoContext(ctx, "sse.stream.write.fail", errAttr(err))
		return
	}
	if err := writeSSEEvent(wf, "endpoint", []byte(endpoint)); err != nil {
		h.log.InfoContext(ctx, "sse.stream.write.fail", errAttr(err))
		return
	}

	for {
		msg, err := h.registry.Next(ctx, sessionID, h.keepalive)
		switch {
		case err == nil:
			if err := writeSSEEvent(wf, "message", msg); err != nil {
				h.log.InfoContext(ctx, "sse.stream.write.fail", errAttr(err))
				return
			}
			h.log.DebugContext(ctx, "sse.message.sent")
		case errors.Is(err, sessions.ErrTimeout):
			if err := writeSSEComment(wf, "keepalive"); err != nil {
				h.log.InfoContext(ctx, "sse.stream.write.fail", errAttr(err))
				return
			}
		case ctx.Err() != nil:
			h.log.InfoContext(ctx, "sse.stream.cancel", errAttr(context.Cause(ctx)))
			return
		case errors.Is(err, sessions.ErrSessionNotFound):
			h.log.InfoContext(ctx, "sse.stream.gone")
			return
		default:
			h.log.ErrorContext(ctx, "sse.stream.fail", errAttr(err))
			return
		}
	}
}

// lockedWriteFlusher serializes writes to the stream and flushes after each.
type lockedWriteFlusher struct {
	mu sync.Mutex
	w  io.Writer
	f  http.Flusher
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.w.Write(p)
	if err != nil {
		return n, err
	}
	l.f.Flush()
	return n, nil
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Flush()
}

// writeSSEEvent writes one event frame. Multi-line data is split across
// data: fields so the frame stays well formed.
func writeSSEEvent(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func writeSSEComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}
