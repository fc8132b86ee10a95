package ssehttp

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/redis-mcp-server/dispatch"
	"github.com/ggoodman/redis-mcp-server/internal/logctx"
	"github.com/ggoodman/redis-mcp-server/sessions"
)

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.InfoContext(ctx, "http.post.reject", reasonAttr("body_too_large"))
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.log.InfoContext(ctx, "http.post.reject", reasonAttr("read_failed"), errAttr(err))
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.log.InfoContext(ctx, "http.post.reject", reasonAttr("empty_body"))
		writeJSONError(w, http.StatusBadRequest, "Empty request body")
		return
	}

	req, out := h.dispatcher.Decode(body)
	if out != nil {
		h.log.InfoContext(ctx, "http.post.reject", reasonAttr("malformed"), slog.Int("status", out.Status))
		writeOutcome(w, out)
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: req.Type()})

	sessionID := r.URL.Query().Get(sessionIDParam)
	if sessionID != "" {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessionID})
	}

	if req.IsNotification() {
		writeOutcome(w, h.dispatcher.Handle(ctx, req))
		h.log.InfoContext(ctx, "http.post.ok", slog.Int("status", http.StatusNoContent), durationAttr(start))
		return
	}

	if sessionID != "" {
		ok, err := h.registry.Exists(ctx, sessionID)
		if err != nil {
			h.log.ErrorContext(ctx, "http.post.fail", reasonAttr("session_lookup"), errAttr(err))
			writeJSONError(w, http.StatusInternalServerError, "Session lookup failed")
			return
		}
		if !ok {
			h.log.InfoContext(ctx, "http.post.reject", reasonAttr("session_not_found"))
			writeJSONError(w, http.StatusNotFound, "SSE session not found or expired")
			return
		}
	}

	out = h.dispatcher.Handle(ctx, req)

	if sessionID != "" && out.Deliverable {
		if err := h.registry.Enqueue(ctx, sessionID, out.Body); err != nil {
			if errors.Is(err, sessions.ErrSessionNotFound) {
				h.log.InfoContext(ctx, "http.post.reject", reasonAttr("session_not_found"))
				writeJSONError(w, http.StatusNotFound, "SSE session not found or expired")
				return
			}
			h.log.ErrorContext(ctx, "http.post.fail", reasonAttr("enqueue"), errAttr(err))
			writeJSONError(w, http.StatusInternalServerError, "Failed to deliver response")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.ok", slog.Int("status", http.StatusAccepted), durationAttr(start))
		return
	}

	writeOutcome(w, out)
	h.log.InfoContext(ctx, "http.post.ok", slog.Int("status", out.Status), durationAttr(start))
}

func writeOutcome(w http.ResponseWriter, out *dispatch.Outcome) {
	if out.Body == nil {
		w.WriteHeader(out.Status)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(out.Status)
	_, _ = w.Write(out.Body)
}

func reasonAttr(reason string) slog.Attr { return slog.String("reason", reason) }

func errAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}

func durationAttr(start time.Time) slog.Attr {
	return slog.Duration("dur", time.Since(start))
}
