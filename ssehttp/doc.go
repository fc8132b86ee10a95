// Package ssehttp serves the HTTP+SSE transport: a health check, a
// long-lived Server-Sent Events stream per client session, and a POST
// endpoint carrying one JSON-RPC message per request.
//
// Routes (relative to the configured base path):
//
//	GET  /health                 200 "OK", never authenticated
//	GET  /sse                    opens a session stream
//	POST /message[?sessionId=]   submits one JSON-RPC message
//
// # Stream
//
// A stream announces itself with a "session" event carrying the session id
// and an "endpoint" event carrying the URL to POST to. Replies to requests
// POSTed with that sessionId arrive as "message" events in the order they
// were enqueued. When no reply arrives for the keepalive interval a
// ": keepalive" comment is written. The session is destroyed when the stream
// ends for any reason.
//
// # Delivery
//
// A request POSTed with a live sessionId is answered 202 with an empty body
// and its reply is pushed on the stream. Without sessionId the reply is the
// POST response body. Notifications are always answered 204. Parse and
// internal errors are always answered on the POST response.
//
// Example:
//
//	h, err := ssehttp.New(registry, dispatch.New(backend), strategy,
//	    ssehttp.WithLogger(log),
//	)
//	if err != nil { return err }
//	srv := &http.Server{Addr: ":8000", Handler: h}
//	srv.RegisterOnShutdown(h.Close)
package ssehttp
