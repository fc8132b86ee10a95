// Package sessions defines the registry of live SSE sessions.
//
// A session is created when an SSE stream is accepted and destroyed when the
// stream ends. Each session owns a FIFO queue of serialized JSON-RPC replies:
// POST handlers enqueue into it and the owning stream drains it with Next.
//
// Implementations
//
//	memory    : in-process map, the default for a single server
//	redishost : Redis lists and keys, for deployments where the POST and the
//	            SSE stream may land on different processes
//
// sessionstest holds the conformance suite both implementations run.
package sessions
