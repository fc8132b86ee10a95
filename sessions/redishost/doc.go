// Package redishost implements sessions.Registry on Redis so that the POST
// carrying a request and the SSE stream draining its reply may be served by
// different processes.
//
// Keys
//
//	<prefix>session:{<id>}  marker holding the session state, with a sliding TTL
//	<prefix>queue:{<id>}    list of pending replies, drained with BLPOP
//
// The braces are a cluster hash tag so both keys of a session share a slot.
// Enqueue runs as a Lua script that pushes only while the marker exists, so a
// destroyed session can never be revived by a late reply.
//
// Example:
//
//	reg := redishost.New(client, redishost.WithKeyPrefix("mcp:"))
package redishost
