// Package mcp contains the Model Context Protocol data types and method names
// served by this module: the initialize handshake, ping, and the tool surface.
// It is free of transport logic; the dispatch and ssehttp packages marshal
// these types into JSON-RPC envelopes.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{mcp.TextBlock("hello")},
//	}
package mcp
