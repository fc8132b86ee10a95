package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ggoodman/redis-mcp-server/mcp"
)

// Backend is the command surface the dispatcher routes tools/list and
// tools/call requests to.
type Backend interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error)
}

var (
	// ErrToolNotFound is returned by CallTool for an unregistered name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when arguments do not decode into the
	// tool's argument type.
	ErrInvalidArguments = errors.New("invalid arguments")
)
