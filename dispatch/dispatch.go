// Package dispatch turns one inbound JSON-RPC message into the reply the HTTP
// layer delivers, either directly or through an SSE session.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/redis-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/redis-mcp-server/internal/logctx"
	"github.com/ggoodman/redis-mcp-server/mcp"
	"github.com/ggoodman/redis-mcp-server/tools"
)

// DefaultServerInfo is announced in initialize replies unless overridden.
var DefaultServerInfo = mcp.ImplementationInfo{Name: "Redis MCP Server", Version: "0.3.4"}

// Outcome is what the HTTP layer must send for one message.
type Outcome struct {
	// Status is the HTTP status used when the outcome is answered directly.
	Status int
	// Body is the serialized reply; nil for notifications.
	Body []byte
	// Deliverable reports whether Body may be routed to an SSE session
	// instead of the HTTP response. Parse and internal errors are not.
	Deliverable bool
}

// Dispatcher routes requests to the tool backend.
type Dispatcher struct {
	backend tools.Backend
	info    mcp.ImplementationInfo
	log     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = logctx.Wrap(l)
		}
	}
}

// WithServerInfo overrides the serverInfo sent in initialize replies.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(d *Dispatcher) { d.info = info }
}

// New creates a Dispatcher over backend.
func New(backend tools.Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{backend: backend, info: DefaultServerInfo, log: logctx.Wrap(slog.Default())}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses body. On failure it returns the error outcome to send.
func (d *Dispatcher) Decode(body []byte) (*jsonrpc.Request, *Outcome) {
	req, err := jsonrpc.ParseRequest(body)
	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, jsonrpc.ErrParse):
		return nil, d.direct(http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error: Invalid JSON", nil))
	default:
		return nil, d.direct(http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: "+err.Error(), nil))
	}
}

// Handle executes req. Notifications yield a 204 outcome without a body.
func (d *Dispatcher) Handle(ctx context.Context, req *jsonrpc.Request) (out *Outcome) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   req.Type(),
	})

	if req.IsNotification() {
		d.notify(ctx, req)
		return &Outcome{Status: http.StatusNoContent}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			d.log.ErrorContext(ctx, "rpc.dispatch.panic", slog.Any("panic", p))
			out = d.internalError(req.ID, fmt.Errorf("%v", p))
		}
		d.log.DebugContext(ctx, "rpc.dispatch.done",
			slog.Int("status", out.Status),
			slog.Duration("dur", time.Since(start)))
	}()

	d.log.InfoContext(ctx, "rpc.dispatch.start")

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		var p mcp.InitializeRequest
		if len(req.Params) > 0 && json.Unmarshal(req.Params, &p) == nil {
			d.log.InfoContext(ctx, "rpc.initialize",
				slog.String("client_name", p.ClientInfo.Name),
				slog.String("client_version", p.ClientInfo.Version),
				slog.String("protocol_version", p.ProtocolVersion))
		}
		return d.result(req.ID, mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			Capabilities:    mcp.DefaultServerCapabilities(),
			ServerInfo:      d.info,
		})

	case mcp.PingMethod:
		return d.result(req.ID, mcp.EmptyResult{})

	case mcp.ToolsListMethod:
		list, err := d.backend.ListTools(ctx)
		if err != nil {
			d.log.ErrorContext(ctx, "rpc.tools.list.fail", slog.String("err", err.Error()))
			return d.internalError(req.ID, err)
		}
		if list == nil {
			list = []mcp.Tool{}
		}
		return d.result(req.ID, mcp.ListToolsResult{Tools: list})

	case mcp.ToolsCallMethod:
		return d.callTool(ctx, req)

	default:
		d.log.WarnContext(ctx, "rpc.method.unknown")
		return d.errorReply(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method)
	}
}

func (d *Dispatcher) notify(ctx context.Context, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		d.log.InfoContext(ctx, "rpc.notify.initialized")
	case mcp.CancelledNotificationMethod:
		var p mcp.CancelledNotification
		_ = json.Unmarshal(req.Params, &p)
		d.log.InfoContext(ctx, "rpc.notify.cancelled",
			slog.String("request_id", string(p.RequestID)),
			slog.String("reason", p.Reason))
	default:
		d.log.DebugContext(ctx, "rpc.notify.other")
	}
}

func (d *Dispatcher) callTool(ctx context.Context, req *jsonrpc.Request) *Outcome {
	var p mcp.CallToolRequestReceived
	if len(req.Params) == 0 {
		return d.errorReply(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: missing tool name")
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return d.errorReply(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: "+err.Error())
	}
	if p.Name == "" {
		return d.errorReply(req.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params: missing tool name")
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: p.Name})
	start := time.Now()
	res, err := d.backend.CallTool(ctx, p.Name, p.Arguments)
	if err != nil {
		d.log.WarnContext(ctx, "tool.call.fail",
			slog.String("err", err.Error()),
			slog.Duration("dur", time.Since(start)))
		return d.errorReply(req.ID, jsonrpc.ErrorCodeToolExecution, "Tool execution failed: "+err.Error())
	}

	blocks, err := tools.Normalize(res)
	if err != nil {
		return d.internalError(req.ID, err)
	}
	d.log.InfoContext(ctx, "tool.call.ok",
		slog.Int("blocks", len(blocks)),
		slog.Duration("dur", time.Since(start)))
	return d.result(req.ID, mcp.CallToolResult{Content: blocks})
}

func (d *Dispatcher) result(id *jsonrpc.RequestID, v any) *Outcome {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return d.internalError(id, err)
	}
	return d.reply(http.StatusOK, resp)
}

func (d *Dispatcher) errorReply(id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) *Outcome {
	return d.reply(http.StatusOK, jsonrpc.NewErrorResponse(id, code, msg, nil))
}

func (d *Dispatcher) reply(status int, resp *jsonrpc.Response) *Outcome {
	b, err := json.Marshal(resp)
	if err != nil {
		return d.internalError(resp.ID, err)
	}
	return &Outcome{Status: status, Body: b, Deliverable: true}
}

func (d *Dispatcher) internalError(id *jsonrpc.RequestID, err error) *Outcome {
	return d.direct(http.StatusInternalServerError, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "Internal error: "+err.Error(), nil))
}

// direct serializes an envelope that is always answered on the HTTP response.
func (d *Dispatcher) direct(status int, resp *jsonrpc.Response) *Outcome {
	b, err := json.Marshal(resp)
	if err != nil {
		// Only the id can fail to marshal; fall back to a null id.
		resp.ID = nil
		b, _ = json.Marshal(resp)
	}
	return &Outcome{Status: status, Body: b}
}
