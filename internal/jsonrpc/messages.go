package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

var (
	// ErrParse indicates the payload is not valid JSON.
	ErrParse = errors.New("jsonrpc: parse error")
	// ErrInvalidRequest indicates valid JSON that is not a single message object.
	ErrInvalidRequest = errors.New("jsonrpc: invalid request")
)

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
//
// HasID records whether the "id" member was present at all. A request whose id
// is the literal null still has HasID set and is answered.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
	HasID          bool            `json:"-"`
}

// IsNotification reports whether the message must not be replied to.
func (r *Request) IsNotification() bool { return !r.HasID }

// Type returns "notification" or "request".
func (r *Request) Type() string {
	if r.IsNotification() {
		return "notification"
	}
	return "request"
}

// ParseRequest decodes a single inbound message. Errors wrap ErrParse for
// malformed JSON and ErrInvalidRequest for well-formed JSON that is not a
// message object. The id may be any JSON value.
func ParseRequest(data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, ErrParse
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidRequest)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	req := &Request{}
	if v, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(v, &req.JSONRPCVersion)
	}
	if v, ok := fields["method"]; ok {
		if err := json.Unmarshal(v, &req.Method); err != nil {
			return nil, fmt.Errorf("%w: method must be a string", ErrInvalidRequest)
		}
	}
	if v, ok := fields["params"]; ok && !bytes.Equal(bytes.TrimSpace(v), nullID) {
		req.Params = v
	}
	if v, ok := fields["id"]; ok {
		var id RequestID
		if err := id.UnmarshalJSON(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.ID = &id
		req.HasID = true
	}
	return req, nil
}

// Response represents a JSON-RPC response. The id member is always written;
// a nil ID serializes as null.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	ID             *RequestID      `json:"id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
