package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var nullID = []byte("null")

// RequestID is the opaque id of a JSON-RPC request. The raw JSON token is kept
// as received so that replies echo it unmodified, including an explicit null.
type RequestID struct {
	raw json.RawMessage
}

// String returns a printable form of the id for logs.
func (id *RequestID) String() string {
	if id == nil || len(id.raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(id.raw, &s); err == nil {
		return s
	}
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || len(id.raw) == 0 {
		return nullID, nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Any JSON value is accepted and
// kept as received, minus insignificant whitespace.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return fmt.Errorf("JSON-RPC ID is not valid JSON: %q", string(trimmed))
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return err
	}
	id.raw = compact.Bytes()
	return nil
}
