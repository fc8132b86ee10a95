package tools

import (
	"encoding/json"
	"fmt"

	"github.com/ggoodman/redis-mcp-server/mcp"
)

// Result is the value produced by a tool. It is one of Blocks, BlocksWithRaw
// or Value.
type Result interface {
	isResult()
}

// Blocks is a ready-made list of content blocks.
type Blocks []mcp.ContentBlock

// BlocksWithRaw pairs content blocks with the raw value they were rendered
// from. Only the blocks are sent to the client.
type BlocksWithRaw struct {
	Blocks []mcp.ContentBlock
	Raw    any
}

// Value is an arbitrary value rendered as a single text block.
type Value struct {
	V any
}

func (Blocks) isResult()        {}
func (BlocksWithRaw) isResult() {}
func (Value) isResult()         {}

// Text is shorthand for a Value holding a string.
func Text(s string) Result { return Value{V: s} }

// Normalize converts any Result into the content blocks of a tools/call reply.
// A nil Result yields an empty list.
func Normalize(r Result) ([]mcp.ContentBlock, error) {
	switch v := r.(type) {
	case nil:
		return []mcp.ContentBlock{}, nil
	case Blocks:
		return nonNil(v), nil
	case BlocksWithRaw:
		return nonNil(v.Blocks), nil
	case Value:
		s, err := stringify(v.V)
		if err != nil {
			return nil, err
		}
		return []mcp.ContentBlock{mcp.TextBlock(s)}, nil
	default:
		return nil, fmt.Errorf("unsupported tool result type %T", r)
	}
}

func nonNil(blocks []mcp.ContentBlock) []mcp.ContentBlock {
	if blocks == nil {
		return []mcp.ContentBlock{}
	}
	out := make([]mcp.ContentBlock, len(blocks))
	copy(out, blocks)
	return out
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	case error:
		return t.Error(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("render tool result: %w", err)
		}
		return string(b), nil
	}
}
