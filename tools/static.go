package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/ggoodman/redis-mcp-server/mcp"
	"github.com/invopop/jsonschema"
)

// Handler executes a tool with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// Option configures NewTool behavior.
type Option func(*toolConfig)

type toolConfig struct {
	description string
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) Option {
	return func(c *toolConfig) { c.description = desc }
}

// NewTool constructs a StaticTool from a typed args struct A. The input schema
// is reflected from A, and arguments are decoded strictly into A before fn
// runs: unknown fields are rejected.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (Result, error), opts ...Option) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](),
	}

	handler := func(ctx context.Context, raw json.RawMessage) (Result, error) {
		var a A
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
		}
		return fn(ctx, a)
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects a Go type A into a jsonschema.Schema and
// converts it to the simplified mcp.ToolInputSchema.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		// Anonymous types have no definition to expand; they are reflected
		// inline instead.
		ExpandedStruct: reflect.TypeFor[A]().Name() != "",
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]mcp.SchemaProperty{},
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), s.Required...),
	}
}

func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// Container owns a threadsafe set of tool descriptors and handlers and
// implements Backend.
type Container struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]Handler
}

var _ Backend = (*Container)(nil)

// NewContainer constructs a Container with the given tool definitions.
// Later definitions replace earlier ones with the same name.
func NewContainer(defs ...StaticTool) *Container {
	c := &Container{handlers: make(map[string]Handler, len(defs))}
	for _, d := range defs {
		c.put(d)
	}
	return c
}

func (c *Container) put(def StaticTool) {
	name := def.Descriptor.Name
	if _, exists := c.handlers[name]; exists {
		for i, t := range c.tools {
			if t.Name == name {
				c.tools[i] = def.Descriptor
			}
		}
	} else {
		c.tools = append(c.tools, def.Descriptor)
	}
	c.handlers[name] = def.Handler
}

// Names returns the registered tool names in registration order.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.tools))
	for i, t := range c.tools {
		out[i] = t.Name
	}
	return out
}

// ListTools implements Backend.
func (c *Container) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// CallTool implements Backend.
func (c *Container) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	c.mu.RLock()
	h := c.handlers[name]
	c.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return h(ctx, args)
}
