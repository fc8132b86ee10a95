// Package tools defines the command backend consumed by the JSON-RPC
// dispatcher and a static, schema-reflecting tool container that implements
// it.
//
// A backend returns one of three result shapes, modeled as the sealed Result
// type: a list of content blocks (Blocks), blocks paired with a raw value
// (BlocksWithRaw), or an arbitrary value (Value). Normalize collapses all of
// them into the content blocks carried by a tools/call reply.
//
// Typed tools are declared with NewTool. The argument struct is reflected into
// an input schema with invopop/jsonschema and decoded strictly at call time:
//
//	type getArgs struct {
//	    Key string `json:"key" jsonschema:"description=The key to read"`
//	}
//
//	get := tools.NewTool("get", func(ctx context.Context, a getArgs) (tools.Result, error) {
//	    return tools.Value{V: "hello"}, nil
//	}, tools.WithDescription("Read a string key"))
//
//	backend := tools.NewContainer(get)
package tools
