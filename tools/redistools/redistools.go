// Package redistools exposes a small set of Redis string, list and stream
// commands as MCP tools.
package redistools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/redis-mcp-server/mcp"
	"github.com/ggoodman/redis-mcp-server/tools"
	"github.com/redis/go-redis/v9"
)

// New returns a tool container backed by client.
func New(client redis.UniversalClient) *tools.Container {
	return tools.NewContainer(Tools(client)...)
}

// Tools returns the Redis tool definitions in listing order.
func Tools(client redis.UniversalClient) []tools.StaticTool {
	c := &commands{rdb: client}
	return []tools.StaticTool{
		tools.NewTool("set", c.set, tools.WithDescription("Set a Redis string value with an optional expiration time in seconds. JSON objects are stored compactly encoded.")),
		tools.NewTool("get", c.get, tools.WithDescription("Get a Redis string value.")),
		tools.NewTool("lpush", c.lpush, tools.WithDescription("Push a value onto the left of a Redis list and optionally set an expiration time.")),
		tools.NewTool("rpush", c.rpush, tools.WithDescription("Push a value onto the right of a Redis list and optionally set an expiration time.")),
		tools.NewTool("lpop", c.lpop, tools.WithDescription("Remove and return the first element from a Redis list.")),
		tools.NewTool("rpop", c.rpop, tools.WithDescription("Remove and return the last element from a Redis list.")),
		tools.NewTool("lrange", c.lrange, tools.WithDescription("Get elements from a Redis list within a specific range.")),
		tools.NewTool("llen", c.llen, tools.WithDescription("Get the length of a Redis list.")),
		tools.NewTool("xadd", c.xadd, tools.WithDescription("Add an entry to a Redis stream with an optional expiration time.")),
		tools.NewTool("xrange", c.xrange, tools.WithDescription("Read entries from a Redis stream.")),
		tools.NewTool("xdel", c.xdel, tools.WithDescription("Delete an entry from a Redis stream.")),
	}
}

type commands struct {
	rdb redis.UniversalClient
}

type setArgs struct {
	Key        string `json:"key" jsonschema:"description=The key to set"`
	Value      string `json:"value" jsonschema:"description=The value to store. For JSON objects pass a JSON string"`
	Expiration int64  `json:"expiration,omitempty" jsonschema:"description=Expiration time in seconds. 0 means no expiration,default=0"`
}

type keyArgs struct {
	Key string `json:"key" jsonschema:"description=The key to read"`
}

type pushArgs struct {
	Name   string `json:"name" jsonschema:"description=The name of the list"`
	Value  string `json:"value" jsonschema:"description=The value to push"`
	Expire int64  `json:"expire,omitempty" jsonschema:"description=Expiration time in seconds. 0 means no expiration,default=0"`
}

type listArgs struct {
	Name string `json:"name" jsonschema:"description=The name of the list"`
}

type lrangeArgs struct {
	Name  string `json:"name" jsonschema:"description=The name of the list"`
	Start int64  `json:"start" jsonschema:"description=Index of the first element"`
	Stop  int64  `json:"stop" jsonschema:"description=Index of the last element. -1 is the end of the list"`
}

type xaddArgs struct {
	Key        string         `json:"key" jsonschema:"description=The stream key"`
	Fields     map[string]any `json:"fields" jsonschema:"description=The fields and values for the stream entry"`
	Expiration int64          `json:"expiration,omitempty" jsonschema:"description=Expiration time in seconds. 0 means no expiration,default=0"`
}

type xrangeArgs struct {
	Key   string `json:"key" jsonschema:"description=The stream key"`
	Count int64  `json:"count,omitempty" jsonschema:"description=Number of entries to retrieve,default=1"`
}

type xdelArgs struct {
	Key     string `json:"key" jsonschema:"description=The stream key"`
	EntryID string `json:"entry_id" jsonschema:"description=The ID of the entry to delete"`
}

func required(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", tools.ErrInvalidArguments, name)
	}
	return nil
}

func seconds(n int64) time.Duration { return time.Duration(n) * time.Second }

func withExpiration(msg string, n int64) string {
	if n > 0 {
		return fmt.Sprintf("%s with expiration %d seconds", msg, n)
	}
	return msg
}

// encodeValue stores JSON objects in compact form and everything else as given.
func encodeValue(v string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(v), &obj); err != nil || obj == nil {
		return v
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return v
	}
	return string(b)
}

func (c *commands) set(ctx context.Context, a setArgs) (tools.Result, error) {
	if err := required("key", a.Key); err != nil {
		return nil, err
	}
	var ttl time.Duration
	if a.Expiration > 0 {
		ttl = seconds(a.Expiration)
	}
	if err := c.rdb.Set(ctx, a.Key, encodeValue(a.Value), ttl).Err(); err != nil {
		return nil, fmt.Errorf("setting key %s: %w", a.Key, err)
	}
	return tools.Text(withExpiration("Successfully set "+a.Key, a.Expiration)), nil
}

func (c *commands) get(ctx context.Context, a keyArgs) (tools.Result, error) {
	if err := required("key", a.Key); err != nil {
		return nil, err
	}
	v, err := c.rdb.Get(ctx, a.Key).Result()
	if errors.Is(err, redis.Nil) {
		return tools.Text(fmt.Sprintf("Key %s does not exist", a.Key)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving key %s: %w", a.Key, err)
	}
	return tools.Text(v), nil
}

func (c *commands) push(ctx context.Context, a pushArgs, left bool) (tools.Result, error) {
	if err := required("name", a.Name); err != nil {
		return nil, err
	}
	side := "right"
	pipe := c.rdb.TxPipeline()
	if left {
		side = "left"
		pipe.LPush(ctx, a.Name, a.Value)
	} else {
		pipe.RPush(ctx, a.Name, a.Value)
	}
	if a.Expire > 0 {
		pipe.Expire(ctx, a.Name, seconds(a.Expire))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pushing value to list '%s': %w", a.Name, err)
	}
	return tools.Text(fmt.Sprintf("Value '%s' pushed to the %s of list '%s'.", a.Value, side, a.Name)), nil
}

func (c *commands) lpush(ctx context.Context, a pushArgs) (tools.Result, error) {
	return c.push(ctx, a, true)
}

func (c *commands) rpush(ctx context.Context, a pushArgs) (tools.Result, error) {
	return c.push(ctx, a, false)
}

func (c *commands) pop(ctx context.Context, a listArgs, left bool) (tools.Result, error) {
	if err := required("name", a.Name); err != nil {
		return nil, err
	}
	var cmd *redis.StringCmd
	if left {
		cmd = c.rdb.LPop(ctx, a.Name)
	} else {
		cmd = c.rdb.RPop(ctx, a.Name)
	}
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return tools.Text(fmt.Sprintf("List '%s' is empty or does not exist.", a.Name)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping value from list '%s': %w", a.Name, err)
	}
	return tools.Text(v), nil
}

func (c *commands) lpop(ctx context.Context, a listArgs) (tools.Result, error) {
	return c.pop(ctx, a, true)
}

func (c *commands) rpop(ctx context.Context, a listArgs) (tools.Result, error) {
	return c.pop(ctx, a, false)
}

func (c *commands) lrange(ctx context.Context, a lrangeArgs) (tools.Result, error) {
	if err := required("name", a.Name); err != nil {
		return nil, err
	}
	values, err := c.rdb.LRange(ctx, a.Name, a.Start, a.Stop).Result()
	if err != nil {
		return nil, fmt.Errorf("retrieving values from list '%s': %w", a.Name, err)
	}
	if len(values) == 0 {
		return tools.Text(fmt.Sprintf("List '%s' is empty or does not exist.", a.Name)), nil
	}
	blocks := make([]mcp.ContentBlock, len(values))
	for i, v := range values {
		blocks[i] = mcp.TextBlock(v)
	}
	return tools.BlocksWithRaw{Blocks: blocks, Raw: values}, nil
}

func (c *commands) llen(ctx context.Context, a listArgs) (tools.Result, error) {
	if err := required("name", a.Name); err != nil {
		return nil, err
	}
	n, err := c.rdb.LLen(ctx, a.Name).Result()
	if err != nil {
		return nil, fmt.Errorf("retrieving length of list '%s': %w", a.Name, err)
	}
	return tools.Value{V: n}, nil
}

func (c *commands) xadd(ctx context.Context, a xaddArgs) (tools.Result, error) {
	if err := required("key", a.Key); err != nil {
		return nil, err
	}
	if len(a.Fields) == 0 {
		return nil, fmt.Errorf("%w: fields must not be empty", tools.ErrInvalidArguments)
	}
	values := make(map[string]any, len(a.Fields))
	for k, v := range a.Fields {
		values[k] = fieldValue(v)
	}

	pipe := c.rdb.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{Stream: a.Key, Values: values})
	if a.Expiration > 0 {
		pipe.Expire(ctx, a.Key, seconds(a.Expiration))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("adding to stream %s: %w", a.Key, err)
	}
	msg := fmt.Sprintf("Successfully added entry %s to %s", add.Val(), a.Key)
	return tools.Text(withExpiration(msg, a.Expiration)), nil
}

// fieldValue flattens nested JSON values so Redis receives a scalar.
func fieldValue(v any) any {
	switch t := v.(type) {
	case string, bool, float64, nil:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

type streamEntry struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (c *commands) xrange(ctx context.Context, a xrangeArgs) (tools.Result, error) {
	if err := required("key", a.Key); err != nil {
		return nil, err
	}
	count := a.Count
	if count <= 0 {
		count = 1
	}
	msgs, err := c.rdb.XRangeN(ctx, a.Key, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading from stream %s: %w", a.Key, err)
	}
	if len(msgs) == 0 {
		return tools.Text(fmt.Sprintf("Stream %s is empty or does not exist", a.Key)), nil
	}
	entries := make([]streamEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = streamEntry{ID: m.ID, Fields: m.Values}
	}
	return tools.Value{V: entries}, nil
}

func (c *commands) xdel(ctx context.Context, a xdelArgs) (tools.Result, error) {
	if err := required("key", a.Key); err != nil {
		return nil, err
	}
	if err := required("entry_id", a.EntryID); err != nil {
		return nil, err
	}
	n, err := c.rdb.XDel(ctx, a.Key, a.EntryID).Result()
	if err != nil {
		return nil, fmt.Errorf("deleting from stream %s: %w", a.Key, err)
	}
	if n == 0 {
		return tools.Text(fmt.Sprintf("Entry %s not found in %s", a.EntryID, a.Key)), nil
	}
	return tools.Text(fmt.Sprintf("Successfully deleted entry %s from %s", a.EntryID, a.Key)), nil
}
