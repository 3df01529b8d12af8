// Package mcp wraps tools exposed by external MCP servers (stdio
// transport) as registry tools, so configured servers extend the
// agent's toolbox without code changes.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/deepsearch-ai/deepsearch"
)

const protocolVersion = "2024-11-05"

// Client owns the connection to one MCP server. Tools() lists the
// server's tools wrapped as deepsearch.Tool; each wrapped tool calls
// back through this client.
type Client struct {
	name string

	mu  sync.Mutex
	cli *client.Client
}

// Connect spawns the MCP server subprocess and performs the
// initialize handshake. env entries are "KEY=VALUE" strings.
func Connect(ctx context.Context, name, command string, env []string, args ...string) (*Client, error) {
	if command == "" {
		return nil, fmt.Errorf("mcp server %q: command is required", name)
	}
	cli, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: spawn: %w", name, err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp server %q: start: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: "deepsearch", Version: "1.0.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return nil, fmt.Errorf("mcp server %q: initialize: %w", name, err)
	}

	return &Client{name: name, cli: cli}, nil
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Tools lists the server's tools wrapped for the registry. Tool names
// are prefixed with the server name to avoid collisions with builtins.
func (c *Client) Tools(ctx context.Context) ([]deepsearch.Tool, error) {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil {
		return nil, fmt.Errorf("mcp server %q: closed", c.name)
	}

	resp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: list tools: %w", c.name, err)
	}

	tools := make([]deepsearch.Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, &remoteTool{
			client: c,
			remote: t.Name,
			name:   c.name + "_" + t.Name,
			desc:   t.Description,
			inputs: paramSpecs(schemaMap(t.InputSchema)),
		})
	}
	return tools, nil
}

func (c *Client) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil {
		return nil, fmt.Errorf("mcp server %q: closed", c.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return cli.CallTool(ctx, req)
}

// Close terminates the server subprocess.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil
	}
	err := c.cli.Close()
	c.cli = nil
	return err
}

// --- wrapped tool ---

type remoteTool struct {
	client *Client
	remote string // tool name on the server side
	name   string
	desc   string
	inputs map[string]deepsearch.ParamSpec
}

var _ deepsearch.Tool = (*remoteTool)(nil)

func (t *remoteTool) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        t.name,
		Description: t.desc,
		Inputs:      t.inputs,
		OutputType:  "object",
	}
}

func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	resp, err := t.client.call(ctx, t.remote, args)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s: %w", t.name, err)
	}
	text, isErr := textFromResult(resp)
	if isErr {
		return nil, fmt.Errorf("mcp call %s: %s", t.name, text)
	}
	return map[string]any{"result": text}, nil
}

// textFromResult joins the text content blocks of an MCP tool result.
func textFromResult(resp *mcp.CallToolResult) (string, bool) {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if resp.IsError && joined == "" {
		joined = "unknown error"
	}
	return joined, resp.IsError
}

// --- schema conversion ---

// schemaMap flattens an MCP input schema to a plain map via a JSON
// round trip.
func schemaMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// paramSpecs converts a JSON-schema object into tool parameter specs.
// Unknown or missing types degrade to "any"; nested objects are not
// descended into.
func paramSpecs(schema map[string]any) map[string]deepsearch.ParamSpec {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				required[s] = true
			}
		}
	}

	out := make(map[string]deepsearch.ParamSpec, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		spec := deepsearch.ParamSpec{
			Type:     paramType(prop["type"]),
			Required: required[name],
		}
		if desc, ok := prop["description"].(string); ok {
			spec.Description = desc
		}
		if def, ok := prop["default"]; ok {
			spec.Default = def
		}
		if spec.Type == deepsearch.TypeList {
			if items, ok := prop["items"].(map[string]any); ok {
				spec.Elem = paramType(items["type"])
			}
		}
		out[name] = spec
	}
	return out
}

func paramType(v any) deepsearch.ParamType {
	s, _ := v.(string)
	switch s {
	case "string":
		return deepsearch.TypeString
	case "integer":
		return deepsearch.TypeInt
	case "number":
		return deepsearch.TypeFloat
	case "boolean":
		return deepsearch.TypeBool
	case "array":
		return deepsearch.TypeList
	default:
		return deepsearch.TypeAny
	}
}
