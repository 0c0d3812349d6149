package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/m-mizutani/gelato/config"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	Run          = run
	Operations   = operations
	NewServer    = newServer
	WithReader   = withReader
	WithGatherer = withGatherer
)

type Registered = registered

// Handler returns the server's HTTP handler for testing.
func (s *server) Handler() http.Handler {
	return s.handler()
}

// NewRegistry validates ops and returns the operation names in order.
func NewRegistry(ops ...Registered) ([]string, error) {
	r, err := newRegistry(ops...)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(r.ops))
	for i, op := range r.ops {
		names[i] = op.opName()
	}
	return names, nil
}

// NewOperation creates an operation echoing its "value" parameter.
func NewOperation(name string, params ...string) Registered {
	ps := make([]param, len(params))
	for i, p := range params {
		ps[i] = param{name: p, usage: p}
	}
	return &operation[string]{
		name:   name,
		usage:  name,
		params: ps,
		tool:   true,
		parse: func(in input) (string, error) {
			return in.String("value"), nil
		},
		run: func(ctx context.Context, env *environment, in string) (any, error) {
			return map[string]string{"value": in}, nil
		},
	}
}

// NewIncompleteOperation creates an operation without a handler.
func NewIncompleteOperation(name string) Registered {
	return &operation[string]{name: name}
}

// ToolNames returns the names of the operations exposed over MCP.
func ToolNames() ([]string, error) {
	r, err := newRegistry(operations()...)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, op := range r.tools() {
		names = append(names, op.opName())
	}
	return names, nil
}

// CallTool invokes the MCP tool handler of the named operation on an
// environment loaded from cfgPath.
func CallTool(ctx context.Context, cfgPath, name string, args map[string]any) (*mcp.CallToolResult, error) {
	r, err := newRegistry(operations()...)
	if err != nil {
		return nil, err
	}
	env, err := newEnvironment(slog.New(slog.DiscardHandler), io.Discard, nil, func(string) string { return "" })
	if err != nil {
		return nil, err
	}
	env.ops = r
	if env.cfg, err = config.Load(ctx, cfgPath); err != nil {
		return nil, err
	}

	op, ok := r.lookup(name)
	if !ok {
		return nil, nil
	}
	_, handler := op.toolHandler(env)

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return handler(ctx, req)
}

// MCPToolCount builds the MCP server and returns how many tools it exposes.
func MCPToolCount() (int, error) {
	r, err := newRegistry(operations()...)
	if err != nil {
		return 0, err
	}
	env, err := newEnvironment(slog.New(slog.DiscardHandler), io.Discard, nil, func(string) string { return "" })
	if err != nil {
		return 0, err
	}
	env.ops = r
	newMCPServer(env)
	return len(r.tools()), nil
}
