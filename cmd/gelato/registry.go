package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
)

var opNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// param is one named input of an operation. It becomes a CLI flag and, for
// operations exposed over MCP, a tool property.
type param struct {
	name     string
	usage    string
	value    string
	env      string
	required bool
}

func (p param) flag() cli.Flag {
	var sources cli.ValueSourceChain
	if p.env != "" {
		sources = cli.EnvVars(p.env)
	}

	return &cli.StringFlag{
		Name:     p.name,
		Usage:    p.usage,
		Value:    p.value,
		Sources:  sources,
		Required: p.required,
	}
}

func (p param) toolOption() mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Description(p.usage)}
	if p.required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString(p.name, opts...)
}

// input is where an operation reads its parameters from. *cli.Command
// satisfies it.
type input interface {
	String(name string) string
}

// toolArgs adapts MCP tool call arguments to input.
type toolArgs struct {
	args     map[string]any
	defaults map[string]string
}

func (x toolArgs) String(name string) string {
	v, ok := x.args[name]
	if !ok || v == nil {
		return x.defaults[name]
	}
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

// operation binds a typed input parser to its handler.
type operation[In any] struct {
	name   string
	usage  string
	params []param
	// tool exposes the operation through the MCP server.
	tool  bool
	parse func(in input) (In, error)
	run   func(ctx context.Context, env *environment, in In) (any, error)
}

// registered is the type-erased view of an operation held by the registry.
type registered interface {
	opName() string
	check() error
	exposed() bool
	command(env *environment) *cli.Command
	toolHandler(env *environment) (mcp.Tool, mcpserver.ToolHandlerFunc)
}

func (x *operation[In]) opName() string { return x.name }
func (x *operation[In]) exposed() bool  { return x.tool }

func (x *operation[In]) check() error {
	if !opNamePattern.MatchString(x.name) {
		return goerr.New("invalid operation name", goerr.V("name", x.name))
	}
	if x.parse == nil || x.run == nil {
		return goerr.New("operation requires parser and handler", goerr.V("name", x.name))
	}

	seen := map[string]bool{}
	for _, p := range x.params {
		if p.name == "" {
			return goerr.New("parameter name is empty", goerr.V("operation", x.name))
		}
		if seen[p.name] {
			return goerr.New("duplicated parameter", goerr.V("operation", x.name), goerr.V("param", p.name))
		}
		seen[p.name] = true
	}
	return nil
}

func (x *operation[In]) invoke(ctx context.Context, env *environment, src input) (any, error) {
	for _, p := range x.params {
		if p.required && src.String(p.name) == "" {
			return nil, goerr.New("missing required parameter", goerr.V("operation", x.name), goerr.V("param", p.name))
		}
	}

	in, err := x.parse(src)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid input", goerr.V("operation", x.name))
	}
	return x.run(ctx, env, in)
}

func (x *operation[In]) command(env *environment) *cli.Command {
	flags := make([]cli.Flag, len(x.params))
	for i, p := range x.params {
		flags[i] = p.flag()
	}

	return &cli.Command{
		Name:  x.name,
		Usage: x.usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			out, err := x.invoke(ctx, env, cmd)
			if err != nil {
				return err
			}
			if out == nil {
				return nil
			}
			return env.print(out)
		},
	}
}

func (x *operation[In]) toolHandler(env *environment) (mcp.Tool, mcpserver.ToolHandlerFunc) {
	opts := []mcp.ToolOption{mcp.WithDescription(x.usage)}
	defaults := map[string]string{}
	for _, p := range x.params {
		opts = append(opts, p.toolOption())
		if p.value != "" {
			defaults[p.name] = p.value
		}
	}

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := x.invoke(ctx, env, toolArgs{args: req.Params.Arguments, defaults: defaults})
		if err != nil {
			env.logger.Warn("tool call failed", "tool", x.name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool result", goerr.V("tool", x.name))
		}
		return mcp.NewToolResultText(string(raw)), nil
	}

	return mcp.NewTool(x.name, opts...), handler
}

// registry holds every operation by name. It is validated once when built.
type registry struct {
	ops    []registered
	byName map[string]registered
}

func newRegistry(ops ...registered) (*registry, error) {
	r := &registry{byName: make(map[string]registered, len(ops))}
	for _, op := range ops {
		if err := op.check(); err != nil {
			return nil, err
		}
		if _, ok := r.byName[op.opName()]; ok {
			return nil, goerr.New("duplicated operation", goerr.V("name", op.opName()))
		}
		r.byName[op.opName()] = op
		r.ops = append(r.ops, op)
	}
	return r, nil
}

func (x *registry) lookup(name string) (registered, bool) {
	op, ok := x.byName[name]
	return op, ok
}

func (x *registry) commands(env *environment) []*cli.Command {
	cmds := make([]*cli.Command, len(x.ops))
	for i, op := range x.ops {
		cmds[i] = op.command(env)
	}
	return cmds
}

// tools returns the operations exposed over MCP.
func (x *registry) tools() []registered {
	var out []registered
	for _, op := range x.ops {
		if op.exposed() {
			out = append(out, op)
		}
	}
	return out
}
