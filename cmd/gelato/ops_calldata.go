package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/calldata"
	"github.com/m-mizutani/gelato/taskfile"
	"github.com/m-mizutani/goerr/v2"
)

type encodeInput struct {
	Interface string
	Function  string
	Args      []any
}

type encodeOutput struct {
	Selector string        `json:"selector"`
	Data     hexutil.Bytes `json:"data"`
}

func encodeOperation() registered {
	return &operation[encodeInput]{
		name:  "encode",
		usage: "Encode a contract call from an interface, a function and JSON arguments",
		tool:  true,
		params: []param{
			{name: "interface", usage: "Contract interface name", required: true},
			{name: "function", usage: "Function name or signature", required: true},
			{name: "args", usage: "Arguments as a JSON array; strings starting with $ are address references", value: "[]"},
		},
		parse: func(in input) (encodeInput, error) {
			args, err := parseJSONArgs(in.String("args"))
			if err != nil {
				return encodeInput{}, err
			}
			return encodeInput{
				Interface: in.String("interface"),
				Function:  in.String("function"),
				Args:      args,
			}, nil
		},
		run: func(ctx context.Context, env *environment, in encodeInput) (any, error) {
			args, err := resolveArgs(env, in.Args)
			if err != nil {
				return nil, err
			}
			data, err := env.registry.Encode(in.Interface, in.Function, args...)
			if err != nil {
				return nil, err
			}
			return &encodeOutput{Selector: calldata.Selector(data), Data: data}, nil
		},
	}
}

func parseJSONArgs(raw string) ([]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var args []any
	if err := dec.Decode(&args); err != nil {
		return nil, goerr.Wrap(err, "arguments must be a JSON array")
	}
	return args, nil
}

func resolveArgs(env *environment, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := resolveArg(env, arg)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid argument", goerr.V("index", i))
		}
		out[i] = v
	}
	return out, nil
}

func resolveArg(env *environment, v any) (any, error) {
	switch v := v.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			return env.resolve(v)
		}
		return v, nil
	case []any:
		return resolveArgs(env, v)
	default:
		return v, nil
	}
}

type decodeOutput struct {
	Interface string         `json:"interface"`
	Function  string         `json:"function"`
	Signature string         `json:"signature"`
	Args      map[string]any `json:"args"`
	// Labels names the known addresses found at the top level of the arguments.
	Labels map[string]string `json:"labels,omitempty"`
}

func decodeOperation() registered {
	return &operation[[]byte]{
		name:  "decode",
		usage: "Decode a contract call payload",
		tool:  true,
		params: []param{
			{name: "data", usage: "0x-prefixed call payload", required: true},
		},
		parse: func(in input) ([]byte, error) {
			return hexutil.Decode(strings.TrimSpace(in.String("data")))
		},
		run: func(ctx context.Context, env *environment, data []byte) (any, error) {
			call, err := env.registry.Decode(data)
			if err != nil {
				return nil, err
			}

			out := &decodeOutput{
				Interface: call.Interface,
				Function:  call.Method,
				Signature: call.Signature,
				Args:      make(map[string]any, len(call.Args)),
				Labels:    map[string]string{},
			}
			for i, arg := range call.Args {
				name := call.Names[i]
				if name == "" {
					name = "arg" + strconv.Itoa(i)
				}
				out.Args[name] = calldata.Printable(arg)
				if addr, ok := arg.(common.Address); ok {
					if label, found := env.cfg.Lookup(addr); found {
						out.Labels[addr.Hex()] = label
					}
				}
			}
			return out, nil
		},
	}
}

type validateInput struct {
	File      string
	UserProxy string
}

type taskSummary struct {
	Name       string `json:"name"`
	Conditions int    `json:"conditions"`
	Actions    int    `json:"actions"`
	Depth      int    `json:"depth"`
}

type planSummary struct {
	Name           string        `json:"name,omitempty"`
	Provider       string        `json:"provider"`
	Module         string        `json:"module"`
	Cycle          []string      `json:"cycle"`
	ExpiryDate     uint64        `json:"expiry_date"`
	MaxRepetitions uint64        `json:"max_repetitions"`
	PreActions     int           `json:"pre_actions"`
	Tasks          []taskSummary `json:"tasks"`
	Payload        hexutil.Bytes `json:"payload"`
}

func taskFileParams() []param {
	return []param{
		{name: "file", usage: "Task file path", required: true},
		{name: "user-proxy", usage: "Address $userProxy resolves to; defaults to the proxy of the signing key"},
	}
}

func parseTaskFileInput(in input) (validateInput, error) {
	return validateInput{File: in.String("file"), UserProxy: in.String("user-proxy")}, nil
}

// buildPlan loads and builds a task file. userProxy is used when the input
// names none.
func buildPlan(ctx context.Context, env *environment, in validateInput, userProxy common.Address) (*taskfile.Plan, error) {
	if in.UserProxy != "" {
		addr, err := env.resolve(in.UserProxy)
		if err != nil {
			return nil, err
		}
		userProxy = addr
	}

	file, err := taskfile.Load(in.File)
	if err != nil {
		return nil, err
	}
	return taskfile.NewBuilder(env.registry, env.cfg, userProxy).Build(ctx, file)
}

func summarize(env *environment, plan *taskfile.Plan) (*planSummary, error) {
	payload, err := gelato.EncodeSubmitTaskCycle(env.registry, plan.Provider, plan.Cycle)
	if err != nil {
		return nil, err
	}

	out := &planSummary{
		Name:           plan.Name,
		Provider:       plan.Provider.Addr.Hex(),
		Module:         plan.Provider.Module.Hex(),
		ExpiryDate:     plan.Cycle.ExpiryDate,
		MaxRepetitions: plan.Cycle.MaxRepetitions,
		PreActions:     len(plan.PreActions),
		Payload:        payload,
	}
	names := make([]string, 0, len(plan.Tasks))
	for name := range plan.Tasks {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		t := plan.Tasks[name]
		depth, err := t.Depth(env.registry)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid task", goerr.V("task", name))
		}
		out.Tasks = append(out.Tasks, taskSummary{
			Name:       name,
			Conditions: len(t.Conditions()),
			Actions:    len(t.Actions()),
			Depth:      depth,
		})
	}
	for _, t := range plan.Cycle.Tasks {
		i := slices.IndexFunc(names, func(name string) bool { return plan.Tasks[name].Equal(t) })
		if i < 0 {
			out.Cycle = append(out.Cycle, "")
			continue
		}
		out.Cycle = append(out.Cycle, names[i])
	}
	return out, nil
}

func validateOperation() registered {
	return &operation[validateInput]{
		name:   "validate",
		usage:  "Build a task file and print the resulting cycle without submitting it",
		tool:   true,
		params: taskFileParams(),
		parse:  parseTaskFileInput,
		run: func(ctx context.Context, env *environment, in validateInput) (any, error) {
			plan, err := buildPlan(ctx, env, in, common.Address{})
			if err != nil {
				return nil, err
			}
			return summarize(env, plan)
		},
	}
}

type documentInput struct {
	JSON string
	File string
}

func parseDocumentInput(in input) (documentInput, error) {
	return documentInput{JSON: in.String("json"), File: in.String("file")}, nil
}

func documentParams(what string) []param {
	return []param{
		{name: "json", usage: what + " as inline JSON"},
		{name: "file", usage: what + " JSON file; standard input when neither json nor file is given"},
	}
}

func (x *environment) readDocument(in documentInput) ([]byte, error) {
	if in.JSON != "" {
		return []byte(in.JSON), nil
	}
	if path := in.File; path != "" && path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read document", goerr.V("path", path))
		}
		return data, nil
	}
	data, err := io.ReadAll(x.in)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read standard input")
	}
	return data, nil
}

func receiptToArrayOperation() registered {
	return &operation[documentInput]{
		name:   "receipt-to-array",
		usage:  "Convert a task receipt object into its flat array form",
		tool:   true,
		params: documentParams("Receipt object"),
		parse:  parseDocumentInput,
		run: func(ctx context.Context, env *environment, in documentInput) (any, error) {
			data, err := env.readDocument(in)
			if err != nil {
				return nil, err
			}

			var receipt gelato.TaskReceipt
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&receipt); err != nil {
				return nil, goerr.Wrap(gelato.ErrInvalidReceipt, "failed to decode receipt object",
					goerr.V("error", err.Error()), goerr.Tag(gelato.TagConstruction))
			}
			if err := receipt.Validate(); err != nil {
				return nil, err
			}
			raw, err := receipt.MarshalArrayJSON()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to encode receipt array")
			}
			return json.RawMessage(raw), nil
		},
	}
}

func receiptToObjectOperation() registered {
	return &operation[documentInput]{
		name:   "receipt-to-object",
		usage:  "Convert a task receipt in flat array form into an object",
		tool:   true,
		params: documentParams("Receipt array"),
		parse:  parseDocumentInput,
		run: func(ctx context.Context, env *environment, in documentInput) (any, error) {
			data, err := env.readDocument(in)
			if err != nil {
				return nil, err
			}
			return gelato.ParseReceiptArrayJSON(data)
		},
	}
}
