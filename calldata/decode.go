package calldata

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

// Call is a decoded payload. Args are in the flat array form used by the
// gelato wire parsers: tuples and lists are []any, integers up to 64 bits keep
// their Go type, larger ones are *big.Int.
type Call struct {
	Interface string
	Method    string
	Signature string
	Names     []string
	Args      []any
}

// Decode resolves the selector of data and unpacks its arguments.
func (r *Registry) Decode(data []byte) (*Call, error) {
	ref, err := r.methodBySelector(data)
	if err != nil {
		return nil, err
	}

	args, err := unpack(ref.method.Inputs, data[gelato.SelectorSize:])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode call",
			goerr.V("interface", ref.iface), goerr.V("function", ref.method.Sig))
	}

	names := make([]string, len(ref.method.Inputs))
	for i, in := range ref.method.Inputs {
		names[i] = in.Name
	}
	return &Call{
		Interface: ref.iface,
		Method:    ref.method.RawName,
		Signature: ref.method.Sig,
		Names:     names,
		Args:      args,
	}, nil
}

// DecodeArgs unpacks data as a call of fn on iface.
func (r *Registry) DecodeArgs(iface, fn string, data []byte) ([]any, error) {
	m, err := r.Method(iface, fn)
	if err != nil {
		return nil, err
	}
	if len(data) < gelato.SelectorSize || !bytes.Equal(data[:gelato.SelectorSize], m.ID) {
		return nil, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "selector does not match function",
			goerr.V("interface", iface), goerr.V("function", m.Sig), goerr.Tag(gelato.TagEncoding))
	}
	return unpack(m.Inputs, data[gelato.SelectorSize:])
}

// DecodeReturn unpacks the return data of fn on iface.
func (r *Registry) DecodeReturn(iface, fn string, ret []byte) ([]any, error) {
	m, err := r.Method(iface, fn)
	if err != nil {
		return nil, err
	}
	return unpack(m.Outputs, ret)
}

func unpack(args abi.Arguments, data []byte) ([]any, error) {
	values, err := args.Unpack(data)
	if err != nil {
		return nil, goerr.Wrap(gelato.ErrArgumentMismatch, "failed to unpack arguments",
			goerr.V("error", err.Error()), goerr.Tag(gelato.TagEncoding))
	}

	out := make([]any, len(values))
	for i, v := range values {
		out[i] = toWire(args[i].Type, reflect.ValueOf(v))
	}
	return out, nil
}

func toWire(t abi.Type, v reflect.Value) any {
	switch t.T {
	case abi.TupleTy:
		out := make([]any, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			out[i] = toWire(*elem, v.Field(i))
		}
		return out
	case abi.SliceTy, abi.ArrayTy:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = toWire(*t.Elem, v.Index(i))
		}
		return out
	case abi.FixedBytesTy:
		b := make([]byte, t.Size)
		reflect.Copy(reflect.ValueOf(b), v)
		return b
	default:
		return v.Interface()
	}
}

// Printable converts decoded wire values for JSON output: payloads as hex,
// big integers as decimal strings and addresses in checksum form.
func Printable(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = Printable(v[i])
		}
		return out
	case []byte:
		return hexutil.Encode(v)
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	default:
		return v
	}
}

// SubmitTaskCycleCall is a decoded IGelatoCore.submitTaskCycle payload.
type SubmitTaskCycleCall struct {
	Provider   gelato.Provider
	Tasks      []gelato.Task
	ExpiryDate uint64
	Cycles     uint64
}

// DecodeSubmitTaskCycle parses a submitTaskCycle payload back into model values.
func (r *Registry) DecodeSubmitTaskCycle(data []byte) (*SubmitTaskCycleCall, error) {
	args, err := r.DecodeArgs(gelato.IfaceGelatoCore, gelato.FnSubmitTaskCycle, data)
	if err != nil {
		return nil, err
	}

	provider, err := gelato.ProviderFromArray(args[0])
	if err != nil {
		return nil, err
	}
	tasks, err := tasksFromWire(args[1])
	if err != nil {
		return nil, err
	}
	expiry, err := wireUint64(args[2])
	if err != nil {
		return nil, err
	}
	cycles, err := wireUint64(args[3])
	if err != nil {
		return nil, err
	}
	return &SubmitTaskCycleCall{Provider: provider, Tasks: tasks, ExpiryDate: expiry, Cycles: cycles}, nil
}

// SubmitTaskInFutureCall is a decoded ActionSubmitTaskInFuture.action payload.
type SubmitTaskInFutureCall struct {
	Provider gelato.Provider
	Task     gelato.Task
	Lifetime uint64
}

func (r *Registry) DecodeSubmitTaskInFuture(data []byte) (*SubmitTaskInFutureCall, error) {
	args, err := r.DecodeArgs(gelato.IfaceSubmitTaskInFuture, gelato.FnAction, data)
	if err != nil {
		return nil, err
	}

	provider, err := gelato.ProviderFromArray(args[0])
	if err != nil {
		return nil, err
	}
	task, err := gelato.TaskFromArray(args[1])
	if err != nil {
		return nil, err
	}
	lifetime, err := wireUint64(args[2])
	if err != nil {
		return nil, err
	}
	return &SubmitTaskInFutureCall{Provider: provider, Task: task, Lifetime: lifetime}, nil
}

// DecodeProxyActions parses a GelatoUserProxy execAction or multiExecActions payload.
func (r *Registry) DecodeProxyActions(data []byte) ([]gelato.Action, error) {
	call, err := r.Decode(data)
	if err != nil {
		return nil, err
	}
	if call.Interface != gelato.IfaceUserProxy {
		return nil, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "not a user proxy call",
			goerr.V("interface", call.Interface), goerr.Tag(gelato.TagEncoding))
	}

	var raw []any
	switch call.Method {
	case gelato.FnExecAction:
		raw = []any{call.Args[0]}
	case gelato.FnMultiExecActions:
		list, ok := call.Args[0].([]any)
		if !ok {
			return nil, goerr.New("actions must be a list", goerr.Tag(gelato.TagEncoding))
		}
		raw = list
	default:
		return nil, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "not an action execution",
			goerr.V("function", call.Method), goerr.Tag(gelato.TagEncoding))
	}

	actions := make([]gelato.Action, len(raw))
	for i, a := range raw {
		action, err := gelato.ActionFromArray(a)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid proxy action", goerr.V("action_index", i))
		}
		actions[i] = action
	}
	return actions, nil
}

func tasksFromWire(v any) ([]gelato.Task, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, goerr.New("tasks must be a list", goerr.Tag(gelato.TagEncoding))
	}
	tasks := make([]gelato.Task, len(list))
	for i, raw := range list {
		t, err := gelato.TaskFromArray(raw)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid task", goerr.V("task_index", i))
		}
		tasks[i] = t
	}
	return tasks, nil
}

func wireUint64(v any) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, goerr.New("value must be a uint64", goerr.V("value", v), goerr.Tag(gelato.TagEncoding))
	}
	return n.Uint64(), nil
}

// Selector returns the 0x-prefixed selector of data.
func Selector(data []byte) string {
	if len(data) < gelato.SelectorSize {
		return ""
	}
	return "0x" + hex.EncodeToString(data[:gelato.SelectorSize])
}
