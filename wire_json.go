package gelato

import (
	"bytes"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/m-mizutani/goerr/v2"
)

// MarshalArrayJSON renders the flat array form as JSON: integers as decimal
// strings, addresses and payloads as 0x-prefixed hex, operation and dataFlow
// as numbers.
func (r *TaskReceipt) MarshalArrayJSON() ([]byte, error) {
	return json.Marshal(arrayToJSON(r.ToArray()))
}

func arrayToJSON(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = arrayToJSON(v[i])
		}
		return out
	case []byte:
		return hexutil.Bytes(v)
	case *big.Int:
		return v.String()
	default:
		return v
	}
}

// ParseReceiptArrayJSON reads the output of MarshalArrayJSON back into a receipt.
// Integers may be given as JSON numbers, decimal strings or 0x-prefixed hex.
func ParseReceiptArrayJSON(data []byte) (*TaskReceipt, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, goerr.Wrap(ErrInvalidReceipt, "failed to decode receipt array", goerr.V("error", err.Error()), goerr.Tag(TagConstruction))
	}
	if len(raw) != 8 {
		return nil, wireError("receipt", "receipt array must have 8 elements", goerr.V("length", len(raw)))
	}

	arr := make([]any, 8)
	var err error
	for _, i := range []int{0, 3, 5, 6, 7} {
		if arr[i], err = jsonBig(raw[i]); err != nil {
			return nil, err
		}
	}
	if arr[1], err = jsonAddress(raw[1]); err != nil {
		return nil, err
	}

	provider, ok := raw[2].([]any)
	if !ok || len(provider) != 2 {
		return nil, wireError("provider", "provider must be [addr, module]")
	}
	providerArr := make([]any, 2)
	for i := range provider {
		if providerArr[i], err = jsonAddress(provider[i]); err != nil {
			return nil, err
		}
	}
	arr[2] = providerArr

	tasks, ok := raw[4].([]any)
	if !ok {
		return nil, wireError("tasks", "tasks must be a list")
	}
	tasksArr := make([]any, len(tasks))
	for i, t := range tasks {
		if tasksArr[i], err = jsonTask(t); err != nil {
			return nil, goerr.Wrap(err, "invalid task", goerr.V("task_index", i))
		}
	}
	arr[4] = tasksArr

	return ReceiptFromArray(arr)
}

func jsonTask(v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 4 {
		return nil, wireError("task", "task must be [conditions, actions, gasLimit, gasPrice]")
	}

	conditions, ok := arr[0].([]any)
	if !ok {
		return nil, wireError("task.conditions", "conditions must be a list")
	}
	condArr := make([]any, len(conditions))
	for i, c := range conditions {
		fields, ok := c.([]any)
		if !ok || len(fields) != 2 {
			return nil, wireError("condition", "condition must be [inst, data]")
		}
		inst, err := jsonAddress(fields[0])
		if err != nil {
			return nil, err
		}
		data, err := jsonBytes(fields[1])
		if err != nil {
			return nil, err
		}
		condArr[i] = []any{inst, data}
	}

	actions, ok := arr[1].([]any)
	if !ok {
		return nil, wireError("task.actions", "actions must be a list")
	}
	actArr := make([]any, len(actions))
	for i, a := range actions {
		fields, ok := a.([]any)
		if !ok || len(fields) != 6 {
			return nil, wireError("action", "action must be [addr, data, operation, dataFlow, value, termsOkCheck]")
		}
		addr, err := jsonAddress(fields[0])
		if err != nil {
			return nil, err
		}
		data, err := jsonBytes(fields[1])
		if err != nil {
			return nil, err
		}
		op, err := jsonUint8(fields[2])
		if err != nil {
			return nil, err
		}
		df, err := jsonUint8(fields[3])
		if err != nil {
			return nil, err
		}
		value, err := jsonBig(fields[4])
		if err != nil {
			return nil, err
		}
		terms, ok := fields[5].(bool)
		if !ok {
			return nil, wireError("action.termsOkCheck", "termsOkCheck must be bool")
		}
		actArr[i] = []any{addr, data, op, df, value, terms}
	}

	gasLimit, err := jsonBig(arr[2])
	if err != nil {
		return nil, err
	}
	gasPrice, err := jsonBig(arr[3])
	if err != nil {
		return nil, err
	}
	return []any{condArr, actArr, gasLimit, gasPrice}, nil
}

func jsonBig(v any) (*big.Int, error) {
	var s string
	switch v := v.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	default:
		return nil, wireError("integer", "value must be an integer")
	}

	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return nil, wireError("integer", "value must be a non-negative integer", goerr.V("value", s))
	}
	return n, nil
}

func jsonUint8(v any) (uint8, error) {
	n, err := jsonBig(v)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, wireError("uint8", "value exceeds uint8", goerr.V("value", n.String()))
	}
	return uint8(n.Uint64()), nil
}

func jsonAddress(v any) (common.Address, error) {
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, wireError("address", "value must be a hex address", goerr.V("value", v))
	}
	return common.HexToAddress(s), nil
}

func jsonBytes(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, wireError("bytes", "value must be a hex string")
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, wireError("bytes", "value must be 0x-prefixed hex", goerr.V("value", s))
	}
	return b, nil
}
