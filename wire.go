package gelato

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// Flat array form of receipts, matching the ABI tuple order:
//
//	receipt:   [id, userProxy, [addr, module], index, tasks, expiryDate, cycleId, submissionsLeft]
//	task:      [conditions, actions, selfProviderGasLimit, selfProviderGasPrice]
//	condition: [inst, data]
//	action:    [addr, data, operation, dataFlow, value, termsOkCheck]
//
// Integers are *big.Int except operation and dataFlow (uint8), addresses are
// common.Address, payloads are []byte and nested lists are []any.

func (c Condition) ToArray() []any {
	return []any{c.inst, c.Data()}
}

func (a Action) ToArray() []any {
	return []any{a.addr, a.Data(), uint8(a.callMode), uint8(a.dataFlow), a.Value(), a.termsOkCheck}
}

func (t Task) ToArray() []any {
	conditions := make([]any, len(t.conditions))
	for i, c := range t.conditions {
		conditions[i] = c.ToArray()
	}
	actions := make([]any, len(t.actions))
	for i, a := range t.actions {
		actions[i] = a.ToArray()
	}
	return []any{conditions, actions, t.SelfProviderGasLimit(), t.SelfProviderGasPrice()}
}

func (p Provider) ToArray() []any {
	return []any{p.Addr, p.Module}
}

func (r *TaskReceipt) ToArray() []any {
	tasks := make([]any, len(r.Tasks))
	for i, t := range r.Tasks {
		tasks[i] = t.ToArray()
	}
	return []any{
		new(big.Int).SetUint64(r.ID),
		r.UserProxy,
		r.Provider.ToArray(),
		new(big.Int).SetUint64(r.Index),
		tasks,
		new(big.Int).SetUint64(r.ExpiryDate),
		new(big.Int).SetUint64(r.CycleID),
		new(big.Int).SetUint64(r.SubmissionsLeft),
	}
}

// ReceiptFromArray is the inverse of (*TaskReceipt).ToArray.
func ReceiptFromArray(arr []any) (*TaskReceipt, error) {
	if len(arr) != 8 {
		return nil, wireError("receipt", "receipt array must have 8 elements", goerr.V("length", len(arr)))
	}

	var (
		r   TaskReceipt
		err error
	)
	if r.ID, err = wireUint64(arr[0], "id"); err != nil {
		return nil, err
	}
	if r.UserProxy, err = wireAddress(arr[1], "userProxy"); err != nil {
		return nil, err
	}
	if r.Provider, err = ProviderFromArray(arr[2]); err != nil {
		return nil, err
	}
	if r.Index, err = wireUint64(arr[3], "index"); err != nil {
		return nil, err
	}

	tasks, ok := arr[4].([]any)
	if !ok {
		return nil, wireError("tasks", "tasks must be a list")
	}
	r.Tasks = make([]Task, len(tasks))
	for i, v := range tasks {
		if r.Tasks[i], err = TaskFromArray(v); err != nil {
			return nil, goerr.Wrap(err, "invalid task", goerr.V("task_index", i))
		}
	}

	if r.ExpiryDate, err = wireUint64(arr[5], "expiryDate"); err != nil {
		return nil, err
	}
	if r.CycleID, err = wireUint64(arr[6], "cycleId"); err != nil {
		return nil, err
	}
	if r.SubmissionsLeft, err = wireUint64(arr[7], "submissionsLeft"); err != nil {
		return nil, err
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ProviderFromArray parses [addr, module].
func ProviderFromArray(v any) (Provider, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return Provider{}, wireError("provider", "provider must be [addr, module]")
	}
	addr, err := wireAddress(arr[0], "provider.addr")
	if err != nil {
		return Provider{}, err
	}
	module, err := wireAddress(arr[1], "provider.module")
	if err != nil {
		return Provider{}, err
	}
	return Provider{Addr: addr, Module: module}, nil
}

// TaskFromArray parses the task array and validates it like NewTask.
func TaskFromArray(v any) (Task, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 4 {
		return Task{}, wireError("task", "task must be [conditions, actions, gasLimit, gasPrice]")
	}

	var spec TaskSpec
	conditions, ok := arr[0].([]any)
	if !ok {
		return Task{}, wireError("task.conditions", "conditions must be a list")
	}
	for i, c := range conditions {
		cond, err := ConditionFromArray(c)
		if err != nil {
			return Task{}, goerr.Wrap(err, "invalid condition", goerr.V("condition_index", i))
		}
		spec.Conditions = append(spec.Conditions, cond)
	}

	actions, ok := arr[1].([]any)
	if !ok {
		return Task{}, wireError("task.actions", "actions must be a list")
	}
	for i, a := range actions {
		action, err := ActionFromArray(a)
		if err != nil {
			return Task{}, goerr.Wrap(err, "invalid action", goerr.V("action_index", i))
		}
		spec.Actions = append(spec.Actions, action)
	}

	var err error
	if spec.SelfProviderGasLimit, err = wireBig(arr[2], "selfProviderGasLimit"); err != nil {
		return Task{}, err
	}
	if spec.SelfProviderGasPrice, err = wireBig(arr[3], "selfProviderGasPrice"); err != nil {
		return Task{}, err
	}
	return NewTask(spec)
}

// ConditionFromArray parses [inst, data].
func ConditionFromArray(v any) (Condition, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return Condition{}, wireError("condition", "condition must be [inst, data]")
	}
	inst, err := wireAddress(arr[0], "condition.inst")
	if err != nil {
		return Condition{}, err
	}
	data, ok := arr[1].([]byte)
	if !ok {
		return Condition{}, wireError("condition.data", "data must be bytes")
	}
	return NewCondition(ConditionSpec{Inst: inst, Data: data})
}

// ActionFromArray parses the action array and validates it like NewAction.
func ActionFromArray(v any) (Action, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 6 {
		return Action{}, wireError("action", "action must be [addr, data, operation, dataFlow, value, termsOkCheck]")
	}

	var spec ActionSpec
	var err error
	if spec.Addr, err = wireAddress(arr[0], "action.addr"); err != nil {
		return Action{}, err
	}
	data, ok := arr[1].([]byte)
	if !ok {
		return Action{}, wireError("action.data", "data must be bytes")
	}
	spec.Data = data

	op, ok := arr[2].(uint8)
	if !ok {
		return Action{}, wireError("action.operation", "operation must be uint8")
	}
	spec.CallMode = CallMode(op)

	df, ok := arr[3].(uint8)
	if !ok {
		return Action{}, wireError("action.dataFlow", "dataFlow must be uint8")
	}
	spec.DataFlow = DataFlow(df)

	if spec.Value, err = wireBig(arr[4], "action.value"); err != nil {
		return Action{}, err
	}
	if spec.TermsOkCheck, ok = arr[5].(bool); !ok {
		return Action{}, wireError("action.termsOkCheck", "termsOkCheck must be bool")
	}
	return NewAction(spec)
}

func wireError(field, msg string, opts ...goerr.Option) error {
	opts = append(opts, goerr.V("field", field), goerr.Tag(TagConstruction))
	return goerr.Wrap(ErrInvalidReceipt, msg, opts...)
}

func wireAddress(v any, field string) (common.Address, error) {
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, wireError(field, "value must be an address")
	}
	return addr, nil
}

func wireBig(v any, field string) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, wireError(field, "value must be *big.Int")
	}
	if n.Sign() < 0 {
		return nil, wireError(field, "value must not be negative")
	}
	return new(big.Int).Set(n), nil
}

func wireUint64(v any, field string) (uint64, error) {
	n, err := wireBig(v, field)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, wireError(field, "value exceeds uint64", goerr.V("value", n.String()))
	}
	return n.Uint64(), nil
}
