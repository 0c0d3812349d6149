package gelato

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// Encoder resolves (interface, function, args) into a call payload. Arguments
// may be literals, addresses or nested Task / Provider / Condition / Action
// values, which the encoder must encode recursively.
type Encoder interface {
	Encode(iface, fn string, args ...any) ([]byte, error)
}

// Contract interfaces and functions referenced by the composition helpers.
const (
	IfaceGelatoCore         = "IGelatoCore"
	IfaceGelatoProviders    = "IGelatoProviders"
	IfaceUserProxy          = "GelatoUserProxy"
	IfaceUserProxyFactory   = "IGelatoUserProxyFactory"
	IfaceSubmitTaskInFuture = "ActionSubmitTaskInFuture"

	FnSubmitTaskCycle  = "submitTaskCycle"
	FnAction           = "action"
	FnExecAction       = "execAction"
	FnMultiExecActions = "multiExecActions"
)

// NewSubmitTaskInFutureAction builds a context preserving Action that, when
// executed, submits task under provider with the given lifetime in seconds.
// task must be fully resolved: it is validated, and its in-flow placeholders
// are checked when enc also implements SlotResolver. enc must implement
// NestedTaskDecoder so that the nesting depth can be read back from the payload.
func NewSubmitTaskInFutureAction(enc Encoder, addr common.Address, provider Provider, task Task, lifetime uint64) (Action, error) {
	if err := checkNested(enc, provider, []Task{task}); err != nil {
		return Action{}, err
	}

	data, err := enc.Encode(IfaceSubmitTaskInFuture, FnAction, provider, task, lifetime)
	if err != nil {
		return Action{}, goerr.Wrap(err, "failed to encode nested task")
	}

	action, err := NewAction(ActionSpec{
		Addr:     addr,
		Data:     data,
		CallMode: CallModeContextPreserving,
		DataFlow: DataFlowNone,
	})
	if err != nil {
		return Action{}, err
	}
	if err := checkDepth(enc, action); err != nil {
		return Action{}, err
	}
	return action, nil
}

// NewSubmitTaskCycleAction builds a direct Action calling core's submitTaskCycle for cycle.
func NewSubmitTaskCycleAction(enc Encoder, core common.Address, provider Provider, cycle *TaskCycle) (Action, error) {
	if err := cycle.Validate(); err != nil {
		return Action{}, err
	}
	if err := checkNested(enc, provider, cycle.Tasks); err != nil {
		return Action{}, err
	}

	data, err := EncodeSubmitTaskCycle(enc, provider, cycle)
	if err != nil {
		return Action{}, err
	}

	action, err := NewAction(ActionSpec{
		Addr:     core,
		Data:     data,
		CallMode: CallModeDirect,
		DataFlow: DataFlowNone,
	})
	if err != nil {
		return Action{}, err
	}
	if err := checkDepth(enc, action); err != nil {
		return Action{}, err
	}
	return action, nil
}

// EncodeSubmitTaskCycle encodes IGelatoCore.submitTaskCycle(provider, tasks, expiryDate, cycles).
func EncodeSubmitTaskCycle(enc Encoder, provider Provider, cycle *TaskCycle) ([]byte, error) {
	data, err := enc.Encode(IfaceGelatoCore, FnSubmitTaskCycle, provider, cycle.Tasks, cycle.ExpiryDate, cycle.MaxRepetitions)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode submitTaskCycle")
	}
	return data, nil
}

// EncodeProxyActions wraps actions into the user proxy call that executes them
// in one transaction: execAction for a single action, multiExecActions otherwise.
func EncodeProxyActions(enc Encoder, actions []Action) ([]byte, error) {
	switch len(actions) {
	case 0:
		return nil, goerr.Wrap(ErrInvalidActionSpec, "no actions to execute", goerr.Tag(TagConstruction))
	case 1:
		return enc.Encode(IfaceUserProxy, FnExecAction, actions[0])
	default:
		return enc.Encode(IfaceUserProxy, FnMultiExecActions, actions)
	}
}

// checkNested validates tasks that are about to be embedded.
func checkNested(enc Encoder, provider Provider, tasks []Task) error {
	if err := provider.Validate(); err != nil {
		return err
	}

	resolver, canResolve := enc.(SlotResolver)
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return goerr.Wrap(err, "invalid nested task", goerr.V("task_index", i))
		}
		if canResolve {
			if err := t.CheckPlaceholders(resolver); err != nil {
				return goerr.Wrap(err, "nested task is not resolved", goerr.V("task_index", i))
			}
		}
	}
	return nil
}

// checkDepth reads the nesting of action back from its payload.
func checkDepth(enc Encoder, action Action) error {
	dec, ok := enc.(NestedTaskDecoder)
	if !ok {
		return goerr.New("encoder cannot decode nested tasks", goerr.Tag(TagEncoding))
	}
	return CheckDepth(dec, []Action{action})
}
