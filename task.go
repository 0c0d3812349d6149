package gelato

import (
	"math/big"

	"github.com/m-mizutani/goerr/v2"
)

// MaxNestingDepth bounds how many Tasks may be embedded inside one another
// through submit-task actions.
const MaxNestingDepth = 8

// TaskSpec is the input of NewTask. A nil or zero gas override means no cap.
type TaskSpec struct {
	Conditions           []Condition
	Actions              []Action
	SelfProviderGasLimit *big.Int
	SelfProviderGasPrice *big.Int
}

// Task is an ordered list of conditions gating an ordered, atomic list of actions.
// A Task has no identity until an execution engine assigns a TaskReceipt.
type Task struct {
	conditions           []Condition
	actions              []Action
	selfProviderGasLimit *big.Int
	selfProviderGasPrice *big.Int
}

// NewTask validates spec, including the data flow chain, and returns an immutable Task.
func NewTask(spec TaskSpec) (Task, error) {
	t := Task{
		conditions:           append([]Condition(nil), spec.Conditions...),
		actions:              append([]Action(nil), spec.Actions...),
		selfProviderGasLimit: copyOrZero(spec.SelfProviderGasLimit),
		selfProviderGasPrice: copyOrZero(spec.SelfProviderGasPrice),
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Conditions and Actions return copies; a Task cannot be changed once built.
func (t Task) Conditions() []Condition { return append([]Condition(nil), t.conditions...) }
func (t Task) Actions() []Action       { return append([]Action(nil), t.actions...) }

func (t Task) SelfProviderGasLimit() *big.Int { return copyOrZero(t.selfProviderGasLimit) }
func (t Task) SelfProviderGasPrice() *big.Int { return copyOrZero(t.selfProviderGasPrice) }

// Spec returns the fields the Task was built from.
func (t Task) Spec() TaskSpec {
	return TaskSpec{
		Conditions:           t.Conditions(),
		Actions:              t.Actions(),
		SelfProviderGasLimit: t.SelfProviderGasLimit(),
		SelfProviderGasPrice: t.SelfProviderGasPrice(),
	}
}

// NestedTaskDecoder extracts the Tasks an action payload submits when it
// runs. ok is false when data is not a task submission.
type NestedTaskDecoder interface {
	NestedTasks(data []byte) (tasks []Task, ok bool, err error)
}

// Depth is 0 for a Task that embeds no other Task, otherwise one more than its
// deepest embedded Task. Embedded Tasks are decoded from the action payloads,
// so the result does not depend on how the actions were built. Depth fails
// with ErrNestingTooDeep as soon as the nesting exceeds MaxNestingDepth.
func (t Task) Depth(dec NestedTaskDecoder) (int, error) {
	return actionsDepth(dec, t.actions, 0)
}

// actionsDepth returns the nesting depth contributed by actions of a Task
// found level steps below the outermost one.
func actionsDepth(dec NestedTaskDecoder, actions []Action, level int) (int, error) {
	depth := 0
	for i, a := range actions {
		nested, ok, err := dec.NestedTasks(a.data)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to decode nested tasks",
				goerr.V("action_index", i), goerr.V("level", level), goerr.Tag(TagEncoding))
		}
		if !ok {
			continue
		}
		if level+1 > MaxNestingDepth {
			return 0, goerr.Wrap(ErrNestingTooDeep, "task nesting exceeds limit",
				goerr.V("limit", MaxNestingDepth), goerr.Tag(TagConstruction))
		}
		for _, n := range nested {
			d, err := actionsDepth(dec, n.actions, level+1)
			if err != nil {
				return 0, err
			}
			depth = max(depth, d+1)
		}
	}
	return depth, nil
}

// CheckDepth fails with ErrNestingTooDeep when the embedded Tasks of actions
// nest deeper than MaxNestingDepth.
func CheckDepth(dec NestedTaskDecoder, actions []Action) error {
	_, err := actionsDepth(dec, actions, 0)
	return err
}

// Validate reports whether t satisfies the invariants checked by NewTask.
func (t Task) Validate() error {
	if len(t.actions) == 0 {
		return goerr.Wrap(ErrInvalidTaskSpec, "task requires at least one action", goerr.Tag(TagConstruction))
	}
	if t.selfProviderGasLimit != nil && t.selfProviderGasLimit.Sign() < 0 {
		return goerr.Wrap(ErrInvalidTaskSpec, "self provider gas limit must not be negative", goerr.Tag(TagConstruction))
	}
	if t.selfProviderGasPrice != nil && t.selfProviderGasPrice.Sign() < 0 {
		return goerr.Wrap(ErrInvalidTaskSpec, "self provider gas price must not be negative", goerr.Tag(TagConstruction))
	}

	for i, c := range t.conditions {
		if err := c.Validate(); err != nil {
			return goerr.Wrap(err, "invalid condition", goerr.V("condition_index", i))
		}
	}
	for i, a := range t.actions {
		if err := a.Validate(); err != nil {
			return goerr.Wrap(err, "invalid action", goerr.V("action_index", i))
		}
	}

	return t.checkChain()
}

// checkChain requires every consuming action to follow a producing one.
func (t Task) checkChain() error {
	for i, a := range t.actions {
		if !a.dataFlow.Consumes() {
			continue
		}
		if i == 0 || !t.actions[i-1].dataFlow.Produces() {
			eb := goerr.NewBuilder(
				goerr.V("action_index", i),
				goerr.V("data_flow", a.dataFlow.String()),
				goerr.Tag(TagConstruction),
			)
			if i == 0 {
				return eb.Wrap(ErrDataFlowChainBroken, "first action cannot consume in-flow data")
			}
			return eb.Wrap(ErrDataFlowChainBroken, "predecessor does not produce out-flow data",
				goerr.V("predecessor_data_flow", t.actions[i-1].dataFlow.String()))
		}
	}
	return nil
}

// Equal compares conditions, actions and gas overrides.
func (t Task) Equal(other Task) bool {
	if len(t.conditions) != len(other.conditions) || len(t.actions) != len(other.actions) {
		return false
	}
	for i := range t.conditions {
		if !t.conditions[i].Equal(other.conditions[i]) {
			return false
		}
	}
	for i := range t.actions {
		if !t.actions[i].Equal(other.actions[i]) {
			return false
		}
	}
	return t.SelfProviderGasLimit().Cmp(other.SelfProviderGasLimit()) == 0 &&
		t.SelfProviderGasPrice().Cmp(other.SelfProviderGasPrice()) == 0
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
