package gelato

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// CallMode selects how the user proxy dispatches an Action.
type CallMode uint8

const (
	// CallModeDirect runs the action as an ordinary external call.
	CallModeDirect CallMode = iota
	// CallModeContextPreserving runs the action with the proxy's storage and identity (delegatecall).
	CallModeContextPreserving
)

// String returns the Solidity name of the call mode.
func (m CallMode) String() string {
	switch m {
	case CallModeDirect:
		return "call"
	case CallModeContextPreserving:
		return "delegatecall"
	default:
		return "unknown"
	}
}

// Valid reports whether m is one of the declared call modes.
func (m CallMode) Valid() bool {
	return m == CallModeDirect || m == CallModeContextPreserving
}

// MarshalText encodes m as its String form.
func (m CallMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, goerr.Wrap(ErrInvalidActionSpec, "unknown call mode", goerr.V("call_mode", uint8(m)))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts anything ParseCallMode does.
func (m *CallMode) UnmarshalText(text []byte) error {
	parsed, err := ParseCallMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseCallMode accepts "call"/"direct" and "delegatecall"/"context_preserving".
func ParseCallMode(s string) (CallMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "direct":
		return CallModeDirect, nil
	case "delegatecall", "context_preserving", "contextpreserving":
		return CallModeContextPreserving, nil
	}
	return 0, goerr.Wrap(ErrInvalidActionSpec, "unknown call mode",
		goerr.V("call_mode", s), goerr.Tag(TagConstruction))
}

// DataFlow describes whether an Action consumes or produces the chained numeric value.
type DataFlow uint8

const (
	// DataFlowNone neither consumes nor produces a value.
	DataFlowNone DataFlow = iota
	// DataFlowIn overwrites the in-flow slot with the predecessor's value.
	DataFlowIn
	// DataFlowOut returns a single uint256 for the successor.
	DataFlowOut
	// DataFlowBoth consumes a value and produces a new one.
	DataFlowBoth
)

// String returns the lower case name of the data flow.
func (f DataFlow) String() string {
	switch f {
	case DataFlowNone:
		return "none"
	case DataFlowIn:
		return "in"
	case DataFlowOut:
		return "out"
	case DataFlowBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Valid reports whether f is one of the declared data flows.
func (f DataFlow) Valid() bool {
	return f <= DataFlowBoth
}

// Consumes reports whether the action takes the value produced by its predecessor.
func (f DataFlow) Consumes() bool {
	return f == DataFlowIn || f == DataFlowBoth
}

// Produces reports whether the action's return value feeds its successor.
func (f DataFlow) Produces() bool {
	return f == DataFlowOut || f == DataFlowBoth
}

// MarshalText encodes f as its String form.
func (f DataFlow) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, goerr.Wrap(ErrInvalidActionSpec, "unknown data flow", goerr.V("data_flow", uint8(f)))
	}
	return []byte(f.String()), nil
}

// UnmarshalText accepts anything ParseDataFlow does.
func (f *DataFlow) UnmarshalText(text []byte) error {
	parsed, err := ParseDataFlow(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseDataFlow accepts "none" (or empty), "in", "out" and "both".
func ParseDataFlow(s string) (DataFlow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return DataFlowNone, nil
	case "in":
		return DataFlowIn, nil
	case "out":
		return DataFlowOut, nil
	case "both":
		return DataFlowBoth, nil
	}
	return 0, goerr.Wrap(ErrInvalidActionSpec, "unknown data flow",
		goerr.V("data_flow", s), goerr.Tag(TagConstruction))
}

// ActionSpec is the input of NewAction.
type ActionSpec struct {
	Addr         common.Address
	Data         []byte
	CallMode     CallMode
	DataFlow     DataFlow
	TermsOkCheck bool
	Value        *big.Int
}

// Action is a single validated step of a Task. Use NewAction to build one.
type Action struct {
	addr         common.Address
	data         []byte
	callMode     CallMode
	dataFlow     DataFlow
	termsOkCheck bool
	value        *big.Int
}

// NewAction validates spec and returns an immutable Action.
func NewAction(spec ActionSpec) (Action, error) {
	eb := goerr.NewBuilder(goerr.V("addr", spec.Addr.Hex()), goerr.Tag(TagConstruction))

	if spec.Addr == (common.Address{}) {
		return Action{}, eb.Wrap(ErrInvalidActionSpec, "target address is required")
	}
	if len(spec.Data) == 0 {
		return Action{}, eb.Wrap(ErrInvalidActionSpec, "encoded payload is required")
	}
	if !spec.CallMode.Valid() {
		return Action{}, eb.Wrap(ErrInvalidActionSpec, "unknown call mode", goerr.V("call_mode", uint8(spec.CallMode)))
	}
	if !spec.DataFlow.Valid() {
		return Action{}, eb.Wrap(ErrInvalidActionSpec, "unknown data flow", goerr.V("data_flow", uint8(spec.DataFlow)))
	}

	value := new(big.Int)
	if spec.Value != nil {
		if spec.Value.Sign() < 0 {
			return Action{}, eb.Wrap(ErrInvalidActionSpec, "value must not be negative", goerr.V("value", spec.Value.String()))
		}
		value.Set(spec.Value)
	}

	return Action{
		addr:         spec.Addr,
		data:         bytes.Clone(spec.Data),
		callMode:     spec.CallMode,
		dataFlow:     spec.DataFlow,
		termsOkCheck: spec.TermsOkCheck,
		value:        value,
	}, nil
}

// Accessors of the on-chain fields. Data and Value return copies.
func (a Action) Addr() common.Address { return a.addr }
func (a Action) Data() []byte         { return bytes.Clone(a.data) }
func (a Action) CallMode() CallMode   { return a.callMode }
func (a Action) DataFlow() DataFlow   { return a.dataFlow }
func (a Action) TermsOkCheck() bool   { return a.termsOkCheck }

func (a Action) Value() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

// Spec returns the fields the Action was built from.
func (a Action) Spec() ActionSpec {
	return ActionSpec{
		Addr:         a.addr,
		Data:         a.Data(),
		CallMode:     a.callMode,
		DataFlow:     a.dataFlow,
		TermsOkCheck: a.termsOkCheck,
		Value:        a.Value(),
	}
}

// WithData returns a copy of the action carrying data instead of its payload.
func (a Action) WithData(data []byte) Action {
	a.data = bytes.Clone(data)
	return a
}

// Equal compares the on-chain fields of two actions.
func (a Action) Equal(b Action) bool {
	return a.addr == b.addr &&
		bytes.Equal(a.data, b.data) &&
		a.callMode == b.callMode &&
		a.dataFlow == b.dataFlow &&
		a.termsOkCheck == b.termsOkCheck &&
		a.Value().Cmp(b.Value()) == 0
}

// Validate reports whether a was built by NewAction.
func (a Action) Validate() error {
	_, err := NewAction(a.Spec())
	return err
}
