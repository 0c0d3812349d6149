package gelato

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// ConditionSpec is the input of NewCondition.
type ConditionSpec struct {
	Inst common.Address
	Data []byte
}

// Condition references an external predicate that must return "OK" before a Task's actions run.
type Condition struct {
	inst common.Address
	data []byte
}

// NewCondition validates spec and returns an immutable Condition.
func NewCondition(spec ConditionSpec) (Condition, error) {
	if spec.Inst == (common.Address{}) {
		return Condition{}, goerr.Wrap(ErrInvalidConditionSpec, "instance address is required", goerr.Tag(TagConstruction))
	}
	if len(spec.Data) == 0 {
		return Condition{}, goerr.Wrap(ErrInvalidConditionSpec, "encoded payload is required",
			goerr.V("inst", spec.Inst.Hex()), goerr.Tag(TagConstruction))
	}

	return Condition{
		inst: spec.Inst,
		data: bytes.Clone(spec.Data),
	}, nil
}

// Inst is the condition contract; Data returns a copy of the payload.
func (c Condition) Inst() common.Address { return c.inst }
func (c Condition) Data() []byte         { return bytes.Clone(c.data) }

// Spec returns the fields the Condition was built from.
func (c Condition) Spec() ConditionSpec {
	return ConditionSpec{Inst: c.inst, Data: c.Data()}
}

// Equal reports whether both address and payload bytes match.
func (c Condition) Equal(other Condition) bool {
	return c.inst == other.inst && bytes.Equal(c.data, other.data)
}

// Validate reports whether c was built by NewCondition.
func (c Condition) Validate() error {
	_, err := NewCondition(c.Spec())
	return err
}
