package calldata

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

// InFlowSlot returns the head word index of the first uint256 parameter of
// the function data calls. The preceding action's output is written there.
func (r *Registry) InFlowSlot(data []byte) (int, error) {
	ref, err := r.methodBySelector(data)
	if err != nil {
		return 0, err
	}

	sel := [4]byte(data[:gelato.SelectorSize])
	if slot, ok := r.slots.Get(sel); ok {
		return slot, nil
	}

	word := 0
	for _, in := range ref.method.Inputs {
		if in.Type.T == abi.UintTy && in.Type.Size == 256 {
			r.slots.Add(sel, word)
			return word, nil
		}
		word += headWords(in.Type)
	}

	return 0, goerr.Wrap(gelato.ErrInvalidPlaceholder, "function has no uint256 parameter",
		goerr.V("interface", ref.iface),
		goerr.V("function", ref.method.Sig),
		goerr.Tag(gelato.TagEncoding),
	)
}

// headWords is the number of head words a parameter of type t occupies.
func headWords(t abi.Type) int {
	if isDynamic(t) {
		return 1
	}
	switch t.T {
	case abi.ArrayTy:
		return t.Size * headWords(*t.Elem)
	case abi.TupleTy:
		n := 0
		for _, elem := range t.TupleElems {
			n += headWords(*elem)
		}
		return n
	default:
		return 1
	}
}

func isDynamic(t abi.Type) bool {
	switch t.T {
	case abi.StringTy, abi.BytesTy, abi.SliceTy:
		return true
	case abi.ArrayTy:
		return isDynamic(*t.Elem)
	case abi.TupleTy:
		for _, elem := range t.TupleElems {
			if isDynamic(*elem) {
				return true
			}
		}
	}
	return false
}
