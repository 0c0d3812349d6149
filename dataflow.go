package gelato

import (
	"bytes"
	"math/big"

	"github.com/m-mizutani/goerr/v2"
)

const (
	// SelectorSize is the length of the function selector prefixing every payload.
	SelectorSize = 4
	// WordSize is the length of one ABI head word.
	WordSize = 32
)

// SlotResolver locates the in-flow slot of a payload: the index of the head
// word (counted after the selector) that receives the value produced by the
// preceding action. By convention it is the first uint256 parameter of the
// called function.
type SlotResolver interface {
	InFlowSlot(data []byte) (int, error)
}

func wordOffset(data []byte, slot int) (int, error) {
	if slot < 0 {
		return 0, goerr.New("negative slot", goerr.V("slot", slot), goerr.Tag(TagEncoding))
	}
	offset := SelectorSize + slot*WordSize
	if len(data) < offset+WordSize {
		return 0, goerr.Wrap(ErrInvalidPlaceholder, "payload too short for slot",
			goerr.V("slot", slot), goerr.V("length", len(data)), goerr.Tag(TagEncoding))
	}
	return offset, nil
}

// ReadWord returns the unsigned value of the given head word of data.
func ReadWord(data []byte, slot int) (*big.Int, error) {
	offset, err := wordOffset(data, slot)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data[offset : offset+WordSize]), nil
}

// SpliceWord returns a copy of data whose head word at slot holds value.
func SpliceWord(data []byte, slot int, value *big.Int) ([]byte, error) {
	offset, err := wordOffset(data, slot)
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() < 0 || value.BitLen() > WordSize*8 {
		return nil, goerr.New("value does not fit an unsigned word", goerr.V("value", value), goerr.Tag(TagEncoding))
	}

	out := bytes.Clone(data)
	value.FillBytes(out[offset : offset+WordSize])
	return out, nil
}

// DecodeOutFlow reads the value an Out action returns. The return data must be exactly one word.
func DecodeOutFlow(ret []byte) (*big.Int, error) {
	if len(ret) != WordSize {
		return nil, goerr.New("out-flow return data must be a single word", goerr.V("length", len(ret)))
	}
	return new(big.Int).SetBytes(ret), nil
}

// CheckPlaceholders verifies that every consuming action holds zero in its in-flow slot.
func (t Task) CheckPlaceholders(r SlotResolver) error {
	for i, a := range t.actions {
		if !a.dataFlow.Consumes() {
			continue
		}
		eb := goerr.NewBuilder(goerr.V("action_index", i), goerr.Tag(TagEncoding))

		slot, err := r.InFlowSlot(a.data)
		if err != nil {
			return eb.Wrap(err, "cannot resolve in-flow slot")
		}
		word, err := ReadWord(a.data, slot)
		if err != nil {
			return eb.Wrap(err, "cannot read in-flow slot")
		}
		if word.Sign() != 0 {
			return eb.Wrap(ErrInvalidPlaceholder, "in-flow slot must hold zero placeholder",
				goerr.V("slot", slot), goerr.V("value", word.String()))
		}
	}
	return nil
}
