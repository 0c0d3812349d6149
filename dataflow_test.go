package gelato_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gt"
)

func TestSpliceWord(t *testing.T) {
	reg := newRegistry(t)
	data := payload(t, reg, "ActionUniswapV2Trade", "action", tokenA, 0, tokenB, userProxy, userProxy)

	slot, err := reg.InFlowSlot(data)
	gt.NoError(t, err)
	gt.Equal(t, slot, 1)

	spliced, err := gelato.SpliceWord(data, slot, big.NewInt(500))
	gt.NoError(t, err)

	expected := payload(t, reg, "ActionUniswapV2Trade", "action", tokenA, 500, tokenB, userProxy, userProxy)
	gt.True(t, bytes.Equal(spliced, expected))

	word, err := gelato.ReadWord(data, slot)
	gt.NoError(t, err)
	gt.Equal(t, word.Sign(), 0)

	t.Run("slot out of range", func(t *testing.T) {
		_, err := gelato.SpliceWord(data, 10, big.NewInt(1))
		gt.True(t, errors.Is(err, gelato.ErrInvalidPlaceholder))
	})

	t.Run("value too large", func(t *testing.T) {
		_, err := gelato.SpliceWord(data, slot, new(big.Int).Lsh(big.NewInt(1), 256))
		gt.Error(t, err)
	})
}

func TestDecodeOutFlow(t *testing.T) {
	word := make([]byte, gelato.WordSize)
	word[31] = 0x2a
	v, err := gelato.DecodeOutFlow(word)
	gt.NoError(t, err)
	gt.Equal(t, v.Int64(), int64(42))

	_, err = gelato.DecodeOutFlow(append(word, 0))
	gt.Error(t, err)
	_, err = gelato.DecodeOutFlow(nil)
	gt.Error(t, err)
}

func TestCheckPlaceholders(t *testing.T) {
	reg := newRegistry(t)
	out := mustAction(t, gelato.ActionSpec{
		Addr:     actionRet,
		Data:     payload(t, reg, "ActionReturnBalance", "action", tokenA, 100),
		DataFlow: gelato.DataFlowOut,
	})
	trade := func(amount int64) gelato.Action {
		return mustAction(t, gelato.ActionSpec{
			Addr:     actionUni,
			Data:     payload(t, reg, "ActionUniswapV2Trade", "action", tokenA, amount, tokenB, userProxy, userProxy),
			DataFlow: gelato.DataFlowIn,
		})
	}

	ok, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{out, trade(0)}})
	gt.NoError(t, err)
	gt.NoError(t, ok.CheckPlaceholders(reg))

	bad, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{out, trade(1)}})
	gt.NoError(t, err)
	err = bad.CheckPlaceholders(reg)
	gt.True(t, errors.Is(err, gelato.ErrInvalidPlaceholder))
	gt.True(t, gelato.IsLocalError(err))
}
