package gelato_test

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gt"
)

func newSampleReceipt(t *testing.T) *gelato.TaskReceipt {
	t.Helper()
	reg := newRegistry(t)

	cond, err := gelato.NewCondition(gelato.ConditionSpec{
		Inst: condAddr,
		Data: payload(t, reg, "ConditionFragmentsSupply", "checkRefSupply", userProxy, true),
	})
	gt.NoError(t, err)

	out := mustAction(t, gelato.ActionSpec{
		Addr:     actionRet,
		Data:     payload(t, reg, "ActionReturnBalance", "action", tokenA, 100),
		CallMode: gelato.CallModeContextPreserving,
		DataFlow: gelato.DataFlowOut,
	})
	in := mustAction(t, gelato.ActionSpec{
		Addr:         actionUni,
		Data:         payload(t, reg, "ActionUniswapV2Trade", "action", tokenA, 0, tokenB, userProxy, userProxy),
		CallMode:     gelato.CallModeContextPreserving,
		DataFlow:     gelato.DataFlowIn,
		TermsOkCheck: true,
		Value:        big.NewInt(7),
	})

	first, err := gelato.NewTask(gelato.TaskSpec{
		Conditions:           []gelato.Condition{cond},
		Actions:              []gelato.Action{out, in},
		SelfProviderGasLimit: big.NewInt(3_000_000),
		SelfProviderGasPrice: big.NewInt(50_000_000_000),
	})
	gt.NoError(t, err)
	second, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{out}})
	gt.NoError(t, err)

	cycle, err := gelato.NewTaskCycle([]gelato.Task{first, second}, 1_800_000_000, 3)
	gt.NoError(t, err)

	r := cycle.FirstReceipt(userProxy, selfProvider)
	r.ID = 42
	r.CycleID = 7
	return r
}

func TestReceiptArrayRoundTrip(t *testing.T) {
	r := newSampleReceipt(t)

	arr := r.ToArray()
	gt.A(t, arr).Length(8)

	parsed, err := gelato.ReceiptFromArray(arr)
	gt.NoError(t, err)
	gt.True(t, parsed.Equal(r))

	t.Run("json array form", func(t *testing.T) {
		data, err := r.MarshalArrayJSON()
		gt.NoError(t, err)

		parsed, err := gelato.ParseReceiptArrayJSON(data)
		gt.NoError(t, err)
		gt.True(t, parsed.Equal(r))
	})

	t.Run("object form", func(t *testing.T) {
		data, err := json.Marshal(r)
		gt.NoError(t, err)

		parsed, err := gelato.ParseReceiptJSON(data)
		gt.NoError(t, err)
		gt.True(t, parsed.Equal(r))
	})
}

func TestReceiptFromArrayErrors(t *testing.T) {
	valid := newSampleReceipt(t).ToArray()

	mutate := func(i int, v any) []any {
		arr := append([]any(nil), valid...)
		arr[i] = v
		return arr
	}

	for name, arr := range map[string][]any{
		"short":            valid[:7],
		"id not integer":   mutate(0, "42"),
		"negative index":   mutate(3, big.NewInt(-1)),
		"index too large":  mutate(3, big.NewInt(2)),
		"bad provider":     mutate(2, []any{userProxy}),
		"zero user proxy":  mutate(1, common.Address{}),
		"no tasks":         mutate(4, []any{}),
		"no submissions":   mutate(7, big.NewInt(0)),
		"tasks not a list": mutate(4, "tasks"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := gelato.ReceiptFromArray(arr)
			gt.Error(t, err)
			gt.True(t, gelato.IsLocalError(err))
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		_, err := gelato.ParseReceiptArrayJSON([]byte(`[1, "0x1111111111111111111111111111111111111111"]`))
		gt.True(t, errors.Is(err, gelato.ErrInvalidReceipt))
	})
}

func TestReceiptLifecycle(t *testing.T) {
	r := newSampleReceipt(t)
	gt.Equal(t, r.SubmissionsLeft, uint64(6))
	now := time.Unix(1_700_000_000, 0)

	var indexes []uint64
	cur := r
	for {
		indexes = append(indexes, cur.Index)
		next, ok := cur.Next(now)
		if !ok {
			gt.True(t, cur.Terminal(now))
			break
		}
		gt.Equal(t, next.ID, uint64(0))
		gt.Equal(t, next.CycleID, r.CycleID)
		gt.Equal(t, next.SubmissionsLeft, cur.SubmissionsLeft-1)
		cur = next
	}
	gt.Equal(t, indexes, []uint64{0, 1, 0, 1, 0, 1})

	t.Run("single repetition is terminal", func(t *testing.T) {
		cycle, err := gelato.NewTaskCycle([]gelato.Task{r.Tasks[1]}, 0, 1)
		gt.NoError(t, err)
		first := cycle.FirstReceipt(userProxy, selfProvider)
		gt.True(t, first.Terminal(now))
		_, ok := first.Next(now)
		gt.False(t, ok)
	})

	t.Run("expiry is terminal", func(t *testing.T) {
		gt.False(t, r.Expired(now))
		expiry := time.Unix(int64(r.ExpiryDate), 0)
		gt.True(t, r.Expired(expiry))
		_, ok := r.Next(expiry)
		gt.False(t, ok)
	})

	t.Run("zero expiry never expires", func(t *testing.T) {
		c := r.Clone()
		c.ExpiryDate = 0
		gt.False(t, c.Expired(time.Unix(1<<40, 0)))
	})

	t.Run("clone is independent", func(t *testing.T) {
		c := r.Clone()
		c.Tasks[0] = c.Tasks[1]
		gt.False(t, c.Equal(r))
	})
}

func TestTaskCycle(t *testing.T) {
	r := newSampleReceipt(t)

	_, err := gelato.NewTaskCycle(nil, 0, 1)
	gt.True(t, errors.Is(err, gelato.ErrInvalidCycle))

	_, err = gelato.NewTaskCycle(r.Tasks, 0, 0)
	gt.True(t, errors.Is(err, gelato.ErrInvalidCycle))

	cycle, err := gelato.NewTaskCycle(r.Tasks, 100, 4)
	gt.NoError(t, err)
	gt.Equal(t, cycle.SubmissionBudget(), uint64(8))
	gt.False(t, cycle.Expired(time.Unix(99, 0)))
	gt.True(t, cycle.Expired(time.Unix(100, 0)))
}

func TestTaskJSON(t *testing.T) {
	task := newSampleReceipt(t).Tasks[0]

	data, err := json.Marshal(task)
	gt.NoError(t, err)

	var parsed gelato.Task
	gt.NoError(t, json.Unmarshal(data, &parsed))
	gt.True(t, parsed.Equal(task))

	var raw map[string]any
	gt.NoError(t, json.Unmarshal(data, &raw))
	actions := raw["actions"].([]any)
	gt.Equal(t, actions[0].(map[string]any)["operation"], any("delegatecall"))
	gt.Equal(t, actions[0].(map[string]any)["dataFlow"], any("out"))

	t.Run("broken chain is rejected", func(t *testing.T) {
		var broken gelato.Task
		in := raw["actions"].([]any)[1]
		data, err := json.Marshal(map[string]any{"conditions": []any{}, "actions": []any{in}})
		gt.NoError(t, err)
		err = json.Unmarshal(data, &broken)
		gt.True(t, errors.Is(err, gelato.ErrDataFlowChainBroken))
	})
}
