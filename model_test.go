package gelato_test

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/calldata"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

var (
	userProxy = common.HexToAddress("0x1111111111111111111111111111111111111111")
	module    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenA    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenB    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	actionRet = common.HexToAddress("0x5555555555555555555555555555555555555555")
	actionUni = common.HexToAddress("0x6666666666666666666666666666666666666666")
	condAddr  = common.HexToAddress("0x7777777777777777777777777777777777777777")
	future    = common.HexToAddress("0x8888888888888888888888888888888888888888")
	executor  = common.HexToAddress("0x9999999999999999999999999999999999999999")

	selfProvider = gelato.Provider{Addr: userProxy, Module: module}
)

func newRegistry(t *testing.T) *calldata.Registry {
	t.Helper()
	reg, err := calldata.New()
	gt.NoError(t, err)
	return reg
}

func mustAction(t *testing.T, spec gelato.ActionSpec) gelato.Action {
	t.Helper()
	a, err := gelato.NewAction(spec)
	gt.NoError(t, err)
	return a
}

func payload(t *testing.T, reg *calldata.Registry, iface, fn string, args ...any) []byte {
	t.Helper()
	data, err := reg.Encode(iface, fn, args...)
	gt.NoError(t, err)
	return data
}

func TestNewCondition(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c, err := gelato.NewCondition(gelato.ConditionSpec{Inst: condAddr, Data: []byte{1, 2, 3, 4}})
		gt.NoError(t, err)
		gt.Equal(t, c.Inst(), condAddr)
		gt.Equal(t, c.Data(), []byte{1, 2, 3, 4})
	})

	t.Run("missing instance", func(t *testing.T) {
		_, err := gelato.NewCondition(gelato.ConditionSpec{Data: []byte{1}})
		gt.True(t, errors.Is(err, gelato.ErrInvalidConditionSpec))
		gt.True(t, goerr.HasTag(err, gelato.TagConstruction))
		gt.True(t, gelato.IsLocalError(err))
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := gelato.NewCondition(gelato.ConditionSpec{Inst: condAddr})
		gt.True(t, errors.Is(err, gelato.ErrInvalidConditionSpec))
	})
}

func TestNewAction(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		a := mustAction(t, gelato.ActionSpec{Addr: actionRet, Data: []byte{1}})
		gt.Equal(t, a.CallMode(), gelato.CallModeDirect)
		gt.Equal(t, a.DataFlow(), gelato.DataFlowNone)
		gt.Equal(t, a.Value().Sign(), 0)
		gt.False(t, a.TermsOkCheck())
	})

	t.Run("payload is copied", func(t *testing.T) {
		data := []byte{1, 2}
		a := mustAction(t, gelato.ActionSpec{Addr: actionRet, Data: data})
		data[0] = 9
		gt.Equal(t, a.Data(), []byte{1, 2})
	})

	for name, spec := range map[string]gelato.ActionSpec{
		"missing target":    {Data: []byte{1}},
		"empty payload":     {Addr: actionRet},
		"unknown call mode": {Addr: actionRet, Data: []byte{1}, CallMode: 7},
		"unknown data flow": {Addr: actionRet, Data: []byte{1}, DataFlow: 9},
		"negative value":    {Addr: actionRet, Data: []byte{1}, Value: big.NewInt(-1)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := gelato.NewAction(spec)
			gt.True(t, errors.Is(err, gelato.ErrInvalidActionSpec))
			gt.True(t, goerr.HasTag(err, gelato.TagConstruction))
		})
	}
}

func TestParseModes(t *testing.T) {
	mode, err := gelato.ParseCallMode("delegatecall")
	gt.NoError(t, err)
	gt.Equal(t, mode, gelato.CallModeContextPreserving)

	mode, err = gelato.ParseCallMode("direct")
	gt.NoError(t, err)
	gt.Equal(t, mode, gelato.CallModeDirect)

	_, err = gelato.ParseCallMode("staticcall")
	gt.Error(t, err)

	flow, err := gelato.ParseDataFlow("both")
	gt.NoError(t, err)
	gt.True(t, flow.Consumes())
	gt.True(t, flow.Produces())

	_, err = gelato.ParseDataFlow("sideways")
	gt.Error(t, err)
}

func TestNewTask(t *testing.T) {
	noop := mustAction(t, gelato.ActionSpec{Addr: actionRet, Data: []byte{1}})
	out := mustAction(t, gelato.ActionSpec{Addr: actionRet, Data: []byte{1}, DataFlow: gelato.DataFlowOut})
	in := mustAction(t, gelato.ActionSpec{Addr: actionUni, Data: []byte{2}, DataFlow: gelato.DataFlowIn})
	both := mustAction(t, gelato.ActionSpec{Addr: actionUni, Data: []byte{3}, DataFlow: gelato.DataFlowBoth})

	t.Run("empty conditions are allowed", func(t *testing.T) {
		task, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{noop}})
		gt.NoError(t, err)
		gt.A(t, task.Conditions()).Length(0)
		gt.Equal(t, task.SelfProviderGasLimit().Sign(), 0)
	})

	t.Run("empty actions are rejected", func(t *testing.T) {
		_, err := gelato.NewTask(gelato.TaskSpec{})
		gt.True(t, errors.Is(err, gelato.ErrInvalidTaskSpec))
		gt.True(t, goerr.HasTag(err, gelato.TagConstruction))
	})

	t.Run("negative gas override", func(t *testing.T) {
		_, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{noop}, SelfProviderGasPrice: big.NewInt(-1)})
		gt.True(t, errors.Is(err, gelato.ErrInvalidTaskSpec))
	})

	t.Run("valid data flow chains", func(t *testing.T) {
		for _, actions := range [][]gelato.Action{
			{out, in},
			{out, both, in},
			{noop, out, in, noop},
		} {
			_, err := gelato.NewTask(gelato.TaskSpec{Actions: actions})
			gt.NoError(t, err)
		}
	})

	t.Run("broken data flow chains", func(t *testing.T) {
		for _, actions := range [][]gelato.Action{
			{in},
			{noop, in},
			{out, noop, in},
			{both},
		} {
			_, err := gelato.NewTask(gelato.TaskSpec{Actions: actions})
			gt.True(t, errors.Is(err, gelato.ErrDataFlowChainBroken))
			gt.True(t, gelato.IsLocalError(err))
		}
	})

	t.Run("zero value action is invalid", func(t *testing.T) {
		_, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{{}}})
		gt.True(t, errors.Is(err, gelato.ErrInvalidActionSpec))
	})
}

func depthOf(t *testing.T, reg *calldata.Registry, task gelato.Task) int {
	t.Helper()
	depth, err := task.Depth(reg)
	gt.NoError(t, err)
	return depth
}

// nestedTask wraps a transfer task depth times in submit-in-future actions.
func nestedTask(t *testing.T, reg *calldata.Registry, depth int) gelato.Task {
	t.Helper()
	task, err := gelato.NewTask(gelato.TaskSpec{
		Actions: []gelato.Action{mustAction(t, gelato.ActionSpec{
			Addr: tokenA,
			Data: payload(t, reg, "ERC20", "transfer", tokenB, 1),
		})},
	})
	gt.NoError(t, err)

	for i := 0; i < depth; i++ {
		action, err := gelato.NewSubmitTaskInFutureAction(reg, future, selfProvider, task, 60)
		gt.NoError(t, err)
		task, err = gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{action}})
		gt.NoError(t, err)
	}
	return task
}

func TestNestingDepth(t *testing.T) {
	reg := newRegistry(t)
	gt.Equal(t, depthOf(t, reg, nestedTask(t, reg, 0)), 0)
	gt.Equal(t, depthOf(t, reg, nestedTask(t, reg, 3)), 3)

	deepest := nestedTask(t, reg, gelato.MaxNestingDepth)
	gt.Equal(t, depthOf(t, reg, deepest), gelato.MaxNestingDepth)

	_, err := gelato.NewSubmitTaskInFutureAction(reg, future, selfProvider, deepest, 60)
	gt.True(t, errors.Is(err, gelato.ErrNestingTooDeep))
	gt.True(t, goerr.HasTag(err, gelato.TagConstruction))

	t.Run("depth survives JSON", func(t *testing.T) {
		data, err := json.Marshal(deepest)
		gt.NoError(t, err)
		var restored gelato.Task
		gt.NoError(t, json.Unmarshal(data, &restored))
		gt.Equal(t, depthOf(t, reg, restored), gelato.MaxNestingDepth)

		_, err = gelato.NewSubmitTaskInFutureAction(reg, future, selfProvider, restored, 60)
		gt.True(t, errors.Is(err, gelato.ErrNestingTooDeep))
	})

	t.Run("depth survives the array form", func(t *testing.T) {
		restored, err := gelato.TaskFromArray(deepest.ToArray())
		gt.NoError(t, err)
		gt.Equal(t, depthOf(t, reg, restored), gelato.MaxNestingDepth)

		_, err = gelato.NewSubmitTaskInFutureAction(reg, future, selfProvider, restored, 60)
		gt.True(t, errors.Is(err, gelato.ErrNestingTooDeep))
	})

	t.Run("hand encoded submission is measured", func(t *testing.T) {
		action := mustAction(t, gelato.ActionSpec{
			Addr:     future,
			Data:     payload(t, reg, "ActionSubmitTaskInFuture", "action", selfProvider, deepest, 60),
			CallMode: gelato.CallModeContextPreserving,
		})
		outer, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{action}})
		gt.NoError(t, err)

		_, err = outer.Depth(reg)
		gt.True(t, errors.Is(err, gelato.ErrNestingTooDeep))
		gt.True(t, errors.Is(gelato.CheckDepth(reg, []gelato.Action{action}), gelato.ErrNestingTooDeep))
	})

	t.Run("replaced payload drops the nesting", func(t *testing.T) {
		action := deepest.Actions()[0].WithData(payload(t, reg, "ERC20", "transfer", tokenB, 1))
		task, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{action}})
		gt.NoError(t, err)
		gt.Equal(t, depthOf(t, reg, task), 0)
	})

	t.Run("encoder must decode nested tasks", func(t *testing.T) {
		_, err := gelato.NewSubmitTaskInFutureAction(encodeOnly{reg}, future, selfProvider, deepest, 60)
		gt.True(t, goerr.HasTag(err, gelato.TagEncoding))
	})
}

type encodeOnly struct {
	reg *calldata.Registry
}

func (x encodeOnly) Encode(iface, fn string, args ...any) ([]byte, error) {
	return x.reg.Encode(iface, fn, args...)
}

func TestNestedTaskMustBeResolved(t *testing.T) {
	reg := newRegistry(t)
	out := mustAction(t, gelato.ActionSpec{
		Addr:     actionRet,
		Data:     payload(t, reg, "ActionReturnBalance", "action", tokenA, 100),
		DataFlow: gelato.DataFlowOut,
	})
	in := mustAction(t, gelato.ActionSpec{
		Addr:     actionUni,
		Data:     payload(t, reg, "ActionUniswapV2Trade", "action", tokenA, 5, tokenB, userProxy, userProxy),
		DataFlow: gelato.DataFlowIn,
	})
	task, err := gelato.NewTask(gelato.TaskSpec{Actions: []gelato.Action{out, in}})
	gt.NoError(t, err)

	_, err = gelato.NewSubmitTaskInFutureAction(reg, future, selfProvider, task, 60)
	gt.True(t, errors.Is(err, gelato.ErrInvalidPlaceholder))
	gt.True(t, gelato.IsLocalError(err))
}

func TestProvider(t *testing.T) {
	p, err := gelato.NewProvider(userProxy, module)
	gt.NoError(t, err)
	gt.True(t, p.IsSelfProvider(userProxy))
	gt.False(t, p.IsSelfProvider(executor))

	_, err = gelato.NewProvider(userProxy, common.Address{})
	gt.True(t, errors.Is(err, gelato.ErrInvalidProvider))
}
