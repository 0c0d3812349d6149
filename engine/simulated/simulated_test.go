package simulated_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/calldata"
	"github.com/m-mizutani/gelato/engine/simulated"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/shopspring/decimal"
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

	now      = time.Unix(1_700_000_000, 0)
	provider = gelato.Provider{Addr: userProxy, Module: module}
	oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type fixture struct {
	reg    *calldata.Registry
	engine *simulated.Engine
	clock  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := calldata.New()
	gt.NoError(t, err)

	clock := now
	engine := simulated.New(reg, simulated.WithClock(func() time.Time { return clock }))
	engine.RegisterCondition(condAddr, simulated.StaticCondition("OK"))
	engine.RegisterAction(actionRet, engine.ReturnBalanceAction())
	engine.RegisterAction(actionUni, engine.FixedRateTrade(decimal.NewFromInt(2)))
	engine.RegisterTerms(actionUni, engine.TradeTerms())

	_, err = engine.ProvideFunds(context.Background(), userProxy, oneEther)
	gt.NoError(t, err)
	engine.Mint(tokenA, userProxy, big.NewInt(1000))

	return &fixture{reg: reg, engine: engine, clock: &clock}
}

func (f *fixture) condition(t *testing.T) gelato.Condition {
	t.Helper()
	data, err := f.reg.Encode("ConditionFragmentsSupply", "checkRefSupply", userProxy, false)
	gt.NoError(t, err)
	cond, err := gelato.NewCondition(gelato.ConditionSpec{Inst: condAddr, Data: data})
	gt.NoError(t, err)
	return cond
}

func (f *fixture) returnBalance(t *testing.T, pct int) gelato.Action {
	t.Helper()
	data, err := f.reg.Encode("ActionReturnBalance", "action", tokenA, pct)
	gt.NoError(t, err)
	a, err := gelato.NewAction(gelato.ActionSpec{
		Addr:     actionRet,
		Data:     data,
		CallMode: gelato.CallModeContextPreserving,
		DataFlow: gelato.DataFlowOut,
	})
	gt.NoError(t, err)
	return a
}

func (f *fixture) trade(t *testing.T, amount int64, flow gelato.DataFlow) gelato.Action {
	t.Helper()
	data, err := f.reg.Encode("ActionUniswapV2Trade", "action", tokenA, amount, tokenB, userProxy, userProxy)
	gt.NoError(t, err)
	a, err := gelato.NewAction(gelato.ActionSpec{
		Addr:         actionUni,
		Data:         data,
		CallMode:     gelato.CallModeContextPreserving,
		DataFlow:     flow,
		TermsOkCheck: true,
	})
	gt.NoError(t, err)
	return a
}

func (f *fixture) task(t *testing.T, actions ...gelato.Action) gelato.Task {
	t.Helper()
	task, err := gelato.NewTask(gelato.TaskSpec{
		Conditions: []gelato.Condition{f.condition(t)},
		Actions:    actions,
	})
	gt.NoError(t, err)
	return task
}

func (f *fixture) submit(t *testing.T, tasks []gelato.Task, expiry, cycles uint64) *gelato.TaskReceipt {
	t.Helper()
	receipt, err := f.engine.SubmitTaskCycle(context.Background(), &gelato.CycleSubmission{
		UserProxy:  userProxy,
		Provider:   provider,
		Tasks:      tasks,
		ExpiryDate: expiry,
		Cycles:     cycles,
	})
	gt.NoError(t, err)
	return receipt
}

func TestExecDataFlow(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, f.returnBalance(t, 50), f.trade(t, 0, gelato.DataFlowIn))
	receipt := f.submit(t, []gelato.Task{task}, 0, 1)

	result, err := f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionSucceeded)
	gt.NoError(t, result.Err())
	gt.True(t, result.Terminal)
	gt.True(t, result.Next == nil)

	dispatched := f.engine.Dispatched()
	gt.A(t, dispatched).Length(2)
	slot, err := f.reg.InFlowSlot(dispatched[1].Data)
	gt.NoError(t, err)
	word, err := gelato.ReadWord(dispatched[1].Data, slot)
	gt.NoError(t, err)
	gt.Equal(t, word.Int64(), int64(500))

	gt.Equal(t, f.engine.BalanceOf(tokenA, userProxy).Int64(), int64(500))
	gt.Equal(t, f.engine.BalanceOf(tokenA, actionUni).Int64(), int64(500))
	gt.Equal(t, f.engine.BalanceOf(tokenB, userProxy).Int64(), int64(1000))
	gt.Equal(t, f.engine.Receipts(), 0)

	fee := new(big.Int).Mul(big.NewInt(simulated.DefaultExecGas), big.NewInt(simulated.DefaultGasPrice))
	gt.Equal(t, f.engine.ProviderFunds(userProxy).String(), new(big.Int).Sub(oneEther, fee).String())
}

func TestExecConditionNotMet(t *testing.T) {
	f := newFixture(t)
	f.engine.RegisterCondition(condAddr, simulated.StaticCondition("NotOkSupply"))
	receipt := f.submit(t, []gelato.Task{f.task(t, f.trade(t, 100, gelato.DataFlowNone))}, 0, 1)

	result, err := f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionConditionNotMet)
	gt.Equal(t, result.ConditionIndex, 0)
	gt.Equal(t, result.Reason, "ConditionNotOk:NotOkSupply")
	gt.False(t, result.Terminal)
	gt.True(t, errors.Is(result.Err(), gelato.ErrConditionNotMet))
	gt.True(t, goerr.HasTag(result.Err(), gelato.TagRuntime))

	gt.A(t, f.engine.Dispatched()).Length(0)
	gt.Equal(t, f.engine.BalanceOf(tokenA, userProxy).Int64(), int64(1000))
	_, ok := f.engine.Receipt(receipt.ID)
	gt.True(t, ok)
}

func TestExecActionRollback(t *testing.T) {
	f := newFixture(t)
	broken := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	f.engine.RegisterAction(broken, simulated.Revert("boom"))

	data, err := f.reg.Encode("ERC20", "transfer", tokenB, 1)
	gt.NoError(t, err)
	failing, err := gelato.NewAction(gelato.ActionSpec{Addr: broken, Data: data})
	gt.NoError(t, err)

	receipt := f.submit(t, []gelato.Task{f.task(t, f.trade(t, 100, gelato.DataFlowNone), failing)}, 0, 3)

	result, err := f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionActionFailed)
	gt.Equal(t, result.ActionIndex, 1)
	gt.True(t, result.Terminal)
	gt.True(t, errors.Is(result.Err(), gelato.ErrActionExecutionFailed))

	gt.A(t, f.engine.Dispatched()).Length(0)
	gt.Equal(t, f.engine.BalanceOf(tokenA, userProxy).Int64(), int64(1000))
	gt.Equal(t, f.engine.BalanceOf(tokenB, userProxy).Int64(), int64(0))
	gt.Equal(t, f.engine.ProviderFunds(userProxy).String(), oneEther.String())
	gt.Equal(t, f.engine.Receipts(), 0)
}

func TestExecTermsNotOk(t *testing.T) {
	f := newFixture(t)
	receipt := f.submit(t, []gelato.Task{f.task(t, f.trade(t, 5000, gelato.DataFlowNone))}, 0, 1)

	result, err := f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionActionFailed)
	gt.Equal(t, result.ActionIndex, 0)
	gt.Equal(t, result.Reason, "ActionTermsNotOk:NotOkSendTokenBalance")
	gt.False(t, result.Terminal)
	gt.Equal(t, f.engine.Receipts(), 1)

	f.engine.Mint(tokenA, userProxy, big.NewInt(4000))
	result, err = f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionSucceeded)
}

func TestExecOutFlowMissing(t *testing.T) {
	f := newFixture(t)
	plain := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	f.engine.RegisterAction(plain, func(ctx context.Context, call *simulated.ActionCall) ([]byte, error) {
		return []byte{1, 2, 3}, nil
	})

	data, err := f.reg.Encode("ActionReturnBalance", "action", tokenA, 10)
	gt.NoError(t, err)
	out, err := gelato.NewAction(gelato.ActionSpec{Addr: plain, Data: data, DataFlow: gelato.DataFlowOut})
	gt.NoError(t, err)

	receipt := f.submit(t, []gelato.Task{f.task(t, out, f.trade(t, 0, gelato.DataFlowIn))}, 0, 1)
	result, err := f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionActionFailed)
	gt.Equal(t, result.ActionIndex, 0)
	gt.Equal(t, result.Reason, gelato.ReasonOutFlowMissing)
}

func TestExecCycle(t *testing.T) {
	f := newFixture(t)
	first := f.task(t, f.trade(t, 100, gelato.DataFlowNone))
	second := f.task(t, f.returnBalance(t, 10), f.trade(t, 0, gelato.DataFlowIn))
	receipt := f.submit(t, []gelato.Task{first, second}, 0, 2)
	gt.Equal(t, receipt.SubmissionsLeft, uint64(4))

	var indexes []uint64
	id := receipt.ID
	for i := 0; i < 4; i++ {
		stored, ok := f.engine.Receipt(id)
		gt.True(t, ok)
		gt.Equal(t, stored.CycleID, receipt.CycleID)
		indexes = append(indexes, stored.Index)

		result, err := f.engine.Exec(context.Background(), id)
		gt.NoError(t, err)
		gt.Equal(t, result.Status, gelato.ExecutionSucceeded)

		if i < 3 {
			gt.False(t, result.Terminal)
			gt.NotNil(t, result.Next)
			gt.Equal(t, result.Next.SubmissionsLeft, uint64(3-i))
			id = result.Next.ID
		} else {
			gt.True(t, result.Terminal)
			gt.True(t, result.Next == nil)
		}
	}
	gt.Equal(t, indexes, []uint64{0, 1, 0, 1})
	gt.Equal(t, f.engine.Receipts(), 0)
}

func TestExecExpired(t *testing.T) {
	f := newFixture(t)
	receipt := f.submit(t, []gelato.Task{f.task(t, f.trade(t, 100, gelato.DataFlowNone))}, uint64(now.Unix())+60, 5)

	*f.clock = now.Add(time.Minute)
	result, err := f.engine.Exec(context.Background(), receipt.ID)
	gt.NoError(t, err)
	gt.Equal(t, result.Status, gelato.ExecutionExpired)
	gt.True(t, result.Terminal)
	gt.True(t, errors.Is(result.Err(), gelato.ErrReceiptExpired))

	_, err = f.engine.Exec(context.Background(), receipt.ID)
	gt.True(t, errors.Is(err, gelato.ErrReceiptNotFound))
}

func TestExecProviderPayment(t *testing.T) {
	t.Run("illiquid provider", func(t *testing.T) {
		f := newFixture(t)
		other := gelato.Provider{Addr: executor, Module: module}
		receipt, err := f.engine.SubmitTaskCycle(context.Background(), &gelato.CycleSubmission{
			UserProxy: userProxy,
			Provider:  other,
			Tasks:     []gelato.Task{f.task(t, f.trade(t, 100, gelato.DataFlowNone))},
			Cycles:    1,
		})
		gt.NoError(t, err)

		result, err := f.engine.Exec(context.Background(), receipt.ID)
		gt.NoError(t, err)
		gt.Equal(t, result.Status, gelato.ExecutionConditionNotMet)
		gt.Equal(t, result.ConditionIndex, -1)
		gt.Equal(t, result.Reason, gelato.ReasonProviderIlliquid)
	})

	t.Run("self provider gas price cap", func(t *testing.T) {
		f := newFixture(t)
		task, err := gelato.NewTask(gelato.TaskSpec{
			Actions:              []gelato.Action{f.trade(t, 100, gelato.DataFlowNone)},
			SelfProviderGasPrice: big.NewInt(1),
		})
		gt.NoError(t, err)
		receipt := f.submit(t, []gelato.Task{task}, 0, 1)

		result, err := f.engine.Exec(context.Background(), receipt.ID)
		gt.NoError(t, err)
		gt.Equal(t, result.Status, gelato.ExecutionConditionNotMet)
		gt.Equal(t, result.Reason, gelato.ReasonExecutionGasPriceTooHigh)

		f.engine.SetGasPrice(big.NewInt(1))
		result, err = f.engine.Exec(context.Background(), receipt.ID)
		gt.NoError(t, err)
		gt.Equal(t, result.Status, gelato.ExecutionSucceeded)
	})
}

func TestExecNestedSubmission(t *testing.T) {
	f := newFixture(t)
	inner := f.task(t, f.trade(t, 100, gelato.DataFlowNone))

	t.Run("submit task in future", func(t *testing.T) {
		nested, err := gelato.NewSubmitTaskInFutureAction(f.reg, future, provider, inner, 3600)
		gt.NoError(t, err)
		receipt := f.submit(t, []gelato.Task{f.task(t, nested)}, 0, 1)

		result, err := f.engine.Exec(context.Background(), receipt.ID)
		gt.NoError(t, err)
		gt.Equal(t, result.Status, gelato.ExecutionSucceeded)
		gt.Equal(t, f.engine.Receipts(), 1)

		next, ok := f.engine.Receipt(receipt.ID + 1)
		gt.True(t, ok)
		gt.True(t, next.Task().Equal(inner))
		gt.Equal(t, next.ExpiryDate, uint64(now.Unix())+3600)
		gt.Equal(t, next.SubmissionsLeft, uint64(1))
		gt.NotEqual(t, next.CycleID, receipt.CycleID)
	})

	t.Run("submit task cycle to core", func(t *testing.T) {
		cycle, err := gelato.NewTaskCycle([]gelato.Task{inner}, 0, 3)
		gt.NoError(t, err)
		nested, err := gelato.NewSubmitTaskCycleAction(f.reg, f.engine.Core(), provider, cycle)
		gt.NoError(t, err)

		before := f.engine.Receipts()
		receipt := f.submit(t, []gelato.Task{f.task(t, nested)}, 0, 1)
		result, err := f.engine.Exec(context.Background(), receipt.ID)
		gt.NoError(t, err)
		gt.Equal(t, result.Status, gelato.ExecutionSucceeded)
		gt.Equal(t, f.engine.Receipts(), before+1)
	})
}

func TestSubmitFailures(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, f.trade(t, 100, gelato.DataFlowNone))
	key := common.HexToHash("0x01")
	sub := &gelato.CycleSubmission{UserProxy: userProxy, Provider: provider, Tasks: []gelato.Task{task}, Cycles: 1, Key: key}

	f.engine.FailNextSubmissions(simulated.FailureRejected, simulated.FailureLost)

	_, err := f.engine.SubmitTaskCycle(context.Background(), sub)
	gt.True(t, goerr.HasTag(err, gelato.TagTransient))
	gt.True(t, goerr.HasTag(err, gelato.TagNoSideEffect))
	gt.Equal(t, f.engine.Receipts(), 0)

	_, err = f.engine.SubmitTaskCycle(context.Background(), sub)
	gt.True(t, goerr.HasTag(err, gelato.TagTransient))
	gt.False(t, goerr.HasTag(err, gelato.TagNoSideEffect))
	gt.Equal(t, f.engine.Receipts(), 1)

	found, ok, err := f.engine.FindSubmission(context.Background(), key)
	gt.NoError(t, err)
	gt.True(t, ok)
	gt.True(t, found.Task().Equal(task))
	gt.Equal(t, f.engine.SubmitCalls(), 2)

	t.Run("expired cycle", func(t *testing.T) {
		expired := *sub
		expired.Key = common.Hash{}
		expired.ExpiryDate = uint64(now.Unix())
		_, err := f.engine.SubmitTaskCycle(context.Background(), &expired)
		gt.True(t, errors.Is(err, gelato.ErrReceiptExpired))
	})
}

func TestExecTrace(t *testing.T) {
	f := newFixture(t)
	receipt := f.submit(t, []gelato.Task{f.task(t, f.trade(t, 100, gelato.DataFlowNone))}, 0, 1)

	rec := trace.New()
	ctx := trace.WithHandler(context.Background(), rec)
	_, err := f.engine.Exec(ctx, receipt.ID)
	gt.NoError(t, err)

	tr := rec.Trace()
	gt.NotNil(t, tr)
	gt.NotNil(t, tr.RootSpan)
	gt.Equal(t, tr.RootSpan.Kind, trace.SpanKindExecution)
	gt.Equal(t, tr.RootSpan.Execution.Status, "succeeded")
}

func TestProxyAndToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	predicted, err := f.engine.PredictProxyAddress(ctx, owner, big.NewInt(1))
	gt.NoError(t, err)
	other, err := f.engine.PredictProxyAddress(ctx, owner, big.NewInt(2))
	gt.NoError(t, err)
	gt.NotEqual(t, predicted, other)

	ok, err := f.engine.IsGelatoUserProxy(ctx, predicted)
	gt.NoError(t, err)
	gt.False(t, ok)

	gt.Equal(t, f.engine.CreateProxy(owner, big.NewInt(1)), predicted)
	ok, err = f.engine.IsGelatoUserProxy(ctx, predicted)
	gt.NoError(t, err)
	gt.True(t, ok)

	token := f.engine.Token(tokenA, userProxy)
	_, err = token.Transfer(ctx, owner, big.NewInt(250))
	gt.NoError(t, err)
	bal, err := token.BalanceOf(ctx, owner)
	gt.NoError(t, err)
	gt.Equal(t, bal.Int64(), int64(250))

	_, err = token.Transfer(ctx, owner, big.NewInt(10_000))
	gt.Error(t, err)
}
