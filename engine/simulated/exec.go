package simulated

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
)

const okResult = "OK"

type dispatchFailure struct {
	ActionIndex int
	Reason      string
	Err         error
}

// Exec runs one execution attempt of receipt id. Handlers are called with the
// engine locked and must not call back into the Engine.
func (e *Engine) Exec(ctx context.Context, id uint64) (*gelato.ExecutionResult, error) {
	if h := trace.HandlerFrom(ctx); h != nil {
		ctx = h.StartExecution(ctx, id)
	}

	result, err := e.exec(ctx, id)

	if h := trace.HandlerFrom(ctx); h != nil {
		var data *trace.ExecutionData
		if result != nil {
			data = &trace.ExecutionData{
				ReceiptID:      result.ReceiptID,
				Status:         result.Status.String(),
				ConditionIndex: result.ConditionIndex,
				ActionIndex:    result.ActionIndex,
				Reason:         result.Reason,
				Terminal:       result.Terminal,
			}
			if result.Next != nil {
				data.NextReceiptID = result.Next.ID
			}
		}
		h.EndExecution(ctx, data, err)
	}
	return result, err
}

func (e *Engine) exec(ctx context.Context, id uint64) (*gelato.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "execution canceled", goerr.Tag(gelato.TagTransient))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	logger := gelato.LoggerFromContext(ctx).With("receipt_id", id)

	receipt, ok := e.receipts[id]
	if !ok {
		return nil, goerr.Wrap(gelato.ErrReceiptNotFound, "no executable receipt", goerr.V("receipt_id", id))
	}

	result := &gelato.ExecutionResult{ReceiptID: id, ConditionIndex: -1, ActionIndex: -1}
	now := e.now()

	if receipt.Expired(now) {
		delete(e.receipts, id)
		result.Status = gelato.ExecutionExpired
		result.Terminal = true
		logger.Debug("receipt expired", "expiry_date", receipt.ExpiryDate)
		return result, nil
	}

	task := receipt.Task()
	gas := new(big.Int).Set(e.execGas)
	if receipt.Provider.IsSelfProvider(receipt.UserProxy) {
		if limit := task.SelfProviderGasLimit(); limit.Sign() > 0 && limit.Cmp(gas) < 0 {
			gas = limit
		}
		if priceCap := task.SelfProviderGasPrice(); priceCap.Sign() > 0 && priceCap.Cmp(e.gasPrice) < 0 {
			result.Status = gelato.ExecutionConditionNotMet
			result.Reason = gelato.ReasonExecutionGasPriceTooHigh
			return result, nil
		}
	}

	fee := new(big.Int).Mul(gas, e.gasPrice)
	provider := e.provider(receipt.Provider.Addr)
	if provider.funds.Cmp(fee) < 0 {
		result.Status = gelato.ExecutionConditionNotMet
		result.Reason = gelato.ReasonProviderIlliquid
		return result, nil
	}

	tx := newTx(e.balances)
	for i, c := range task.Conditions() {
		reason, err := e.checkCondition(ctx, tx, receipt, c)
		if err != nil {
			reason = err.Error()
		}
		if reason != okResult {
			result.Status = gelato.ExecutionConditionNotMet
			result.ConditionIndex = i
			result.Reason = gelato.ReasonConditionNotOk + ":" + reason
			logger.Debug("condition not met", "condition_index", i, "reason", reason)
			return result, nil
		}
	}

	actions := task.Actions()
	for i, a := range actions {
		if !a.TermsOkCheck() {
			continue
		}
		reason := e.checkTerms(ctx, tx, receipt, a)
		if reason != okResult {
			result.Status = gelato.ExecutionActionFailed
			result.ActionIndex = i
			result.Reason = gelato.ReasonActionTermsNotOk + ":" + reason
			logger.Debug("action terms not ok", "action_index", i, "reason", reason)
			return result, nil
		}
	}

	if fail := e.dispatch(ctx, tx, receipt, actions); fail != nil {
		delete(e.receipts, id)
		result.Status = gelato.ExecutionActionFailed
		result.ActionIndex = fail.ActionIndex
		result.Reason = fail.Reason
		result.Terminal = true
		logger.Debug("action failed", "action_index", fail.ActionIndex, "reason", fail.Reason, "error", fail.Err)
		return result, nil
	}

	delete(e.receipts, id)
	provider.funds.Sub(provider.funds, fee)
	created := e.commit(ctx, tx)

	if next, ok := receipt.Next(now); ok {
		e.lastID++
		next.ID = e.lastID
		e.receipts[next.ID] = next
		result.Next = next.Clone()
		logger.Debug("cycle advanced", "next_receipt_id", next.ID, "submissions_left", next.SubmissionsLeft)
	} else {
		result.Terminal = true
	}

	result.Status = gelato.ExecutionSucceeded
	logger.Info("receipt executed", "fee", fee.String(), "nested_submissions", len(created))
	return result, nil
}

func (e *Engine) checkCondition(ctx context.Context, tx *Tx, receipt *gelato.TaskReceipt, c gelato.Condition) (string, error) {
	fn, ok := e.conditions[c.Inst()]
	if !ok {
		return "", goerr.New("no condition at address", goerr.V("inst", c.Inst().Hex()))
	}
	return fn(ctx, &ConditionCall{
		ReceiptID: receipt.ID,
		CycleID:   receipt.CycleID,
		UserProxy: receipt.UserProxy,
		Inst:      c.Inst(),
		Data:      c.Data(),
		State:     tx,
	})
}

func (e *Engine) checkTerms(ctx context.Context, tx *Tx, receipt *gelato.TaskReceipt, a gelato.Action) string {
	if e.isSubmitInFuture(a.Data()) {
		return okResult
	}
	fn, ok := e.terms[a.Addr()]
	if !ok {
		return "NoTermsCheck"
	}
	reason, err := fn(ctx, e.actionCall(tx, receipt, a, a.Data()))
	if err != nil {
		return err.Error()
	}
	return reason
}

func (e *Engine) actionCall(tx *Tx, receipt *gelato.TaskReceipt, a gelato.Action, data []byte) *ActionCall {
	return &ActionCall{
		ReceiptID: receipt.ID,
		UserProxy: receipt.UserProxy,
		Addr:      a.Addr(),
		Data:      data,
		CallMode:  a.CallMode(),
		Value:     a.Value(),
		State:     tx,
	}
}

// dispatch runs actions in order inside tx, splicing the value produced by
// an Out action into the in-flow slot of the following In action.
func (e *Engine) dispatch(ctx context.Context, tx *Tx, receipt *gelato.TaskReceipt, actions []gelato.Action) *dispatchFailure {
	var inFlow *big.Int
	for i, a := range actions {
		data := a.Data()

		if a.DataFlow().Consumes() {
			if inFlow == nil {
				return &dispatchFailure{ActionIndex: i, Reason: gelato.ReasonOutFlowMissing}
			}
			slot, err := e.registry.InFlowSlot(data)
			if err != nil {
				return &dispatchFailure{ActionIndex: i, Reason: gelato.ReasonInvalidPlaceholder, Err: err}
			}
			if data, err = gelato.SpliceWord(data, slot, inFlow); err != nil {
				return &dispatchFailure{ActionIndex: i, Reason: gelato.ReasonInvalidPlaceholder, Err: err}
			}
		}

		ret, err := e.call(ctx, tx, receipt, e.actionCall(tx, receipt, a, data))
		if err != nil {
			return &dispatchFailure{ActionIndex: i, Reason: gelato.ReasonActionReverted + ":" + err.Error(), Err: err}
		}
		tx.dispatched = append(tx.dispatched, Dispatch{
			ReceiptID:   receipt.ID,
			ActionIndex: i,
			Addr:        a.Addr(),
			Data:        data,
			CallMode:    a.CallMode(),
		})

		inFlow = nil
		if a.DataFlow().Produces() {
			if inFlow, err = gelato.DecodeOutFlow(ret); err != nil {
				return &dispatchFailure{ActionIndex: i, Reason: gelato.ReasonOutFlowMissing, Err: err}
			}
		}
	}
	return nil
}

func (e *Engine) hasSelector(data []byte, iface, fn string) bool {
	m, err := e.registry.Method(iface, fn)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(data, m.ID)
}

func (e *Engine) isSubmitInFuture(data []byte) bool {
	return e.hasSelector(data, gelato.IfaceSubmitTaskInFuture, gelato.FnAction)
}

// call executes one action. Submissions to the core and submit-in-future
// actions are handled by the engine itself.
func (e *Engine) call(ctx context.Context, tx *Tx, receipt *gelato.TaskReceipt, call *ActionCall) ([]byte, error) {
	switch {
	case call.Addr == e.core && e.hasSelector(call.Data, gelato.IfaceGelatoCore, gelato.FnSubmitTaskCycle):
		sub, err := e.registry.DecodeSubmitTaskCycle(call.Data)
		if err != nil {
			return nil, err
		}
		cycle, err := gelato.NewTaskCycle(sub.Tasks, sub.ExpiryDate, sub.Cycles)
		if err != nil {
			return nil, err
		}
		tx.submit(receipt.UserProxy, sub.Provider, cycle)
		return nil, nil

	case call.CallMode == gelato.CallModeContextPreserving && e.isSubmitInFuture(call.Data):
		sub, err := e.registry.DecodeSubmitTaskInFuture(call.Data)
		if err != nil {
			return nil, err
		}
		expiry := uint64(0)
		if sub.Lifetime > 0 {
			expiry = uint64(e.now().Unix()) + sub.Lifetime
		}
		cycle, err := gelato.NewTaskCycle([]gelato.Task{sub.Task}, expiry, 1)
		if err != nil {
			return nil, err
		}
		tx.submit(receipt.UserProxy, sub.Provider, cycle)
		return nil, nil
	}

	fn, ok := e.actions[call.Addr]
	if !ok {
		return nil, goerr.New("no contract at address", goerr.V("addr", call.Addr.Hex()))
	}
	return fn(ctx, call)
}

// Dispatched returns every action dispatched by committed executions.
func (e *Engine) Dispatched() []Dispatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Dispatch(nil), e.dispatched...)
}

// BalanceOf returns the committed token balance of owner.
func (e *Engine) BalanceOf(token, owner common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return newTx(e.balances).BalanceOf(token, owner)
}

// Mint credits amount of token to owner.
func (e *Engine) Mint(token, owner common.Address, amount *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := newTx(e.balances)
	tx.Mint(token, owner, amount)
	tx.apply(e.balances)
}
