package simulated

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
)

// StaticCondition always answers reason. Use "OK" for a passing condition.
func StaticCondition(reason string) ConditionFunc {
	return func(ctx context.Context, call *ConditionCall) (string, error) {
		return reason, nil
	}
}

// ReturnWord is an action that returns v as its single output word.
func ReturnWord(v *big.Int) ActionFunc {
	return func(ctx context.Context, call *ActionCall) ([]byte, error) {
		return common.BigToHash(v).Bytes(), nil
	}
}

// Revert is an action that always fails with msg.
func Revert(msg string) ActionFunc {
	return func(ctx context.Context, call *ActionCall) ([]byte, error) {
		return nil, goerr.New(msg, goerr.V("addr", call.Addr.Hex()))
	}
}

// BalanceCondition passes while the user proxy holds at least minimum of token.
func BalanceCondition(token common.Address, minimum *big.Int) ConditionFunc {
	return func(ctx context.Context, call *ConditionCall) (string, error) {
		if call.State.BalanceOf(token, call.UserProxy).Cmp(minimum) < 0 {
			return "NotOkBalanceBelowMinimum", nil
		}
		return okResult, nil
	}
}

func (e *Engine) namedArgs(data []byte) (map[string]any, error) {
	call, err := e.registry.Decode(data)
	if err != nil {
		return nil, err
	}
	args := make(map[string]any, len(call.Names))
	for i, name := range call.Names {
		args[strings.TrimPrefix(name, "_")] = call.Args[i]
	}
	return args, nil
}

func argAddress(args map[string]any, names ...string) (common.Address, error) {
	for _, name := range names {
		if v, ok := args[name].(common.Address); ok {
			return v, nil
		}
	}
	return common.Address{}, goerr.New("missing address argument", goerr.V("names", names))
}

func argBig(args map[string]any, names ...string) (*big.Int, error) {
	for _, name := range names {
		if v, ok := args[name].(*big.Int); ok {
			return v, nil
		}
	}
	return nil, goerr.New("missing integer argument", goerr.V("names", names))
}

// ReturnBalanceAction implements ActionReturnBalance.action(token, percentage):
// it returns the given percentage of the user proxy's token balance.
func (e *Engine) ReturnBalanceAction() ActionFunc {
	return func(ctx context.Context, call *ActionCall) ([]byte, error) {
		args, err := e.namedArgs(call.Data)
		if err != nil {
			return nil, err
		}
		token, err := argAddress(args, "token")
		if err != nil {
			return nil, err
		}
		pct, err := argBig(args, "percentage")
		if err != nil {
			return nil, err
		}
		if pct.Cmp(big.NewInt(100)) > 0 {
			return nil, goerr.New("percentage exceeds 100", goerr.V("percentage", pct.String()))
		}

		amount := call.State.BalanceOf(token, call.UserProxy)
		amount.Mul(amount, pct).Div(amount, big.NewInt(100))
		return common.BigToHash(amount).Bytes(), nil
	}
}

type tradeArgs struct {
	sendToken    common.Address
	sendAmount   *big.Int
	receiveToken common.Address
	receiver     common.Address
}

func (e *Engine) tradeArgs(data []byte) (*tradeArgs, error) {
	args, err := e.namedArgs(data)
	if err != nil {
		return nil, err
	}
	var x tradeArgs
	if x.sendToken, err = argAddress(args, "sendToken"); err != nil {
		return nil, err
	}
	if x.sendAmount, err = argBig(args, "sendAmount", "sendAmt"); err != nil {
		return nil, err
	}
	if x.receiveToken, err = argAddress(args, "receiveToken"); err != nil {
		return nil, err
	}
	if x.receiver, err = argAddress(args, "receiver"); err != nil {
		return nil, err
	}
	return &x, nil
}

// FixedRateTrade implements the action of a trade contract (Uniswap or Kyber
// style) at a fixed rate. The send amount moves from the user proxy to the
// action address and rate times that amount of the receive token is credited
// to the receiver. It returns the received amount.
func (e *Engine) FixedRateTrade(rate decimal.Decimal) ActionFunc {
	return func(ctx context.Context, call *ActionCall) ([]byte, error) {
		x, err := e.tradeArgs(call.Data)
		if err != nil {
			return nil, err
		}
		if x.sendAmount.Sign() == 0 {
			return nil, goerr.New("send amount is zero")
		}
		if err := call.State.Transfer(x.sendToken, call.UserProxy, call.Addr, x.sendAmount); err != nil {
			return nil, err
		}

		received := decimal.NewFromBigInt(x.sendAmount, 0).Mul(rate).BigInt()
		call.State.Mint(x.receiveToken, x.receiver, received)

		gelato.LoggerFromContext(ctx).Debug("trade executed",
			"send_token", x.sendToken.Hex(),
			"send_amount", x.sendAmount.String(),
			"receive_token", x.receiveToken.Hex(),
			"received", received.String(),
		)
		return common.BigToHash(received).Bytes(), nil
	}
}

// TradeTerms answers termsOk of a trade action: the user proxy must hold the
// send amount. A zero amount is an in-flow placeholder and always passes.
func (e *Engine) TradeTerms() TermsFunc {
	return func(ctx context.Context, call *ActionCall) (string, error) {
		x, err := e.tradeArgs(call.Data)
		if err != nil {
			return "", err
		}
		if x.sendAmount.Sign() == 0 {
			return okResult, nil
		}
		if call.State.BalanceOf(x.sendToken, call.UserProxy).Cmp(x.sendAmount) < 0 {
			return "NotOkSendTokenBalance", nil
		}
		return okResult, nil
	}
}

type token struct {
	engine *Engine
	addr   common.Address
	signer common.Address
}

// Token returns the ERC-20 view of token for signer.
func (e *Engine) Token(addr, signer common.Address) gelato.Token {
	return &token{engine: e, addr: addr, signer: signer}
}

func (x *token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "balance lookup canceled")
	}
	return x.engine.BalanceOf(x.addr, owner), nil
}

func (x *token) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, goerr.Wrap(err, "transfer canceled")
	}

	x.engine.mu.Lock()
	defer x.engine.mu.Unlock()

	tx := newTx(x.engine.balances)
	if err := tx.Transfer(x.addr, x.signer, to, amount); err != nil {
		return common.Hash{}, goerr.Wrap(err, "transfer failed")
	}
	tx.apply(x.engine.balances)
	return x.engine.txHash(x.addr.Bytes(), to.Bytes(), amount.Bytes()), nil
}
