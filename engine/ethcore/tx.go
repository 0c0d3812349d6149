package ethcore

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

// transact signs data for addr, broadcasts it and waits until it is mined.
// Only errors raised while building and signing the transaction carry
// TagNoSideEffect. A failed broadcast may still have reached the network.
func (x *Engine) transact(ctx context.Context, addr common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	if x.signer == nil {
		return nil, goerr.New("engine has no signer", goerr.Tag(gelato.TagNoSideEffect))
	}

	opts := *x.signer
	opts.Context = ctx
	opts.Value = value
	opts.NoSend = true

	contract := bind.NewBoundContract(addr, abi.ABI{}, x.backend, x.backend, x.backend)
	tx, err := contract.RawTransact(&opts, data)
	if err != nil {
		return nil, rpcError(err, "failed to build transaction",
			goerr.V("to", addr.Hex()), goerr.Tag(gelato.TagNoSideEffect))
	}

	if err := x.backend.SendTransaction(ctx, tx); err != nil {
		return nil, rpcError(err, "failed to send transaction",
			goerr.V("tx", tx.Hash().Hex()), goerr.V("to", addr.Hex()))
	}

	logger := gelato.LoggerFromContext(ctx).With("tx", tx.Hash().Hex())
	logger.Debug("transaction sent",
		"from", opts.From.Hex(),
		"to", addr.Hex(),
		"nonce", tx.Nonce(),
		"gas", tx.Gas(),
		"value", tx.Value().String(),
	)

	receipt, err := bind.WaitMined(ctx, x.backend, tx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for transaction",
			goerr.V("tx", tx.Hash().Hex()), goerr.Tag(gelato.TagTransient))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, goerr.New("transaction reverted",
			goerr.V("tx", tx.Hash().Hex()),
			goerr.V("block", receipt.BlockNumber),
			goerr.Tag(gelato.TagRuntime),
		)
	}

	logger.Debug("transaction mined", "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
	return receipt, nil
}

// SubmitTaskCycle sends the submission through the user proxy: the
// pre-actions and the call to the core run in one transaction. The receipt is
// read from the LogTaskSubmitted event of the core.
func (x *Engine) SubmitTaskCycle(ctx context.Context, sub *gelato.CycleSubmission) (*gelato.TaskReceipt, error) {
	proxy := sub.UserProxy
	if proxy == (common.Address{}) {
		proxy = x.userProxy
	}
	if proxy == (common.Address{}) {
		return nil, goerr.Wrap(gelato.ErrSubmission, "user proxy is required", goerr.Tag(gelato.TagNoSideEffect))
	}

	submit, err := gelato.NewAction(gelato.ActionSpec{
		Addr:     x.contracts.Core,
		Data:     sub.Payload,
		CallMode: gelato.CallModeDirect,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "invalid submission payload", goerr.Tag(gelato.TagNoSideEffect))
	}

	actions := append(append([]gelato.Action(nil), sub.PreActions...), submit)
	data, err := gelato.EncodeProxyActions(x.registry, actions)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode proxy call", goerr.Tag(gelato.TagNoSideEffect))
	}

	receipt, err := x.transact(ctx, proxy, data, nil)
	if err != nil {
		return nil, err
	}

	created, err := x.submittedReceipts(receipt)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, goerr.Wrap(gelato.ErrSubmission, "no task receipt in transaction logs",
			goerr.V("tx", receipt.TxHash.Hex()), goerr.Tag(gelato.TagRuntime))
	}
	return created[len(created)-1], nil
}

// submittedReceipts parses every LogTaskSubmitted event of the core in receipt.
func (x *Engine) submittedReceipts(receipt *types.Receipt) ([]*gelato.TaskReceipt, error) {
	eventID, err := x.registry.EventID(gelato.IfaceGelatoCore, eventTaskCreated)
	if err != nil {
		return nil, err
	}

	var out []*gelato.TaskReceipt
	for _, log := range receipt.Logs {
		if log.Address != x.contracts.Core || len(log.Topics) == 0 || log.Topics[0] != eventID {
			continue
		}
		args, err := x.registry.DecodeEventData(gelato.IfaceGelatoCore, eventTaskCreated, log.Data)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode task receipt event", goerr.V("tx", receipt.TxHash.Hex()))
		}
		arr, ok := args[0].([]any)
		if !ok {
			return nil, goerr.New("unexpected task receipt event layout", goerr.V("tx", receipt.TxHash.Hex()))
		}
		r, err := gelato.ReceiptFromArray(arr)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid task receipt event", goerr.V("tx", receipt.TxHash.Hex()))
		}
		out = append(out, r)
	}
	return out, nil
}

// ProvideFunds deposits amount of native currency for provider in the core.
func (x *Engine) ProvideFunds(ctx context.Context, provider common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, goerr.New("amount must be positive", goerr.V("amount", amount))
	}
	data, err := x.registry.Encode(gelato.IfaceGelatoProviders, "provideFunds", provider)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := x.transact(ctx, x.contracts.Core, data, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ProviderFunds returns the balance provider has deposited in the core.
func (x *Engine) ProviderFunds(ctx context.Context, provider common.Address) (*big.Int, error) {
	out, err := x.call(ctx, x.contracts.Core, gelato.IfaceGelatoProviders, "providerFunds", provider)
	if err != nil {
		return nil, err
	}
	return outBig(out)
}

// Token is an ERC-20 token reached through the engine's backend.
type Token struct {
	engine *Engine
	addr   common.Address
}

var _ gelato.Token = (*Token)(nil)

func (x *Engine) Token(addr common.Address) *Token {
	return &Token{engine: x, addr: addr}
}

func (x *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := x.engine.call(ctx, x.addr, "ERC20", "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return outBig(out)
}

// Decimals returns the token's decimals.
func (x *Token) Decimals(ctx context.Context) (uint8, error) {
	out, err := x.engine.call(ctx, x.addr, "ERC20", "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, goerr.New("unexpected result type", goerr.V("result", out[0]))
	}
	return v, nil
}

func (x *Token) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := x.engine.registry.Encode("ERC20", "transfer", to, amount)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := x.engine.transact(ctx, x.addr, data, nil)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}
