package gelato

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CycleSubmission is everything an engine needs to register a Task Cycle.
type CycleSubmission struct {
	UserProxy  common.Address
	Provider   Provider
	Tasks      []Task
	ExpiryDate uint64
	// Cycles is the repetition budget of the cycle (maxRepetitions).
	Cycles uint64

	// PreActions run in the same transaction, before the submit.
	PreActions []Action

	// Payload is the encoded IGelatoCore.submitTaskCycle call.
	Payload []byte

	// Key identifies the submission for idempotent retries.
	Key common.Hash
}

// ExecutionEngine is the external system that stores receipts, evaluates
// conditions, dispatches actions and resubmits cycles.
type ExecutionEngine interface {
	SubmitTaskCycle(ctx context.Context, sub *CycleSubmission) (*TaskReceipt, error)
	IsProviderLiquid(ctx context.Context, provider common.Address, gas, gasPrice *big.Int) (bool, error)
	ExecutorByProvider(ctx context.Context, provider common.Address) (common.Address, error)
	IsModuleProvided(ctx context.Context, provider, module common.Address) (bool, error)
	// GasPrice returns the gas price the engine charges providers for execution.
	GasPrice(ctx context.Context) (*big.Int, error)
}

// SubmissionFinder is implemented by engines that can tell whether a
// submission with the given key was already recorded.
type SubmissionFinder interface {
	FindSubmission(ctx context.Context, key common.Hash) (*TaskReceipt, bool, error)
}

// ProxyFactory predicts and recognizes user proxies.
type ProxyFactory interface {
	PredictProxyAddress(ctx context.Context, owner common.Address, salt *big.Int) (common.Address, error)
	IsGelatoUserProxy(ctx context.Context, addr common.Address) (bool, error)
}

// Funder deposits execution funds for a provider.
type Funder interface {
	ProvideFunds(ctx context.Context, provider common.Address, amount *big.Int) (common.Hash, error)
}

// Token is the balance/transfer interface of an ERC-20 token.
type Token interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
}

// Executor runs one execution attempt of a stored receipt.
type Executor interface {
	Exec(ctx context.Context, receiptID uint64) (*ExecutionResult, error)
}
