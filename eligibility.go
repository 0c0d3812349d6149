package gelato

import (
	"context"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultExpectedExecutions is the number of executions a provider must be able to pay for.
	DefaultExpectedExecutions = 3
	// DefaultGasPerExecution is the gas budgeted for one execution when checking liquidity.
	DefaultGasPerExecution = 500_000
)

// Reasons reported by the eligibility gate.
const (
	ReasonProviderNotLiquid  = "provider is not liquid"
	ReasonNoExecutor         = "provider has no executor assigned"
	ReasonUnexpectedExecutor = "provider is assigned to an unexpected executor"
	ReasonModuleNotProvided  = "provider module is not registered"
)

// EligibilityRequest describes what a provider must satisfy before a Task can
// be submitted under it.
type EligibilityRequest struct {
	Provider Provider

	// ExpectedExecutions and GasPerExecution size the required balance. Zero
	// values fall back to the defaults.
	ExpectedExecutions uint64
	GasPerExecution    *big.Int

	// GasPrice overrides the engine's current execution gas price.
	GasPrice *big.Int

	// ExpectedExecutor, when set, must be the executor assigned to the provider.
	ExpectedExecutor common.Address

	// CallTimeout bounds each engine round trip. Zero means no extra bound.
	CallTimeout time.Duration
}

// Eligibility is the answer of the eligibility gate.
type Eligibility struct {
	Provider       Provider
	Gas            *big.Int
	GasPrice       *big.Int
	Liquid         bool
	Executor       common.Address
	ModuleProvided bool

	// Reasons lists every unmet precondition. Empty when eligible.
	Reasons []string
}

func (x *Eligibility) Eligible() bool {
	return len(x.Reasons) == 0
}

// Err returns ErrProviderNotEligible with all reasons when the provider is not eligible.
func (x *Eligibility) Err() error {
	if x.Eligible() {
		return nil
	}
	return goerr.Wrap(ErrProviderNotEligible, strings.Join(x.Reasons, ", "),
		goerr.V("provider", x.Provider.Addr.Hex()),
		goerr.V("module", x.Provider.Module.Hex()),
		goerr.V("reasons", x.Reasons),
		goerr.Tag(TagEligibility),
	)
}

func (x *Eligibility) traceData() *trace.EligibilityData {
	data := &trace.EligibilityData{
		Provider:       x.Provider.Addr.Hex(),
		Liquid:         x.Liquid,
		ModuleProvided: x.ModuleProvided,
		Reasons:        x.Reasons,
	}
	if x.Gas != nil {
		data.Gas = x.Gas.String()
	}
	if x.GasPrice != nil {
		data.GasPrice = x.GasPrice.String()
	}
	if x.Executor != (common.Address{}) {
		data.Executor = x.Executor.Hex()
	}
	return data
}

// CheckEligibility asks engine whether req.Provider is liquid for the expected
// executions, has an executor assigned and has registered its module. The gas
// price is resolved first; the three checks then run concurrently.
//
// An error is returned only when the engine could not answer. An ineligible
// provider is reported through the returned Eligibility.
func CheckEligibility(ctx context.Context, engine ExecutionEngine, req EligibilityRequest) (result *Eligibility, err error) {
	if err := req.Provider.Validate(); err != nil {
		return nil, err
	}

	if h := trace.HandlerFrom(ctx); h != nil {
		ctx = h.StartEligibility(ctx, req.Provider.Addr.Hex())
		defer func() {
			var data *trace.EligibilityData
			if result != nil {
				data = result.traceData()
			}
			h.EndEligibility(ctx, data, err)
		}()
	}

	executions := req.ExpectedExecutions
	if executions == 0 {
		executions = DefaultExpectedExecutions
	}
	perExecution := req.GasPerExecution
	if perExecution == nil || perExecution.Sign() <= 0 {
		perExecution = big.NewInt(DefaultGasPerExecution)
	}

	result = &Eligibility{
		Provider: req.Provider,
		Gas:      new(big.Int).Mul(perExecution, new(big.Int).SetUint64(executions)),
	}

	if req.GasPrice != nil && req.GasPrice.Sign() > 0 {
		result.GasPrice = new(big.Int).Set(req.GasPrice)
	} else {
		price, err := engineCall(ctx, req.CallTimeout, "gasPrice", nil,
			func(ctx context.Context) (*big.Int, error) { return engine.GasPrice(ctx) })
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get execution gas price")
		}
		result.GasPrice = price
	}

	var mu sync.Mutex
	addReason := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		result.Reasons = append(result.Reasons, reason)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		liquid, err := engineCall(egCtx, req.CallTimeout, "isProviderLiquid",
			map[string]any{"provider": req.Provider.Addr.Hex(), "gas": result.Gas.String(), "gas_price": result.GasPrice.String()},
			func(ctx context.Context) (bool, error) {
				return engine.IsProviderLiquid(ctx, req.Provider.Addr, result.Gas, result.GasPrice)
			})
		if err != nil {
			return goerr.Wrap(err, "failed to check provider liquidity")
		}
		result.Liquid = liquid
		if !liquid {
			addReason(ReasonProviderNotLiquid)
		}
		return nil
	})
	eg.Go(func() error {
		executor, err := engineCall(egCtx, req.CallTimeout, "executorByProvider",
			map[string]any{"provider": req.Provider.Addr.Hex()},
			func(ctx context.Context) (common.Address, error) {
				return engine.ExecutorByProvider(ctx, req.Provider.Addr)
			})
		if err != nil {
			return goerr.Wrap(err, "failed to get provider executor")
		}
		result.Executor = executor
		switch {
		case executor == (common.Address{}):
			addReason(ReasonNoExecutor)
		case req.ExpectedExecutor != (common.Address{}) && executor != req.ExpectedExecutor:
			addReason(ReasonUnexpectedExecutor)
		}
		return nil
	})
	eg.Go(func() error {
		provided, err := engineCall(egCtx, req.CallTimeout, "isModuleProvided",
			map[string]any{"provider": req.Provider.Addr.Hex(), "module": req.Provider.Module.Hex()},
			func(ctx context.Context) (bool, error) {
				return engine.IsModuleProvided(ctx, req.Provider.Addr, req.Provider.Module)
			})
		if err != nil {
			return goerr.Wrap(err, "failed to check provider module")
		}
		result.ModuleProvided = provided
		if !provided {
			addReason(ReasonModuleNotProvided)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Reasons are appended concurrently.
	slices.SortFunc(result.Reasons, func(a, b string) int {
		return reasonOrder[a] - reasonOrder[b]
	})
	LoggerFromContext(ctx).Debug("provider eligibility checked",
		"provider", req.Provider.Addr.Hex(),
		"eligible", result.Eligible(),
		"reasons", result.Reasons,
	)
	return result, nil
}

var reasonOrder = map[string]int{
	ReasonProviderNotLiquid:  0,
	ReasonNoExecutor:         1,
	ReasonUnexpectedExecutor: 2,
	ReasonModuleNotProvided:  3,
}

