// Package ethcore is an execution engine backed by a deployed GelatoCore,
// reached over JSON-RPC. Submissions are sent as transactions from the user
// proxy; reads are eth_call round trips.
package ethcore

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/calldata"
	"github.com/m-mizutani/goerr/v2"
)

const (
	proxyCacheSize   = 1024
	eventTaskCreated = "LogTaskSubmitted"
)

// Backend is what the engine needs from an Ethereum node. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Contracts are the addresses of the deployed Gelato contracts.
type Contracts struct {
	Core         common.Address
	ProxyFactory common.Address
	// GasPriceOracle overrides the oracle configured in the core.
	GasPriceOracle common.Address
}

type proxyKey struct {
	owner common.Address
	salt  string
}

// Engine implements gelato.ExecutionEngine on top of a GelatoCore deployment.
type Engine struct {
	backend   Backend
	registry  *calldata.Registry
	contracts Contracts
	signer    *bind.TransactOpts
	userProxy common.Address

	predicted *lru.Cache[proxyKey, common.Address]
	proxies   *lru.Cache[common.Address, bool]
}

var (
	_ gelato.ExecutionEngine = (*Engine)(nil)
	_ gelato.ProxyFactory    = (*Engine)(nil)
	_ gelato.Funder          = (*Engine)(nil)
)

// Option configures an Engine.
type Option func(*Engine)

// WithSigner sets the account that signs transactions. Read-only engines
// need no signer.
func WithSigner(opts *bind.TransactOpts) Option {
	return func(e *Engine) {
		e.signer = opts
	}
}

// WithUserProxy sets the proxy that submissions are sent through.
func WithUserProxy(addr common.Address) Option {
	return func(e *Engine) {
		e.userProxy = addr
	}
}

func New(backend Backend, registry *calldata.Registry, contracts Contracts, options ...Option) (*Engine, error) {
	if contracts.Core == (common.Address{}) {
		return nil, goerr.New("gelato core address is required")
	}

	predicted, err := lru.New[proxyKey, common.Address](proxyCacheSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create proxy cache")
	}
	proxies, err := lru.New[common.Address, bool](proxyCacheSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create proxy cache")
	}

	e := &Engine{
		backend:   backend,
		registry:  registry,
		contracts: contracts,
		predicted: predicted,
		proxies:   proxies,
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Dial connects to rpcURL and creates an Engine on it.
func Dial(ctx context.Context, rpcURL string, registry *calldata.Registry, contracts Contracts, options ...Option) (*Engine, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to RPC", goerr.V("url", rpcURL), goerr.Tag(gelato.TagTransient))
	}
	return New(client, registry, contracts, options...)
}

// NewSigner builds transaction options for a hex encoded private key.
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create signer", goerr.V("chain_id", chainID))
	}
	return opts, nil
}

// call runs a read-only call of fn on iface at addr and returns its outputs.
func (x *Engine) call(ctx context.Context, addr common.Address, iface, fn string, args ...any) ([]any, error) {
	data, err := x.registry.Encode(iface, fn, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &addr, Data: data}
	if x.signer != nil {
		msg.From = x.signer.From
	}
	ret, err := x.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, rpcError(err, "eth_call failed", goerr.V("interface", iface), goerr.V("function", fn), goerr.V("to", addr.Hex()))
	}

	out, err := x.registry.DecodeReturn(iface, fn, ret)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode call result", goerr.V("interface", iface), goerr.V("function", fn))
	}
	if len(out) == 0 {
		return nil, goerr.New("call returned nothing", goerr.V("interface", iface), goerr.V("function", fn))
	}
	return out, nil
}

// rpcError tags node errors. Reverts are final; anything else may be retried.
func rpcError(err error, msg string, opts ...goerr.Option) error {
	if isRevert(err) {
		opts = append(opts, goerr.Tag(gelato.TagRuntime))
	} else {
		opts = append(opts, goerr.Tag(gelato.TagTransient))
	}
	return goerr.Wrap(err, msg, opts...)
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

func outBool(out []any) (bool, error) {
	v, ok := out[0].(bool)
	if !ok {
		return false, goerr.New("unexpected result type", goerr.V("result", out[0]))
	}
	return v, nil
}

func outAddress(out []any) (common.Address, error) {
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, goerr.New("unexpected result type", goerr.V("result", out[0]))
	}
	return v, nil
}

func outBig(out []any) (*big.Int, error) {
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, goerr.New("unexpected result type", goerr.V("result", out[0]))
	}
	return v, nil
}

func (x *Engine) IsProviderLiquid(ctx context.Context, provider common.Address, gas, gasPrice *big.Int) (bool, error) {
	out, err := x.call(ctx, x.contracts.Core, gelato.IfaceGelatoCore, "isProviderLiquid", provider, gas, gasPrice)
	if err != nil {
		return false, err
	}
	return outBool(out)
}

func (x *Engine) ExecutorByProvider(ctx context.Context, provider common.Address) (common.Address, error) {
	out, err := x.call(ctx, x.contracts.Core, gelato.IfaceGelatoCore, "executorByProvider", provider)
	if err != nil {
		return common.Address{}, err
	}
	return outAddress(out)
}

func (x *Engine) IsModuleProvided(ctx context.Context, provider, module common.Address) (bool, error) {
	out, err := x.call(ctx, x.contracts.Core, gelato.IfaceGelatoCore, "isModuleProvided", provider, module)
	if err != nil {
		return false, err
	}
	return outBool(out)
}

// GasPrice reads the latest answer of the gelato gas price oracle.
func (x *Engine) GasPrice(ctx context.Context) (*big.Int, error) {
	oracle := x.contracts.GasPriceOracle
	if oracle == (common.Address{}) {
		out, err := x.call(ctx, x.contracts.Core, gelato.IfaceGelatoCore, "gelatoGasPriceOracle")
		if err != nil {
			return nil, err
		}
		if oracle, err = outAddress(out); err != nil {
			return nil, err
		}
	}

	out, err := x.call(ctx, oracle, "GasPriceOracle", "latestAnswer")
	if err != nil {
		return nil, err
	}
	price, err := outBig(out)
	if err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, goerr.New("gas price oracle returned a non-positive price", goerr.V("price", price.String()))
	}
	return price, nil
}

// PredictProxyAddress asks the proxy factory for the CREATE2 address of
// owner's proxy. Answers are cached.
func (x *Engine) PredictProxyAddress(ctx context.Context, owner common.Address, salt *big.Int) (common.Address, error) {
	if salt == nil {
		salt = new(big.Int)
	}
	key := proxyKey{owner: owner, salt: salt.String()}
	if addr, ok := x.predicted.Get(key); ok {
		return addr, nil
	}

	out, err := x.call(ctx, x.factory(), gelato.IfaceUserProxyFactory, "predictProxyAddress", owner, salt)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := outAddress(out)
	if err != nil {
		return common.Address{}, err
	}
	x.predicted.Add(key, addr)
	return addr, nil
}

// IsGelatoUserProxy asks the proxy factory whether addr is one of its
// proxies. Only positive answers are cached since proxies can be created later.
func (x *Engine) IsGelatoUserProxy(ctx context.Context, addr common.Address) (bool, error) {
	if ok, found := x.proxies.Get(addr); found {
		return ok, nil
	}

	out, err := x.call(ctx, x.factory(), gelato.IfaceUserProxyFactory, "isGelatoUserProxy", addr)
	if err != nil {
		return false, err
	}
	ok, err := outBool(out)
	if err != nil {
		return false, err
	}
	if ok {
		x.proxies.Add(addr, true)
	}
	return ok, nil
}

func (x *Engine) factory() common.Address {
	return x.contracts.ProxyFactory
}
