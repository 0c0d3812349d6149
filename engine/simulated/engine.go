// Package simulated is an in-process execution engine. It stores receipts,
// evaluates conditions, dispatches actions atomically with data flow and
// resubmits cycles, with contract behavior supplied as Go handlers.
package simulated

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/calldata"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultGasPrice is the execution gas price charged to providers.
	DefaultGasPrice = 10_000_000_000
	// DefaultExecGas is the gas one execution consumes.
	DefaultExecGas = 400_000
)

// ConditionCall is what a condition handler is asked to evaluate.
type ConditionCall struct {
	ReceiptID uint64
	CycleID   uint64
	UserProxy common.Address
	Inst      common.Address
	Data      []byte
	State     *Tx
}

// ConditionFunc returns "OK" when the condition holds, otherwise a reason.
type ConditionFunc func(ctx context.Context, call *ConditionCall) (string, error)

// ActionCall is a dispatched action. Data already carries the in-flow value.
type ActionCall struct {
	ReceiptID uint64
	UserProxy common.Address
	Addr      common.Address
	Data      []byte
	CallMode  gelato.CallMode
	Value     *big.Int
	State     *Tx
}

// ActionFunc runs an action and returns its raw return data.
type ActionFunc func(ctx context.Context, call *ActionCall) ([]byte, error)

// TermsFunc answers the terms check of an action, "OK" when it may run.
type TermsFunc func(ctx context.Context, call *ActionCall) (string, error)

// FailureMode selects how an injected submission failure behaves.
type FailureMode int

const (
	// FailureRejected fails before anything is recorded and says so.
	FailureRejected FailureMode = iota
	// FailureUnknown fails before anything is recorded without saying so.
	FailureUnknown
	// FailureLost records the submission but loses the response.
	FailureLost
)

type providerState struct {
	funds    *big.Int
	executor common.Address
	modules  map[common.Address]bool
}

// Engine implements gelato.ExecutionEngine and the optional engine interfaces.
type Engine struct {
	mu sync.Mutex

	registry *calldata.Registry
	core     common.Address
	factory  common.Address
	gasPrice *big.Int
	execGas  *big.Int
	now      func() time.Time

	conditions map[common.Address]ConditionFunc
	actions    map[common.Address]ActionFunc
	terms      map[common.Address]TermsFunc

	receipts    map[uint64]*gelato.TaskReceipt
	submissions map[common.Hash]uint64
	lastID      uint64
	lastCycleID uint64

	providers map[common.Address]*providerState
	proxies   map[common.Address]common.Address
	balances  ledger
	txCount   uint64

	failures    []FailureMode
	submitCalls int
	dispatched  []Dispatch
}

var (
	_ gelato.ExecutionEngine  = (*Engine)(nil)
	_ gelato.SubmissionFinder = (*Engine)(nil)
	_ gelato.ProxyFactory     = (*Engine)(nil)
	_ gelato.Funder           = (*Engine)(nil)
	_ gelato.Executor         = (*Engine)(nil)
)

// Option configures an Engine.
type Option func(*Engine)

// WithCore sets the address that nested submitTaskCycle actions must target.
func WithCore(addr common.Address) Option {
	return func(e *Engine) {
		e.core = addr
	}
}

// WithFactory sets the proxy factory address used for address prediction.
func WithFactory(addr common.Address) Option {
	return func(e *Engine) {
		e.factory = addr
	}
}

func WithGasPrice(price *big.Int) Option {
	return func(e *Engine) {
		e.gasPrice = new(big.Int).Set(price)
	}
}

// WithExecGas sets the gas charged per execution before self-provider caps.
func WithExecGas(gas *big.Int) Option {
	return func(e *Engine) {
		e.execGas = new(big.Int).Set(gas)
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an empty engine. registry resolves in-flow slots and decodes
// nested submissions.
func New(registry *calldata.Registry, options ...Option) *Engine {
	e := &Engine{
		registry: registry,
		core:     common.HexToAddress("0x0000000000000000000000000000000000001234"),
		factory:  common.HexToAddress("0x0000000000000000000000000000000000005678"),
		gasPrice: big.NewInt(DefaultGasPrice),
		execGas:  big.NewInt(DefaultExecGas),
		now:      time.Now,

		conditions:  make(map[common.Address]ConditionFunc),
		actions:     make(map[common.Address]ActionFunc),
		terms:       make(map[common.Address]TermsFunc),
		receipts:    make(map[uint64]*gelato.TaskReceipt),
		submissions: make(map[common.Hash]uint64),
		providers:   make(map[common.Address]*providerState),
		proxies:     make(map[common.Address]common.Address),
		balances:    make(ledger),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Core is the address nested submitTaskCycle actions must call.
func (e *Engine) Core() common.Address {
	return e.core
}

func (e *Engine) RegisterCondition(inst common.Address, fn ConditionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conditions[inst] = fn
}

func (e *Engine) RegisterAction(addr common.Address, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[addr] = fn
}

func (e *Engine) RegisterTerms(addr common.Address, fn TermsFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terms[addr] = fn
}

// FailNextSubmissions makes the next submissions fail, one per given mode.
func (e *Engine) FailNextSubmissions(modes ...FailureMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, modes...)
}

// SubmitCalls counts SubmitTaskCycle round trips, failed ones included.
func (e *Engine) SubmitCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitCalls
}

// Receipt returns a stored, still executable receipt.
func (e *Engine) Receipt(id uint64) (*gelato.TaskReceipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Receipts returns the number of executable receipts.
func (e *Engine) Receipts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.receipts)
}

func (e *Engine) provider(addr common.Address) *providerState {
	p, ok := e.providers[addr]
	if !ok {
		p = &providerState{funds: new(big.Int), modules: make(map[common.Address]bool)}
		e.providers[addr] = p
	}
	return p
}

// AssignExecutor assigns executor to provider.
func (e *Engine) AssignExecutor(provider, executor common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provider(provider).executor = executor
}

// AddProviderModule registers module for provider.
func (e *Engine) AddProviderModule(provider, module common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provider(provider).modules[module] = true
}

// ProviderFunds returns the prepaid balance of provider.
func (e *Engine) ProviderFunds(provider common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.provider(provider).funds)
}

func (e *Engine) ProvideFunds(ctx context.Context, provider common.Address, amount *big.Int) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, goerr.Wrap(err, "provide funds canceled")
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, goerr.New("amount must be positive", goerr.V("amount", amount))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.provider(provider)
	p.funds.Add(p.funds, amount)

	gelato.LoggerFromContext(ctx).Debug("provider funded",
		"provider", provider.Hex(), "amount", amount.String(), "funds", p.funds.String())
	return e.txHash(provider.Bytes(), amount.Bytes()), nil
}

func (e *Engine) txHash(parts ...[]byte) common.Hash {
	e.txCount++
	return crypto.Keccak256Hash(append(parts, new(big.Int).SetUint64(e.txCount).Bytes())...)
}

func (e *Engine) IsProviderLiquid(ctx context.Context, provider common.Address, gas, gasPrice *big.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, goerr.Wrap(err, "liquidity check canceled", goerr.Tag(gelato.TagTransient))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	required := new(big.Int).Mul(gas, gasPrice)
	return e.provider(provider).funds.Cmp(required) >= 0, nil
}

func (e *Engine) ExecutorByProvider(ctx context.Context, provider common.Address) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, goerr.Wrap(err, "executor lookup canceled", goerr.Tag(gelato.TagTransient))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider(provider).executor, nil
}

func (e *Engine) IsModuleProvided(ctx context.Context, provider, module common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, goerr.Wrap(err, "module lookup canceled", goerr.Tag(gelato.TagTransient))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider(provider).modules[module], nil
}

func (e *Engine) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "gas price lookup canceled", goerr.Tag(gelato.TagTransient))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.gasPrice), nil
}

// SetGasPrice changes the execution gas price.
func (e *Engine) SetGasPrice(price *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gasPrice = new(big.Int).Set(price)
}

func (e *Engine) SubmitTaskCycle(ctx context.Context, sub *gelato.CycleSubmission) (*gelato.TaskReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "submission canceled", goerr.Tag(gelato.TagTransient))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitCalls++

	var failure *FailureMode
	if len(e.failures) > 0 {
		mode := e.failures[0]
		e.failures = e.failures[1:]
		failure = &mode
	}

	if failure != nil && *failure != FailureLost {
		opts := []goerr.Option{goerr.Tag(gelato.TagTransient)}
		if *failure == FailureRejected {
			opts = append(opts, goerr.Tag(gelato.TagNoSideEffect))
		}
		return nil, goerr.New("simulated network failure", opts...)
	}

	if sub.UserProxy == (common.Address{}) {
		return nil, goerr.Wrap(gelato.ErrSubmission, "user proxy is required")
	}

	tx := newTx(e.balances)
	if len(sub.PreActions) > 0 {
		placeholder := &gelato.TaskReceipt{UserProxy: sub.UserProxy}
		if fail := e.dispatch(ctx, tx, placeholder, sub.PreActions); fail != nil {
			return nil, goerr.Wrap(gelato.ErrActionExecutionFailed, "pre-action reverted",
				goerr.V("action_index", fail.ActionIndex),
				goerr.V("reason", fail.Reason),
				goerr.Tag(gelato.TagRuntime),
			)
		}
	}

	cycle, err := gelato.NewTaskCycle(sub.Tasks, sub.ExpiryDate, sub.Cycles)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid task cycle", goerr.Tag(gelato.TagNoSideEffect))
	}
	if cycle.Expired(e.now()) {
		return nil, goerr.Wrap(gelato.ErrReceiptExpired, "task cycle already expired",
			goerr.V("expiry_date", sub.ExpiryDate), goerr.Tag(gelato.TagNoSideEffect))
	}
	tx.submit(sub.UserProxy, sub.Provider, cycle)

	created := e.commit(ctx, tx)
	receipt := created[len(created)-1]

	if sub.Key != (common.Hash{}) {
		e.submissions[sub.Key] = receipt.ID
	}
	gelato.LoggerFromContext(ctx).Debug("task cycle stored",
		"receipt_id", receipt.ID,
		"cycle_id", receipt.CycleID,
		"submissions_left", receipt.SubmissionsLeft,
	)

	if failure != nil {
		return nil, goerr.New("simulated lost response", goerr.Tag(gelato.TagTransient))
	}
	return receipt.Clone(), nil
}

func (e *Engine) FindSubmission(ctx context.Context, key common.Hash) (*gelato.TaskReceipt, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, goerr.Wrap(err, "submission lookup canceled", goerr.Tag(gelato.TagTransient))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.submissions[key]
	if !ok {
		return nil, false, nil
	}
	if r, ok := e.receipts[id]; ok {
		return r.Clone(), true, nil
	}
	return nil, false, nil
}

// PredictProxyAddress derives the CREATE2 address of owner's proxy.
func (e *Engine) PredictProxyAddress(ctx context.Context, owner common.Address, salt *big.Int) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, goerr.Wrap(err, "proxy prediction canceled")
	}
	return predictProxy(e.factory, owner, salt), nil
}

func predictProxy(factory, owner common.Address, salt *big.Int) common.Address {
	if salt == nil {
		salt = new(big.Int)
	}
	saltHash := crypto.Keccak256Hash(owner.Bytes(), common.BigToHash(salt).Bytes())
	initCodeHash := crypto.Keccak256([]byte("GelatoUserProxy"), owner.Bytes())
	return crypto.CreateAddress2(factory, saltHash, initCodeHash)
}

// CreateProxy deploys owner's proxy at its predicted address.
func (e *Engine) CreateProxy(owner common.Address, salt *big.Int) common.Address {
	addr := predictProxy(e.factory, owner, salt)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxies[addr] = owner
	return addr
}

func (e *Engine) IsGelatoUserProxy(ctx context.Context, addr common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, goerr.Wrap(err, "proxy lookup canceled")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.proxies[addr]
	return ok, nil
}

// commit applies tx and stores the receipts it submitted. Callers hold e.mu.
func (e *Engine) commit(ctx context.Context, tx *Tx) []*gelato.TaskReceipt {
	tx.apply(e.balances)
	e.dispatched = append(e.dispatched, tx.dispatched...)

	created := make([]*gelato.TaskReceipt, 0, len(tx.submitted))
	for _, r := range tx.submitted {
		e.lastID++
		r.ID = e.lastID
		if r.CycleID == 0 {
			e.lastCycleID++
			r.CycleID = e.lastCycleID
		}
		e.receipts[r.ID] = r
		created = append(created, r)
		gelato.LoggerFromContext(ctx).Debug("receipt stored", "receipt_id", r.ID, "index", r.Index)
	}
	return created
}
