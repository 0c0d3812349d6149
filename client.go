package gelato

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCallTimeout  = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Client drives Task Cycle submissions against an execution engine: local
// validation, the provider eligibility gate, encoding and idempotent
// submission.
type Client struct {
	engine  ExecutionEngine
	encoder Encoder

	clientConfig

	inflight singleflight.Group
}

type clientConfig struct {
	logger       *slog.Logger
	traceHandler trace.Handler
	journal      ReceiptJournal

	callTimeout  time.Duration
	maxRetries   uint64
	retryBackoff time.Duration

	userProxy          common.Address
	expectedExecutions uint64
	gasPerExecution    *big.Int
	gasPrice           *big.Int
	expectedExecutor   common.Address

	eligibilityHook EligibilityHook
	submitHook      SubmitHook
	receiptHook     ReceiptHook
	retryHook       RetryHook

	now func() time.Time
}

// Option configures a Client.
type Option func(*clientConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTrace sets a trace handler. Each submission is recorded as one trace and
// the handler is finished when the submission returns.
func WithTrace(h trace.Handler) Option {
	return func(c *clientConfig) {
		c.traceHandler = h
	}
}

// WithJournal sets the journal used to find receipts of earlier submissions.
// Default is an in-memory journal.
func WithJournal(journal ReceiptJournal) Option {
	return func(c *clientConfig) {
		c.journal = journal
	}
}

// WithCallTimeout bounds every single engine round trip.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.callTimeout = timeout
	}
}

// WithMaxRetries sets how many times a transient submission failure is retried.
func WithMaxRetries(n uint64) Option {
	return func(c *clientConfig) {
		c.maxRetries = n
	}
}

// WithRetryBackoff sets the base delay of the exponential retry backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *clientConfig) {
		c.retryBackoff = d
	}
}

// WithUserProxy sets the user proxy that submits Task Cycles.
func WithUserProxy(addr common.Address) Option {
	return func(c *clientConfig) {
		c.userProxy = addr
	}
}

func WithExpectedExecutions(n uint64) Option {
	return func(c *clientConfig) {
		c.expectedExecutions = n
	}
}

func WithGasPerExecution(gas *big.Int) Option {
	return func(c *clientConfig) {
		c.gasPerExecution = gas
	}
}

// WithGasPrice fixes the gas price used by the eligibility gate instead of
// asking the engine.
func WithGasPrice(price *big.Int) Option {
	return func(c *clientConfig) {
		c.gasPrice = price
	}
}

func WithExpectedExecutor(addr common.Address) Option {
	return func(c *clientConfig) {
		c.expectedExecutor = addr
	}
}

// WithEligibilityHook is called with the answer of the eligibility gate, eligible or not.
func WithEligibilityHook(hook EligibilityHook) Option {
	return func(c *clientConfig) {
		c.eligibilityHook = hook
	}
}

// WithSubmitHook is called right before the first submit round trip.
func WithSubmitHook(hook SubmitHook) Option {
	return func(c *clientConfig) {
		c.submitHook = hook
	}
}

// WithReceiptHook is called with the receipt of a successful submission.
func WithReceiptHook(hook ReceiptHook) Option {
	return func(c *clientConfig) {
		c.receiptHook = hook
	}
}

// WithRetryHook is called after every submission failure that will be retried
// if attempts remain.
func WithRetryHook(hook RetryHook) Option {
	return func(c *clientConfig) {
		c.retryHook = hook
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.now = now
	}
}

// New creates a Client. encoder is used to build the submitTaskCycle payload.
func New(engine ExecutionEngine, encoder Encoder, options ...Option) *Client {
	c := &Client{
		engine:  engine,
		encoder: encoder,
		clientConfig: clientConfig{
			logger:       slog.New(slog.DiscardHandler),
			journal:      NewMemoryJournal(),
			callTimeout:  DefaultCallTimeout,
			maxRetries:   DefaultMaxRetries,
			retryBackoff: DefaultRetryBackoff,

			eligibilityHook: defaultEligibilityHook,
			submitHook:      defaultSubmitHook,
			receiptHook:     defaultReceiptHook,
			retryHook:       defaultRetryHook,

			now: time.Now,
		},
	}

	for _, opt := range options {
		opt(&c.clientConfig)
	}

	c.logger.Debug("gelato client created",
		"user_proxy", c.userProxy.Hex(),
		"call_timeout", c.callTimeout,
		"max_retries", c.maxRetries,
		"has_trace", c.traceHandler != nil,
	)
	return c
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	preActions []Action
	nonce      uint64
}

// WithPreActions adds actions executed by the user proxy in the same
// transaction, before the cycle is submitted.
func WithPreActions(actions ...Action) SubmitOption {
	return func(c *submitConfig) {
		c.preActions = append(c.preActions, actions...)
	}
}

// WithSubmissionNonce distinguishes intentional repeated submissions of the
// same cycle. Submissions with equal payload and nonce are deduplicated.
func WithSubmissionNonce(nonce uint64) SubmitOption {
	return func(c *submitConfig) {
		c.nonce = nonce
	}
}

// Eligibility runs the provider eligibility gate with the client's settings.
func (x *Client) Eligibility(ctx context.Context, provider Provider) (*Eligibility, error) {
	return CheckEligibility(x.ctx(ctx), x.engine, x.eligibilityRequest(provider))
}

func (x *Client) eligibilityRequest(provider Provider) EligibilityRequest {
	return EligibilityRequest{
		Provider:           provider,
		ExpectedExecutions: x.expectedExecutions,
		GasPerExecution:    x.gasPerExecution,
		GasPrice:           x.gasPrice,
		ExpectedExecutor:   x.expectedExecutor,
		CallTimeout:        x.callTimeout,
	}
}

func (x *Client) ctx(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return ctx
	}
	return CtxWithLogger(ctx, x.logger)
}

// SubmitTaskCycle submits cycle under provider and returns the receipt the
// engine assigned to its first Task. Local errors (construction, encoding,
// eligibility) are returned before anything is sent to the engine.
func (x *Client) SubmitTaskCycle(ctx context.Context, provider Provider, cycle *TaskCycle, options ...SubmitOption) (receipt *TaskReceipt, err error) {
	var cfg submitConfig
	for _, opt := range options {
		opt(&cfg)
	}

	logger := x.logger.With("gelato.submission_id", uuid.NewString())
	ctx = CtxWithLogger(ctx, logger)

	data := &trace.SubmissionData{
		UserProxy: x.userProxy.Hex(),
		Provider:  provider.Addr.Hex(),
		Module:    provider.Module.Hex(),
	}
	if cycle != nil {
		data.Tasks = len(cycle.Tasks)
		data.ExpiryDate = cycle.ExpiryDate
		data.MaxRepetitions = cycle.MaxRepetitions
	}

	if h := x.traceHandler; h != nil {
		ctx = trace.WithHandler(ctx, h)
		ctx = h.StartSubmission(ctx, data)
		defer func() {
			if receipt != nil {
				data.ReceiptID = receipt.ID
				data.CycleID = receipt.CycleID
			}
			h.EndSubmission(ctx, data, err)
			if finishErr := h.Finish(ctx); finishErr != nil {
				logger.Warn("failed to finish trace", "error", finishErr)
			}
		}()
	}

	if err := x.validate(provider, cycle, cfg.preActions); err != nil {
		return nil, err
	}

	eligibility, err := CheckEligibility(ctx, x.engine, x.eligibilityRequest(provider))
	if err != nil {
		return nil, err
	}
	if err := x.eligibilityHook(ctx, eligibility); err != nil {
		return nil, err
	}
	if err := eligibility.Err(); err != nil {
		logger.Info("provider is not eligible", "reasons", eligibility.Reasons)
		return nil, err
	}

	payload, err := EncodeSubmitTaskCycle(x.encoder, provider, cycle)
	if err != nil {
		return nil, err
	}

	sub := &CycleSubmission{
		UserProxy:  x.userProxy,
		Provider:   provider,
		Tasks:      append([]Task(nil), cycle.Tasks...),
		ExpiryDate: cycle.ExpiryDate,
		Cycles:     cycle.MaxRepetitions,
		PreActions: cfg.preActions,
		Payload:    payload,
	}
	sub.Key = SubmissionKey(sub, cfg.nonce)
	data.Key = sub.Key.Hex()
	logger = logger.With("gelato.submission_key", data.Key)
	ctx = CtxWithLogger(ctx, logger)

	v, err, shared := x.inflight.Do(sub.Key.Hex(), func() (any, error) {
		return x.submit(ctx, sub, data)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		data.Reused = true
	}

	receipt = v.(*TaskReceipt).Clone()
	logger.Info("task cycle submitted",
		"receipt_id", receipt.ID,
		"cycle_id", receipt.CycleID,
		"reused", data.Reused,
	)
	return receipt, nil
}

func (x *Client) validate(provider Provider, cycle *TaskCycle, preActions []Action) error {
	if x.userProxy == (common.Address{}) {
		return goerr.New("user proxy is not configured", goerr.Tag(TagConstruction))
	}
	if err := provider.Validate(); err != nil {
		return err
	}
	if cycle == nil {
		return goerr.Wrap(ErrInvalidCycle, "cycle is required", goerr.Tag(TagConstruction))
	}
	if err := cycle.Validate(); err != nil {
		return err
	}
	if cycle.Expired(x.now()) {
		return goerr.Wrap(ErrInvalidCycle, "cycle is already expired",
			goerr.V("expiry_date", cycle.ExpiryDate), goerr.Tag(TagConstruction))
	}

	if resolver, ok := x.encoder.(SlotResolver); ok {
		for i, t := range cycle.Tasks {
			if err := t.CheckPlaceholders(resolver); err != nil {
				return goerr.Wrap(err, "invalid cycle task", goerr.V("task_index", i))
			}
		}
	}

	for i, a := range preActions {
		if err := a.Validate(); err != nil {
			return goerr.Wrap(err, "invalid pre-action", goerr.V("action_index", i))
		}
	}

	if dec, ok := x.encoder.(NestedTaskDecoder); ok {
		for i, t := range cycle.Tasks {
			if _, err := t.Depth(dec); err != nil {
				return goerr.Wrap(err, "invalid cycle task", goerr.V("task_index", i))
			}
		}
		if err := CheckDepth(dec, preActions); err != nil {
			return goerr.Wrap(err, "invalid pre-actions")
		}
	}
	return nil
}

// submit looks for an earlier receipt of sub and sends it otherwise. It runs
// once per key at a time.
func (x *Client) submit(ctx context.Context, sub *CycleSubmission, data *trace.SubmissionData) (*TaskReceipt, error) {
	logger := LoggerFromContext(ctx)

	if receipt, found, err := x.lookup(ctx, sub.Key); err != nil {
		return nil, err
	} else if found {
		logger.Info("submission already recorded", "receipt_id", receipt.ID)
		data.Reused = true
		return receipt, nil
	}

	if err := x.submitHook(ctx, sub); err != nil {
		return nil, err
	}

	_, canFind := x.engine.(SubmissionFinder)
	backoff := retry.WithMaxRetries(x.maxRetries, retry.NewExponential(x.retryBackoff))

	var receipt *TaskReceipt
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		data.Attempts = attempt

		if attempt > 1 && canFind {
			// the failed attempt may have been recorded anyway
			found, ok, err := x.find(ctx, sub.Key)
			if err != nil {
				if canRetry(err, canFind) {
					return retry.RetryableError(err)
				}
				return err
			}
			if ok {
				data.Reused = true
				receipt = found
				return nil
			}
		}

		r, err := engineCall(ctx, x.callTimeout, "submitTaskCycle",
			map[string]any{"key": sub.Key.Hex(), "tasks": len(sub.Tasks), "cycles": sub.Cycles},
			func(ctx context.Context) (*TaskReceipt, error) {
				return x.engine.SubmitTaskCycle(ctx, sub)
			})
		if err != nil {
			if !canRetry(err, canFind) {
				return err
			}
			logger.Warn("submission failed", "attempt", attempt, "error", err)
			if hookErr := x.retryHook(ctx, attempt, err); hookErr != nil {
				return hookErr
			}
			return retry.RetryableError(err)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, submissionError(err, attempt)
	}
	if receipt == nil {
		return nil, goerr.Wrap(ErrSubmission, "engine returned no receipt", goerr.Tag(TagRuntime))
	}
	if err := receipt.Validate(); err != nil {
		return nil, goerr.Wrap(err, "engine returned an invalid receipt", goerr.V("receipt_id", receipt.ID))
	}

	if err := x.journal.Save(ctx, sub.Key, receipt); err != nil {
		logger.Warn("failed to save receipt to journal", "error", err)
	}
	if err := x.receiptHook(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// canRetry reports whether err may be retried without submitting twice.
func canRetry(err error, canFind bool) bool {
	return IsRetryable(err) && (canFind || goerr.HasTag(err, TagNoSideEffect))
}

func (x *Client) lookup(ctx context.Context, key common.Hash) (*TaskReceipt, bool, error) {
	receipt, found, err := x.journal.Load(ctx, key)
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to look up journal", goerr.V("key", key.Hex()))
	}
	if found {
		return receipt, true, nil
	}

	if _, ok := x.engine.(SubmissionFinder); !ok {
		return nil, false, nil
	}
	receipt, found, err = x.find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		if err := x.journal.Save(ctx, key, receipt); err != nil {
			LoggerFromContext(ctx).Warn("failed to save receipt to journal", "error", err)
		}
	}
	return receipt, found, nil
}

type findResult struct {
	receipt *TaskReceipt
	found   bool
}

func (x *Client) find(ctx context.Context, key common.Hash) (*TaskReceipt, bool, error) {
	finder := x.engine.(SubmissionFinder)
	r, err := engineCall(ctx, x.callTimeout, "findSubmission",
		map[string]any{"key": key.Hex()},
		func(ctx context.Context) (findResult, error) {
			receipt, found, err := finder.FindSubmission(ctx, key)
			return findResult{receipt: receipt, found: found}, err
		})
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to find submission", goerr.V("key", key.Hex()))
	}
	return r.receipt, r.found, nil
}

func submissionError(err error, attempts int) error {
	opts := []goerr.Option{goerr.V("attempts", attempts)}
	if IsRetryable(err) {
		opts = append(opts, goerr.Tag(TagTransient))
	}
	if goerr.HasTag(err, TagNoSideEffect) {
		opts = append(opts, goerr.Tag(TagNoSideEffect))
	}
	if goerr.HasTag(err, TagRuntime) {
		opts = append(opts, goerr.Tag(TagRuntime))
	}
	return goerr.Wrap(fmt.Errorf("%w: %w", ErrSubmission, err), "failed to submit task cycle", opts...)
}

// SubmissionKey is the idempotency key of sub: keccak256 of the user proxy,
// every field of each pre-action, the submitTaskCycle payload and nonce. Each
// field is prefixed with its length.
func SubmissionKey(sub *CycleSubmission, nonce uint64) common.Hash {
	var buf []byte
	field := func(b []byte) {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(b)))
		buf = append(buf, b...)
	}

	field(sub.UserProxy.Bytes())
	field(binary.BigEndian.AppendUint64(nil, uint64(len(sub.PreActions))))
	for _, a := range sub.PreActions {
		var terms byte
		if a.TermsOkCheck() {
			terms = 1
		}
		field(a.Addr().Bytes())
		field(a.Data())
		field([]byte{byte(a.CallMode()), byte(a.DataFlow()), terms})
		field(a.Value().Bytes())
	}
	field(sub.Payload)
	field(binary.BigEndian.AppendUint64(nil, nonce))
	return crypto.Keccak256Hash(buf)
}
