package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/gelato/trace"
)

// Event represents a trace event type that can be selectively enabled.
type Event int

const (
	// Submission enables logging of task cycle submission start/end.
	Submission Event = iota
	// Eligibility enables logging of the provider eligibility gate result.
	Eligibility
	// EngineCall enables logging of every execution engine round trip.
	EngineCall
	// Execution enables logging of receipt execution attempts.
	Execution
	// CustomEvent enables logging of free-form events such as retries.
	CustomEvent

	eventCount // sentinel for iteration
)

type config struct {
	logger *slog.Logger
	events map[Event]bool
}

// Option configures the logger handler.
type Option func(*config)

// WithLogger sets a custom slog.Logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithEvents enables only the specified event types.
// When not specified, all events are enabled.
func WithEvents(events ...Event) Option {
	return func(c *config) {
		c.events = make(map[Event]bool, len(events))
		for _, e := range events {
			c.events[e] = true
		}
	}
}

// handler implements trace.Handler by logging events via slog.
type handler struct {
	cfg config
}

// New creates a new trace.Handler that logs trace events via slog.
func New(opts ...Option) trace.Handler {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.events == nil {
		cfg.events = make(map[Event]bool, eventCount)
		for i := Event(0); i < eventCount; i++ {
			cfg.events[i] = true
		}
	}

	return &handler{cfg: cfg}
}

func (h *handler) logger() *slog.Logger {
	if h.cfg.logger != nil {
		return h.cfg.logger
	}
	return slog.Default()
}

func (h *handler) enabled(e Event) bool {
	return h.cfg.events[e]
}

type startTimeKey struct{}

func withStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey{}, t)
}

func startTimeFrom(ctx context.Context) time.Time {
	t, _ := ctx.Value(startTimeKey{}).(time.Time)
	return t
}

type engineCallKey struct{}

type engineCall struct {
	method string
	args   map[string]any
}

func withEngineCall(ctx context.Context, call engineCall) context.Context {
	return context.WithValue(ctx, engineCallKey{}, call)
}

func engineCallFrom(ctx context.Context) engineCall {
	call, _ := ctx.Value(engineCallKey{}).(engineCall)
	return call
}

func withError(attrs []any, err error) []any {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	return attrs
}

func (h *handler) StartSubmission(ctx context.Context, data *trace.SubmissionData) context.Context {
	if h.enabled(Submission) {
		h.logger().InfoContext(ctx, "task cycle submission started", slog.Any("submission", data))
	}
	return withStartTime(ctx, time.Now())
}

func (h *handler) EndSubmission(ctx context.Context, data *trace.SubmissionData, err error) {
	if !h.enabled(Submission) {
		return
	}

	attrs := []any{
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.Uint64("receipt_id", data.ReceiptID),
			slog.Int("attempts", data.Attempts),
			slog.Bool("reused", data.Reused),
		)
	}
	h.logger().InfoContext(ctx, "task cycle submission ended", withError(attrs, err)...)
}

func (h *handler) StartEligibility(ctx context.Context, _ string) context.Context {
	return withStartTime(ctx, time.Now())
}

func (h *handler) EndEligibility(ctx context.Context, data *trace.EligibilityData, err error) {
	if !h.enabled(Eligibility) {
		return
	}

	attrs := []any{
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.String("provider", data.Provider),
			slog.String("gas", data.Gas),
			slog.String("gas_price", data.GasPrice),
			slog.Bool("liquid", data.Liquid),
			slog.String("executor", data.Executor),
			slog.Bool("module_provided", data.ModuleProvided),
		)
		if len(data.Reasons) > 0 {
			attrs = append(attrs, slog.Any("reasons", data.Reasons))
		}
	}
	h.logger().InfoContext(ctx, "provider eligibility", withError(attrs, err)...)
}

func (h *handler) StartEngineCall(ctx context.Context, method string, args map[string]any) context.Context {
	ctx = withStartTime(ctx, time.Now())
	return withEngineCall(ctx, engineCall{method: method, args: args})
}

func (h *handler) EndEngineCall(ctx context.Context, result map[string]any, err error) {
	if !h.enabled(EngineCall) {
		return
	}

	call := engineCallFrom(ctx)
	attrs := []any{
		slog.String("method", call.method),
		slog.Any("args", call.args),
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
		slog.Any("result", result),
	}
	h.logger().DebugContext(ctx, "engine call", withError(attrs, err)...)
}

func (h *handler) StartExecution(ctx context.Context, receiptID uint64) context.Context {
	if h.enabled(Execution) {
		h.logger().InfoContext(ctx, "receipt execution started", slog.Uint64("receipt_id", receiptID))
	}
	return withStartTime(ctx, time.Now())
}

func (h *handler) EndExecution(ctx context.Context, data *trace.ExecutionData, err error) {
	if !h.enabled(Execution) {
		return
	}

	attrs := []any{
		slog.Duration("duration", time.Since(startTimeFrom(ctx))),
	}
	if data != nil {
		attrs = append(attrs,
			slog.Uint64("receipt_id", data.ReceiptID),
			slog.String("status", data.Status),
			slog.Bool("terminal", data.Terminal),
		)
		if data.Reason != "" {
			attrs = append(attrs, slog.String("reason", data.Reason))
		}
		if data.NextReceiptID != 0 {
			attrs = append(attrs, slog.Uint64("next_receipt_id", data.NextReceiptID))
		}
	}
	h.logger().InfoContext(ctx, "receipt execution ended", withError(attrs, err)...)
}

func (h *handler) AddEvent(ctx context.Context, kind string, data any) {
	if !h.enabled(CustomEvent) {
		return
	}

	h.logger().InfoContext(ctx, "event",
		slog.String("kind", kind),
		slog.Any("data", data),
	)
}

// Finish is a no-op for the logger handler. Persistence is the Recorder's responsibility.
func (h *handler) Finish(_ context.Context) error {
	return nil
}
