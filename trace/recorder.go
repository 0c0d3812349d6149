package trace

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithRepository sets the repository for persisting trace data.
func WithRepository(repo Repository) Option {
	return func(r *Recorder) {
		r.repo = repo
	}
}

// WithMetadata sets the metadata for the trace.
func WithMetadata(meta TraceMetadata) Option {
	return func(r *Recorder) {
		r.metadata = meta
	}
}

// WithTraceID sets a custom trace ID.
// If not set or set to an empty string, a UUID v7 is generated automatically.
func WithTraceID(id string) Option {
	return func(r *Recorder) {
		r.traceID = id
	}
}

// WithLogger sets the logger used to report persistence problems.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// Recorder collects tracing data into an in-memory Trace structure.
// It implements the Handler interface and provides access to the collected Trace via Trace().
type Recorder struct {
	trace    *Trace
	mu       sync.Mutex
	repo     Repository
	metadata TraceMetadata
	traceID  string
	logger   *slog.Logger
}

// New creates a new Recorder with the given options.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// context key types
type handlerKey struct{}
type currentSpanKey struct{}

// WithHandler stores the Handler in the context.
func WithHandler(ctx context.Context, h Handler) context.Context {
	return context.WithValue(ctx, handlerKey{}, h)
}

// HandlerFrom retrieves the Handler from the context. Returns nil if not set.
func HandlerFrom(ctx context.Context) Handler {
	h, _ := ctx.Value(handlerKey{}).(Handler)
	return h
}

func withCurrentSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, currentSpanKey{}, span)
}

func currentSpanFrom(ctx context.Context) *Span {
	s, _ := ctx.Value(currentSpanKey{}).(*Span)
	return s
}

func newSpanID() string {
	return uuid.New().String()
}

// startRoot replaces the current trace with a new one rooted at a span of kind. Caller holds r.mu.
func (r *Recorder) startRoot(ctx context.Context, kind SpanKind, name string) (context.Context, *Span) {
	now := time.Now()
	span := &Span{
		SpanID:    newSpanID(),
		Kind:      kind,
		Name:      name,
		StartedAt: now,
		Status:    SpanStatusOK,
	}

	traceID := r.traceID
	if traceID == "" {
		traceID = uuid.Must(uuid.NewV7()).String()
	}

	r.trace = &Trace{
		TraceID:   traceID,
		RootSpan:  span,
		Metadata:  r.metadata,
		StartedAt: now,
	}
	return withCurrentSpan(ctx, span), span
}

// startChild appends a span of kind to the current span. Caller holds r.mu.
func (r *Recorder) startChild(ctx context.Context, kind SpanKind, name string) (context.Context, *Span) {
	parent := currentSpanFrom(ctx)
	if parent == nil {
		return ctx, nil
	}

	span := &Span{
		SpanID:    newSpanID(),
		ParentID:  parent.SpanID,
		Kind:      kind,
		Name:      name,
		StartedAt: time.Now(),
		Status:    SpanStatusOK,
	}
	parent.Children = append(parent.Children, span)
	return withCurrentSpan(ctx, span), span
}

// endSpan closes the current span if it has the expected kind. Caller holds r.mu.
func (r *Recorder) endSpan(ctx context.Context, kind SpanKind, err error) *Span {
	span := currentSpanFrom(ctx)
	if span == nil || span.Kind != kind {
		return nil
	}

	now := time.Now()
	span.EndedAt = now
	span.Duration = now.Sub(span.StartedAt)
	if err != nil {
		span.Status = SpanStatusError
		span.Error = err.Error()
	}
	if r.trace != nil && r.trace.RootSpan == span {
		r.trace.EndedAt = now
	}
	return span
}

// StartSubmission starts the root submission span.
func (r *Recorder) StartSubmission(ctx context.Context, data *SubmissionData) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startRoot(ctx, SpanKindSubmission, "submit_task_cycle")
	span.Submission = data
	return ctx
}

// EndSubmission ends the root submission span.
func (r *Recorder) EndSubmission(ctx context.Context, data *SubmissionData, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if span := r.endSpan(ctx, SpanKindSubmission, err); span != nil && data != nil {
		span.Submission = data
	}
}

// StartEligibility starts an eligibility span as a child of the current span.
func (r *Recorder) StartEligibility(ctx context.Context, provider string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startChild(ctx, SpanKindEligibility, "eligibility")
	if span != nil {
		span.Eligibility = &EligibilityData{Provider: provider}
	}
	return ctx
}

// EndEligibility ends the eligibility span with the gate's answers.
func (r *Recorder) EndEligibility(ctx context.Context, data *EligibilityData, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if span := r.endSpan(ctx, SpanKindEligibility, err); span != nil && data != nil {
		span.Eligibility = data
	}
}

// StartEngineCall starts an engine_call span as a child of the current span.
func (r *Recorder) StartEngineCall(ctx context.Context, method string, args map[string]any) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startChild(ctx, SpanKindEngineCall, method)
	if span != nil {
		span.EngineCall = &EngineCallData{Method: method, Args: args}
	}
	return ctx
}

// EndEngineCall ends the engine_call span with the result.
func (r *Recorder) EndEngineCall(ctx context.Context, result map[string]any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := r.endSpan(ctx, SpanKindEngineCall, err)
	if span == nil || span.EngineCall == nil {
		return
	}
	span.EngineCall.Result = result
	if err != nil {
		span.EngineCall.Error = err.Error()
	}
}

// StartExecution starts an execution span, as root when no span is active.
func (r *Recorder) StartExecution(ctx context.Context, receiptID uint64) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := "exec:" + strconv.FormatUint(receiptID, 10)

	var span *Span
	if currentSpanFrom(ctx) == nil {
		ctx, span = r.startRoot(ctx, SpanKindExecution, name)
	} else {
		ctx, span = r.startChild(ctx, SpanKindExecution, name)
	}
	span.Execution = &ExecutionData{ReceiptID: receiptID, ConditionIndex: -1, ActionIndex: -1}
	return ctx
}

// EndExecution ends the execution span with its outcome.
func (r *Recorder) EndExecution(ctx context.Context, data *ExecutionData, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if span := r.endSpan(ctx, SpanKindExecution, err); span != nil && data != nil {
		span.Execution = data
	}
}

// AddEvent adds an event span as a child of the current span.
func (r *Recorder) AddEvent(ctx context.Context, kind string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent := currentSpanFrom(ctx)
	if parent == nil {
		return
	}

	now := time.Now()
	span := &Span{
		SpanID:    newSpanID(),
		ParentID:  parent.SpanID,
		Kind:      SpanKindEvent,
		Name:      kind,
		StartedAt: now,
		EndedAt:   now,
		Status:    SpanStatusOK,
		Event: &EventData{
			Kind: kind,
			Data: data,
		},
	}
	parent.Children = append(parent.Children, span)
}

// Finish completes the trace and persists it to the Repository.
func (r *Recorder) Finish(ctx context.Context) error {
	r.mu.Lock()
	trace := r.trace
	repo := r.repo
	r.mu.Unlock()

	if trace == nil || repo == nil {
		return nil
	}

	if err := repo.Save(ctx, trace); err != nil {
		r.logger.Warn("failed to save trace", "trace_id", trace.TraceID, "error", err)
		return err
	}
	return nil
}

// Trace returns the current trace data. Returns nil if no trace is active.
func (r *Recorder) Trace() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trace
}
