// Package otel provides an OpenTelemetry trace handler for gelato.
//
// It bridges submission and execution events to OpenTelemetry spans, allowing
// integration with any OTel-compatible backend (Jaeger, Zipkin, OTLP, etc.).
//
// Basic usage with global TracerProvider:
//
//	client := gelato.New(engine, encoder, gelato.WithTrace(otel.New()))
//
// With explicit TracerProvider:
//
//	client := gelato.New(engine, encoder, gelato.WithTrace(
//	    otel.New(otel.WithTracerProvider(tp)),
//	))
package otel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/gelato/trace"
	otelAPI "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/m-mizutani/gelato"
)

// Option is a functional option for configuring the OTel handler.
type Option func(*handler)

// WithTracerProvider sets an explicit TracerProvider.
// If not set, the global TracerProvider is used.
func WithTracerProvider(tp otelTrace.TracerProvider) Option {
	return func(h *handler) {
		h.tracerProvider = tp
	}
}

type handler struct {
	tracerProvider otelTrace.TracerProvider
	tracer         otelTrace.Tracer
}

// New creates a new OTel trace handler.
func New(opts ...Option) trace.Handler {
	h := &handler{}
	for _, opt := range opts {
		opt(h)
	}

	if h.tracerProvider == nil {
		h.tracerProvider = otelAPI.GetTracerProvider()
	}
	h.tracer = h.tracerProvider.Tracer(tracerName)

	return h
}

func endSpan(ctx context.Context, err error) {
	span := otelTrace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (h *handler) StartSubmission(ctx context.Context, data *trace.SubmissionData) context.Context {
	ctx, span := h.tracer.Start(ctx, "submit_task_cycle",
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
	)
	if data != nil {
		span.SetAttributes(
			userProxyAttr(data.UserProxy),
			providerAttr(data.Provider),
			moduleAttr(data.Module),
			taskCountAttr(data.Tasks),
			maxRepetitionsAttr(data.MaxRepetitions),
		)
	}
	return ctx
}

func (h *handler) EndSubmission(ctx context.Context, data *trace.SubmissionData, err error) {
	if data != nil {
		otelTrace.SpanFromContext(ctx).SetAttributes(
			receiptIDAttr(data.ReceiptID),
			attemptsAttr(data.Attempts),
		)
	}
	endSpan(ctx, err)
}

func (h *handler) StartEligibility(ctx context.Context, provider string) context.Context {
	ctx, _ = h.tracer.Start(ctx, "eligibility",
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
		otelTrace.WithAttributes(providerAttr(provider)),
	)
	return ctx
}

func (h *handler) EndEligibility(ctx context.Context, data *trace.EligibilityData, err error) {
	if data != nil {
		otelTrace.SpanFromContext(ctx).SetAttributes(
			liquidAttr(data.Liquid),
			moduleProvidedAttr(data.ModuleProvided),
			executorAttr(data.Executor),
			gasPriceAttr(data.GasPrice),
		)
	}
	endSpan(ctx, err)
}

func (h *handler) StartEngineCall(ctx context.Context, method string, args map[string]any) context.Context {
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("engine:%s", method),
		otelTrace.WithSpanKind(otelTrace.SpanKindClient),
	)
	span.SetAttributes(engineMethodAttr(method))
	if args != nil {
		if b, err := json.Marshal(args); err == nil {
			span.SetAttributes(engineArgsAttr(string(b)))
		}
	}
	return ctx
}

func (h *handler) EndEngineCall(ctx context.Context, _ map[string]any, err error) {
	endSpan(ctx, err)
}

func (h *handler) StartExecution(ctx context.Context, receiptID uint64) context.Context {
	ctx, _ = h.tracer.Start(ctx, fmt.Sprintf("exec:%d", receiptID),
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
		otelTrace.WithAttributes(receiptIDAttr(receiptID)),
	)
	return ctx
}

func (h *handler) EndExecution(ctx context.Context, data *trace.ExecutionData, err error) {
	if data != nil {
		span := otelTrace.SpanFromContext(ctx)
		span.SetAttributes(executionStatusAttr(data.Status))
		if data.Reason != "" {
			span.SetAttributes(executionReasonAttr(data.Reason))
		}
	}
	endSpan(ctx, err)
}

func (h *handler) AddEvent(ctx context.Context, kind string, data any) {
	span := otelTrace.SpanFromContext(ctx)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			span.AddEvent(kind, otelTrace.WithAttributes(eventDataAttr(string(b))))
			return
		}
	}
	span.AddEvent(kind)
}

func (h *handler) Finish(_ context.Context) error {
	// Spans are exported by the TracerProvider's SpanProcessor.
	return nil
}
