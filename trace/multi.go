package trace

import (
	"context"
	"errors"
)

// multiHandler fans out trace events to multiple Handler implementations.
// Each handler receives its own isolated context so that, for example, two
// Recorders do not overwrite each other's current span.
type multiHandler struct {
	handlers []Handler
}

// Multi creates a Handler that forwards all events to the given handlers.
func Multi(handlers ...Handler) Handler {
	return &multiHandler{handlers: handlers}
}

type multiCtxKey struct{}

// contexts returns the per-handler contexts stored in ctx, or ctx itself for each handler.
func (m *multiHandler) contexts(ctx context.Context) []context.Context {
	if v, ok := ctx.Value(multiCtxKey{}).([]context.Context); ok {
		return v
	}
	ctxs := make([]context.Context, len(m.handlers))
	for i := range ctxs {
		ctxs[i] = ctx
	}
	return ctxs
}

// start runs fn on every handler with its own parent context and stores the results in ctx.
func (m *multiHandler) start(ctx context.Context, fn func(h Handler, ctx context.Context) context.Context) context.Context {
	parents := m.contexts(ctx)
	handlerCtxs := make([]context.Context, len(m.handlers))
	for i, h := range m.handlers {
		handlerCtxs[i] = fn(h, parents[i])
	}
	return context.WithValue(ctx, multiCtxKey{}, handlerCtxs)
}

func (m *multiHandler) each(ctx context.Context, fn func(h Handler, ctx context.Context)) {
	ctxs := m.contexts(ctx)
	for i, h := range m.handlers {
		fn(h, ctxs[i])
	}
}

func (m *multiHandler) StartSubmission(ctx context.Context, data *SubmissionData) context.Context {
	return m.start(ctx, func(h Handler, ctx context.Context) context.Context {
		return h.StartSubmission(ctx, data)
	})
}

func (m *multiHandler) EndSubmission(ctx context.Context, data *SubmissionData, err error) {
	m.each(ctx, func(h Handler, ctx context.Context) { h.EndSubmission(ctx, data, err) })
}

func (m *multiHandler) StartEligibility(ctx context.Context, provider string) context.Context {
	return m.start(ctx, func(h Handler, ctx context.Context) context.Context {
		return h.StartEligibility(ctx, provider)
	})
}

func (m *multiHandler) EndEligibility(ctx context.Context, data *EligibilityData, err error) {
	m.each(ctx, func(h Handler, ctx context.Context) { h.EndEligibility(ctx, data, err) })
}

func (m *multiHandler) StartEngineCall(ctx context.Context, method string, args map[string]any) context.Context {
	return m.start(ctx, func(h Handler, ctx context.Context) context.Context {
		return h.StartEngineCall(ctx, method, args)
	})
}

func (m *multiHandler) EndEngineCall(ctx context.Context, result map[string]any, err error) {
	m.each(ctx, func(h Handler, ctx context.Context) { h.EndEngineCall(ctx, result, err) })
}

func (m *multiHandler) StartExecution(ctx context.Context, receiptID uint64) context.Context {
	return m.start(ctx, func(h Handler, ctx context.Context) context.Context {
		return h.StartExecution(ctx, receiptID)
	})
}

func (m *multiHandler) EndExecution(ctx context.Context, data *ExecutionData, err error) {
	m.each(ctx, func(h Handler, ctx context.Context) { h.EndExecution(ctx, data, err) })
}

func (m *multiHandler) AddEvent(ctx context.Context, kind string, data any) {
	m.each(ctx, func(h Handler, ctx context.Context) { h.AddEvent(ctx, kind, data) })
}

func (m *multiHandler) Finish(ctx context.Context) error {
	var errs []error
	for _, h := range m.handlers {
		if err := h.Finish(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
