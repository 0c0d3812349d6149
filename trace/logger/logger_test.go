package logger_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gelato/trace/logger"
	"github.com/m-mizutani/gt"
)

type logEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// testHandler is a slog.Handler that captures log records for assertions.
type testHandler struct {
	mu      sync.Mutex
	entries []logEntry
}

func (h *testHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (h *testHandler) WithAttrs(_ []slog.Attr) slog.Handler         { return h }
func (h *testHandler) WithGroup(_ string) slog.Handler              { return h }
func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.entries = append(h.entries, logEntry{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (h *testHandler) getEntries() []logEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]logEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func newTestLogger() (*slog.Logger, *testHandler) {
	th := &testHandler{}
	return slog.New(th), th
}

func TestSubmissionLogging(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))

	ctx := h.StartSubmission(context.Background(), &trace.SubmissionData{Tasks: 2})
	h.EndSubmission(ctx, &trace.SubmissionData{Tasks: 2, ReceiptID: 9, Attempts: 1}, nil)

	entries := th.getEntries()
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[0].Message, "task cycle submission started")
	gt.Equal(t, entries[1].Message, "task cycle submission ended")
	gt.Equal(t, entries[1].Attrs["receipt_id"], any(uint64(9)))
	gt.Value(t, entries[1].Attrs["duration"]).NotNil()
	gt.Value(t, entries[1].Attrs["error"]).Nil()
}

func TestSubmissionLoggingWithError(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))

	ctx := h.StartSubmission(context.Background(), nil)
	h.EndSubmission(ctx, nil, errors.New("provider not eligible"))

	entries := th.getEntries()
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[1].Attrs["error"], any("provider not eligible"))
}

func TestEligibilityLogging(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))

	ctx := h.StartEligibility(context.Background(), "0x01")
	h.EndEligibility(ctx, &trace.EligibilityData{
		Provider: "0x01",
		Gas:      "1500000",
		GasPrice: "10",
		Reasons:  []string{"provider is not liquid"},
	}, nil)

	entries := th.getEntries()
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Message, "provider eligibility")
	gt.Equal(t, entries[0].Attrs["liquid"], any(false))
	gt.Value(t, entries[0].Attrs["reasons"]).NotNil()
}

func TestEngineCallLogging(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))

	ctx := h.StartEngineCall(context.Background(), "submitTaskCycle", map[string]any{"tasks": 1})
	h.EndEngineCall(ctx, map[string]any{"receipt_id": 1}, nil)

	entries := th.getEntries()
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Level, slog.LevelDebug)
	gt.Equal(t, entries[0].Attrs["method"], any("submitTaskCycle"))
}

func TestExecutionLogging(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger))

	ctx := h.StartExecution(context.Background(), 4)
	h.EndExecution(ctx, &trace.ExecutionData{ReceiptID: 4, Status: "succeeded", NextReceiptID: 5}, nil)

	entries := th.getEntries()
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[1].Attrs["status"], any("succeeded"))
	gt.Equal(t, entries[1].Attrs["next_receipt_id"], any(uint64(5)))
}

func TestWithEventsFilters(t *testing.T) {
	slogger, th := newTestLogger()
	h := logger.New(logger.WithLogger(slogger), logger.WithEvents(logger.CustomEvent))

	ctx := h.StartSubmission(context.Background(), nil)
	callCtx := h.StartEngineCall(ctx, "gasPrice", nil)
	h.EndEngineCall(callCtx, nil, nil)
	h.AddEvent(ctx, "retry", map[string]any{"attempt": 2})
	h.EndSubmission(ctx, nil, nil)

	entries := th.getEntries()
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Message, "event")
	gt.Equal(t, entries[0].Attrs["kind"], any("retry"))
}

func TestFinishIsNoop(t *testing.T) {
	h := logger.New()
	gt.NoError(t, h.Finish(context.Background()))
}
