package trace_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gt"
)

func TestMultiHandlerFanOut(t *testing.T) {
	rec1 := trace.New()
	rec2 := trace.New()
	multi := trace.Multi(rec1, rec2)

	ctx := multi.StartSubmission(context.Background(), &trace.SubmissionData{Tasks: 1})

	eligCtx := multi.StartEligibility(ctx, "0x01")
	multi.EndEligibility(eligCtx, &trace.EligibilityData{Liquid: true}, nil)

	callCtx := multi.StartEngineCall(ctx, "submitTaskCycle", map[string]any{"tasks": 1})
	multi.EndEngineCall(callCtx, map[string]any{"receipt_id": 1}, nil)

	multi.AddEvent(ctx, "journal_saved", nil)
	multi.EndSubmission(ctx, nil, nil)

	for _, rec := range []*trace.Recorder{rec1, rec2} {
		tr := rec.Trace()
		gt.Value(t, tr).NotNil()
		gt.A(t, tr.RootSpan.Children).Length(3)
		gt.Equal(t, tr.RootSpan.Children[0].Kind, trace.SpanKindEligibility)
		gt.Equal(t, tr.RootSpan.Children[1].Kind, trace.SpanKindEngineCall)
		gt.Equal(t, tr.RootSpan.Children[2].Kind, trace.SpanKindEvent)
	}
	gt.NotEqual(t, rec1.Trace().RootSpan.SpanID, rec2.Trace().RootSpan.SpanID)
}

func TestMultiHandlerExecution(t *testing.T) {
	rec1 := trace.New()
	rec2 := trace.New()
	multi := trace.Multi(rec1, rec2)

	ctx := multi.StartExecution(context.Background(), 5)
	multi.EndExecution(ctx, &trace.ExecutionData{ReceiptID: 5, Status: "succeeded"}, nil)

	for _, rec := range []*trace.Recorder{rec1, rec2} {
		gt.Equal(t, rec.Trace().RootSpan.Execution.Status, "succeeded")
	}
}

type failingFinishHandler struct {
	trace.Recorder
}

func (f *failingFinishHandler) Finish(_ context.Context) error {
	return errors.New("finish failed")
}

func TestMultiHandlerFinishCollectsErrors(t *testing.T) {
	rec := trace.New()
	failing := &failingFinishHandler{}
	multi := trace.Multi(rec, failing)

	err := multi.Finish(context.Background())
	gt.Value(t, err).NotNil()
	gt.S(t, err.Error()).Contains("finish failed")
}

func TestMultiHandlerFinishNoErrors(t *testing.T) {
	multi := trace.Multi(trace.New(), trace.New())
	gt.NoError(t, multi.Finish(context.Background()))
}
