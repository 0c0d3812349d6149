package trace_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gt"
)

func TestRecorderContextPropagation(t *testing.T) {
	rec := trace.New()
	ctx := context.Background()

	gt.Value(t, trace.HandlerFrom(ctx)).Nil()

	ctx = trace.WithHandler(ctx, rec)
	gt.Value(t, trace.HandlerFrom(ctx)).NotNil()
	gt.Equal[trace.Handler](t, trace.HandlerFrom(ctx), rec)
}

func TestRecorderSubmissionSpans(t *testing.T) {
	rec := trace.New(trace.WithTraceID("fixed-id"), trace.WithMetadata(trace.TraceMetadata{Network: "local"}))
	ctx := context.Background()

	subCtx := rec.StartSubmission(ctx, &trace.SubmissionData{UserProxy: "0xproxy", Tasks: 1})

	eligCtx := rec.StartEligibility(subCtx, "0xproxy")
	callCtx := rec.StartEngineCall(eligCtx, "isProviderLiquid", map[string]any{"gas": "100"})
	rec.EndEngineCall(callCtx, map[string]any{"liquid": true}, nil)
	rec.EndEligibility(eligCtx, &trace.EligibilityData{Provider: "0xproxy", Liquid: true, ModuleProvided: true}, nil)

	submitCtx := rec.StartEngineCall(subCtx, "submitTaskCycle", nil)
	rec.EndEngineCall(submitCtx, nil, errors.New("connection reset"))

	rec.AddEvent(subCtx, "retry", map[string]any{"attempt": 1})
	rec.EndSubmission(subCtx, &trace.SubmissionData{UserProxy: "0xproxy", Tasks: 1, ReceiptID: 3, Attempts: 2}, nil)

	tr := rec.Trace()
	gt.Value(t, tr).NotNil()
	gt.Equal(t, tr.TraceID, "fixed-id")
	gt.Equal(t, tr.Metadata.Network, "local")
	gt.False(t, tr.EndedAt.IsZero())

	root := tr.RootSpan
	gt.Equal(t, root.Kind, trace.SpanKindSubmission)
	gt.Equal(t, root.Submission.ReceiptID, uint64(3))
	gt.Equal(t, root.Status, trace.SpanStatusOK)
	gt.A(t, root.Children).Length(3)

	elig := root.Children[0]
	gt.Equal(t, elig.Kind, trace.SpanKindEligibility)
	gt.True(t, elig.Eligibility.Liquid)
	gt.A(t, elig.Children).Length(1)
	gt.Equal(t, elig.Children[0].EngineCall.Method, "isProviderLiquid")
	gt.Equal(t, elig.Children[0].EngineCall.Result["liquid"], any(true))

	submit := root.Children[1]
	gt.Equal(t, submit.Status, trace.SpanStatusError)
	gt.Equal(t, submit.EngineCall.Error, "connection reset")
	gt.Equal(t, submit.ParentID, root.SpanID)

	event := root.Children[2]
	gt.Equal(t, event.Kind, trace.SpanKindEvent)
	gt.Equal(t, event.Event.Kind, "retry")
}

func TestRecorderExecutionAsRoot(t *testing.T) {
	rec := trace.New()
	ctx := rec.StartExecution(context.Background(), 12)
	rec.EndExecution(ctx, &trace.ExecutionData{
		ReceiptID:      12,
		Status:         "condition_not_met",
		ConditionIndex: 0,
		ActionIndex:    -1,
	}, nil)

	tr := rec.Trace()
	gt.Value(t, tr).NotNil()
	gt.Equal(t, tr.RootSpan.Kind, trace.SpanKindExecution)
	gt.Equal(t, tr.RootSpan.Name, "exec:12")
	gt.Equal(t, tr.RootSpan.Execution.Status, "condition_not_met")
}

func TestRecorderIgnoresMismatchedEnd(t *testing.T) {
	rec := trace.New()
	ctx := rec.StartSubmission(context.Background(), &trace.SubmissionData{})

	// ending a span kind that is not current leaves the tree untouched
	rec.EndEngineCall(ctx, nil, errors.New("boom"))
	gt.Equal(t, rec.Trace().RootSpan.Status, trace.SpanStatusOK)

	// child spans without an active parent are dropped
	orphan := rec.StartEligibility(context.Background(), "0x01")
	rec.EndEligibility(orphan, nil, nil)
	gt.A(t, rec.Trace().RootSpan.Children).Length(0)
}

func TestRecorderFinishSavesTrace(t *testing.T) {
	dir := t.TempDir()
	repo := trace.NewFileRepository(dir)
	rec := trace.New(trace.WithRepository(repo), trace.WithTraceID("saved"))

	ctx := rec.StartSubmission(context.Background(), &trace.SubmissionData{Tasks: 1})
	rec.EndSubmission(ctx, nil, nil)
	gt.NoError(t, rec.Finish(ctx))

	loaded, err := repo.Get(ctx, "saved")
	gt.NoError(t, err)
	gt.Equal(t, loaded.RootSpan.Kind, trace.SpanKindSubmission)
}

func TestRecorderFinishWithoutTrace(t *testing.T) {
	rec := trace.New(trace.WithRepository(trace.NewFileRepository(t.TempDir())))
	gt.NoError(t, rec.Finish(context.Background()))
}

func TestRecorderConcurrentEngineCalls(t *testing.T) {
	rec := trace.New()
	ctx := rec.StartSubmission(context.Background(), &trace.SubmissionData{})
	eligCtx := rec.StartEligibility(ctx, "0x01")

	var wg sync.WaitGroup
	for _, method := range []string{"isProviderLiquid", "executorByProvider", "isModuleProvided"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx := rec.StartEngineCall(eligCtx, method, nil)
			rec.EndEngineCall(callCtx, nil, nil)
		}()
	}
	wg.Wait()
	rec.EndEligibility(eligCtx, nil, nil)

	gt.A(t, rec.Trace().RootSpan.Children[0].Children).Length(3)
}
