package trace_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gt"
)

func TestSpanKindValues(t *testing.T) {
	gt.Equal(t, trace.SpanKindSubmission, trace.SpanKind("submission"))
	gt.Equal(t, trace.SpanKindEligibility, trace.SpanKind("eligibility"))
	gt.Equal(t, trace.SpanKindEngineCall, trace.SpanKind("engine_call"))
	gt.Equal(t, trace.SpanKindExecution, trace.SpanKind("execution"))
	gt.Equal(t, trace.SpanKindEvent, trace.SpanKind("event"))
}

func TestTraceJSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	tr := &trace.Trace{
		TraceID: "test-trace-id",
		RootSpan: &trace.Span{
			SpanID:    "root",
			Kind:      trace.SpanKindSubmission,
			Name:      "submit_task_cycle",
			StartedAt: now,
			EndedAt:   now.Add(time.Second),
			Duration:  time.Second,
			Status:    trace.SpanStatusOK,
			Submission: &trace.SubmissionData{
				UserProxy:      "0x01",
				Provider:       "0x01",
				Module:         "0x02",
				Tasks:          2,
				MaxRepetitions: 3,
				ReceiptID:      7,
			},
			Children: []*trace.Span{
				{
					SpanID:   "elig",
					ParentID: "root",
					Kind:     trace.SpanKindEligibility,
					Name:     "eligibility",
					Status:   trace.SpanStatusError,
					Error:    "provider not eligible",
					Eligibility: &trace.EligibilityData{
						Provider: "0x01",
						Gas:      "1500000",
						GasPrice: "10",
						Reasons:  []string{"provider is not liquid"},
					},
				},
			},
		},
		Metadata:  trace.TraceMetadata{Network: "rinkeby", ChainID: 4},
		StartedAt: now,
		EndedAt:   now.Add(time.Second),
	}

	data, err := json.Marshal(tr)
	gt.NoError(t, err)

	var loaded trace.Trace
	gt.NoError(t, json.Unmarshal(data, &loaded))
	gt.Equal(t, loaded.TraceID, "test-trace-id")
	gt.Equal(t, loaded.RootSpan.Submission.ReceiptID, uint64(7))
	gt.Equal(t, loaded.Metadata.ChainID, uint64(4))
	gt.A(t, loaded.RootSpan.Children).Length(1)

	elig := loaded.RootSpan.Children[0]
	gt.Equal(t, elig.Status, trace.SpanStatusError)
	gt.Equal(t, elig.Eligibility.Reasons, []string{"provider is not liquid"})
	gt.Value(t, elig.Submission).Nil()
}
