package trace

import "context"

// Handler is the interface for trace backends.
// Implementations receive lifecycle events of submissions and executions
// and can record, export, or forward them as needed.
type Handler interface {
	// StartSubmission starts the root submission span.
	StartSubmission(ctx context.Context, data *SubmissionData) context.Context
	// EndSubmission ends the root submission span.
	EndSubmission(ctx context.Context, data *SubmissionData, err error)

	// StartEligibility starts a provider eligibility span.
	StartEligibility(ctx context.Context, provider string) context.Context
	// EndEligibility ends the eligibility span with the gate's answers.
	EndEligibility(ctx context.Context, data *EligibilityData, err error)

	// StartEngineCall starts a span around one execution engine round trip.
	StartEngineCall(ctx context.Context, method string, args map[string]any) context.Context
	// EndEngineCall ends the engine call span with the result.
	EndEngineCall(ctx context.Context, result map[string]any, err error)

	// StartExecution starts an execution attempt span. It becomes the root span
	// when no submission span is active.
	StartExecution(ctx context.Context, receiptID uint64) context.Context
	// EndExecution ends the execution span with its outcome.
	EndExecution(ctx context.Context, data *ExecutionData, err error)

	// AddEvent adds an event to the current span.
	AddEvent(ctx context.Context, kind string, data any)

	// Finish completes the trace and performs any final operations.
	Finish(ctx context.Context) error
}
