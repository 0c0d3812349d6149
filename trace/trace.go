package trace

import (
	"time"
)

// SpanKind represents the type of a span.
type SpanKind string

const (
	SpanKindSubmission  SpanKind = "submission"
	SpanKindEligibility SpanKind = "eligibility"
	SpanKindEngineCall  SpanKind = "engine_call"
	SpanKindExecution   SpanKind = "execution"
	SpanKindEvent       SpanKind = "event"
)

// SpanStatus represents the status of a span.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Trace represents the root tracing data for one task cycle submission or execution.
type Trace struct {
	TraceID   string        `json:"trace_id"`
	RootSpan  *Span         `json:"root_span"`
	Metadata  TraceMetadata `json:"metadata"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// TraceMetadata holds metadata for a trace.
type TraceMetadata struct {
	Network string            `json:"network,omitempty"`
	ChainID uint64            `json:"chain_id,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Span represents a single unit of operation in the trace hierarchy.
type Span struct {
	SpanID    string        `json:"span_id"`
	ParentID  string        `json:"parent_id,omitempty"`
	Kind      SpanKind      `json:"kind"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	Status    SpanStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
	Children  []*Span       `json:"children,omitempty"`

	// Kind-specific data (only one is non-nil based on Kind)
	Submission  *SubmissionData  `json:"submission,omitempty"`
	Eligibility *EligibilityData `json:"eligibility,omitempty"`
	EngineCall  *EngineCallData  `json:"engine_call,omitempty"`
	Execution   *ExecutionData   `json:"execution,omitempty"`
	Event       *EventData       `json:"event,omitempty"`
}
