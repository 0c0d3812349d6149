package gelato

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidConditionSpec is returned when a Condition is constructed with a missing instance address or payload.
	ErrInvalidConditionSpec = errors.New("invalid condition spec")

	// ErrInvalidActionSpec is returned when an Action is constructed with a missing target, an empty payload or an unknown call mode / data flow.
	ErrInvalidActionSpec = errors.New("invalid action spec")

	// ErrInvalidTaskSpec is returned when a Task has no actions or carries invalid gas overrides.
	ErrInvalidTaskSpec = errors.New("invalid task spec")

	// ErrInvalidProvider is returned when a Provider is missing its funder or module address.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidCycle is returned when a Task Cycle has no tasks or a zero repetition budget.
	ErrInvalidCycle = errors.New("invalid task cycle")

	// ErrInvalidReceipt is returned when a TaskReceipt (or its wire array) is malformed.
	ErrInvalidReceipt = errors.New("invalid task receipt")

	// ErrNestingTooDeep is returned when nested task submissions exceed MaxNestingDepth.
	ErrNestingTooDeep = errors.New("task nesting too deep")

	// ErrDataFlowChainBroken is returned when an action consumes in-flow data without a producing predecessor.
	ErrDataFlowChainBroken = errors.New("data flow chain broken")

	// ErrUnknownInterfaceOrFunction is returned when an (interface, function) pair cannot be resolved.
	ErrUnknownInterfaceOrFunction = errors.New("unknown interface or function")

	// ErrArgumentMismatch is returned when encoding arguments do not match the declared parameters.
	ErrArgumentMismatch = errors.New("argument arity or type mismatch")

	// ErrInvalidPlaceholder is returned when an in-flow action does not hold the zero placeholder in its data flow slot.
	ErrInvalidPlaceholder = errors.New("invalid data flow placeholder")

	// ErrProviderNotEligible is returned by the eligibility gate before anything is submitted.
	ErrProviderNotEligible = errors.New("provider not eligible")

	// ErrConditionNotMet is the runtime outcome of a failing condition reported by the execution engine.
	ErrConditionNotMet = errors.New("condition not met")

	// ErrActionExecutionFailed is the runtime outcome of a failing action reported by the execution engine.
	ErrActionExecutionFailed = errors.New("action execution failed")

	// ErrReceiptExpired is the runtime outcome of executing a receipt past its expiry date.
	ErrReceiptExpired = errors.New("task receipt expired")

	// ErrReceiptNotFound is returned by engines when a receipt id is unknown.
	ErrReceiptNotFound = errors.New("task receipt not found")

	// ErrSubmission wraps failures of the final submit round trip.
	ErrSubmission = errors.New("task cycle submission failed")
)

var (
	// TagConstruction marks local errors raised while building Conditions, Actions, Tasks and cycles.
	TagConstruction = goerr.NewTag("construction")

	// TagEncoding marks local errors raised by the encoding helper.
	TagEncoding = goerr.NewTag("encoding")

	// TagEligibility marks errors of the provider eligibility gate.
	TagEligibility = goerr.NewTag("eligibility")

	// TagRuntime marks outcomes reported by the execution engine.
	TagRuntime = goerr.NewTag("runtime")

	// TagTransient marks network or engine errors that may succeed when retried.
	TagTransient = goerr.NewTag("transient")

	// TagNoSideEffect marks engine errors for which the engine guarantees nothing was recorded.
	TagNoSideEffect = goerr.NewTag("no_side_effect")
)

// IsLocalError reports whether err was raised locally (construction, encoding, chain validation or eligibility) and therefore never reached the network.
func IsLocalError(err error) bool {
	return goerr.HasTag(err, TagConstruction) ||
		goerr.HasTag(err, TagEncoding) ||
		goerr.HasTag(err, TagEligibility)
}

// IsRetryable reports whether err is a transient submission error.
func IsRetryable(err error) bool {
	return goerr.HasTag(err, TagTransient)
}
