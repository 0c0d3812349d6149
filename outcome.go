package gelato

import (
	"github.com/m-mizutani/goerr/v2"
)

// ExecutionStatus is the outcome the execution engine reports for one attempt
// at executing a TaskReceipt.
type ExecutionStatus int

const (
	// ExecutionSucceeded means all conditions passed and all actions ran.
	ExecutionSucceeded ExecutionStatus = iota
	// ExecutionConditionNotMet means a condition did not return OK, or the
	// provider cannot pay for execution right now. Nothing changed and the
	// receipt stays executable.
	ExecutionConditionNotMet
	// ExecutionActionFailed means an action (or its terms check) failed and the
	// whole Task was rolled back. A failed terms check leaves the receipt
	// executable; a failed dispatch consumes it.
	ExecutionActionFailed
	// ExecutionExpired means the receipt was executed at or past its expiry date.
	ExecutionExpired
)

func (x ExecutionStatus) String() string {
	switch x {
	case ExecutionSucceeded:
		return "succeeded"
	case ExecutionConditionNotMet:
		return "condition_not_met"
	case ExecutionActionFailed:
		return "action_failed"
	case ExecutionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Reasons reported with failed outcomes.
const (
	ReasonConditionNotOk           = "ConditionNotOk"
	ReasonActionTermsNotOk         = "ActionTermsNotOk"
	ReasonActionReverted           = "ActionReverted"
	ReasonExecutionGasPriceTooHigh = "ExecutionGasPriceTooHigh"
	ReasonOutFlowMissing           = "OutFlowMissing"
	ReasonInvalidPlaceholder       = "InvalidPlaceholder"
	ReasonProviderIlliquid         = "ProviderIlliquidity"
)

// ExecutionResult is the outcome of one execution attempt. ConditionIndex and
// ActionIndex are -1 unless the failure points at a specific entry.
type ExecutionResult struct {
	ReceiptID      uint64          `json:"receipt_id"`
	Status         ExecutionStatus `json:"status"`
	ConditionIndex int             `json:"condition_index"`
	ActionIndex    int             `json:"action_index"`
	Reason         string          `json:"reason,omitempty"`

	// Next is the receipt the engine submitted as the following step of the
	// cycle. Nil when the cycle ended or execution did not succeed.
	Next *TaskReceipt `json:"next,omitempty"`

	// Terminal is true when no receipt of the cycle remains executable.
	Terminal bool `json:"terminal"`
}

// Err returns nil on success, otherwise a runtime error matching the taxonomy
// sentinels so callers can use errors.Is.
func (x *ExecutionResult) Err() error {
	eb := goerr.NewBuilder(
		goerr.V("receipt_id", x.ReceiptID),
		goerr.V("reason", x.Reason),
		goerr.Tag(TagRuntime),
	)

	switch x.Status {
	case ExecutionSucceeded:
		return nil
	case ExecutionConditionNotMet:
		return eb.Wrap(ErrConditionNotMet, "condition not met", goerr.V("condition_index", x.ConditionIndex))
	case ExecutionActionFailed:
		return eb.Wrap(ErrActionExecutionFailed, "action execution failed", goerr.V("action_index", x.ActionIndex))
	case ExecutionExpired:
		return eb.Wrap(ErrReceiptExpired, "task receipt expired")
	default:
		return eb.New("unknown execution status", goerr.V("status", int(x.Status)))
	}
}
