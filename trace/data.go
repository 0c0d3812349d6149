package trace

// SubmissionData holds data of a task cycle submission span. Addresses are hex strings.
type SubmissionData struct {
	UserProxy      string `json:"user_proxy"`
	Provider       string `json:"provider"`
	Module         string `json:"module"`
	Tasks          int    `json:"tasks"`
	ExpiryDate     uint64 `json:"expiry_date"`
	MaxRepetitions uint64 `json:"max_repetitions"`
	Key            string `json:"key,omitempty"`

	// Filled when the submission ends.
	ReceiptID uint64 `json:"receipt_id,omitempty"`
	CycleID   uint64 `json:"cycle_id,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Reused    bool   `json:"reused,omitempty"`
}

// EligibilityData holds the answers of the provider eligibility gate.
type EligibilityData struct {
	Provider       string   `json:"provider"`
	Gas            string   `json:"gas"`
	GasPrice       string   `json:"gas_price"`
	Liquid         bool     `json:"liquid"`
	Executor       string   `json:"executor,omitempty"`
	ModuleProvided bool     `json:"module_provided"`
	Reasons        []string `json:"reasons,omitempty"`
}

// EngineCallData holds data of a single execution engine round trip.
type EngineCallData struct {
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ExecutionData holds the outcome of one execution attempt of a receipt.
type ExecutionData struct {
	ReceiptID      uint64 `json:"receipt_id"`
	Status         string `json:"status"`
	ConditionIndex int    `json:"condition_index"`
	ActionIndex    int    `json:"action_index"`
	Reason         string `json:"reason,omitempty"`
	NextReceiptID  uint64 `json:"next_receipt_id,omitempty"`
	Terminal       bool   `json:"terminal"`
}

// EventData holds data specific to an event span.
// Kind is a string chosen by the emitter. Data is any JSON-serializable value.
type EventData struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}
