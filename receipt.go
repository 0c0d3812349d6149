package gelato

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// TaskReceipt is the identity and snapshot the execution engine assigns to one
// submitted Task of a cycle. Engines create receipts; clients only read them.
type TaskReceipt struct {
	ID        uint64         `json:"id"`
	UserProxy common.Address `json:"userProxy"`
	Provider  Provider       `json:"provider"`
	// Index of the current Task within Tasks.
	Index      uint64 `json:"index"`
	Tasks      []Task `json:"tasks"`
	ExpiryDate uint64 `json:"expiryDate"`
	CycleID    uint64 `json:"cycleId"`
	// SubmissionsLeft counts this receipt and every resubmission still allowed.
	SubmissionsLeft uint64 `json:"submissionsLeft"`
}

func (r *TaskReceipt) Validate() error {
	eb := goerr.NewBuilder(goerr.V("receipt_id", r.ID), goerr.Tag(TagConstruction))

	if r.UserProxy == (common.Address{}) {
		return eb.Wrap(ErrInvalidReceipt, "user proxy is required")
	}
	if err := r.Provider.Validate(); err != nil {
		return eb.Wrap(err, "invalid receipt provider")
	}
	if len(r.Tasks) == 0 {
		return eb.Wrap(ErrInvalidReceipt, "receipt requires at least one task")
	}
	if r.Index >= uint64(len(r.Tasks)) {
		return eb.Wrap(ErrInvalidReceipt, "index out of range", goerr.V("index", r.Index), goerr.V("tasks", len(r.Tasks)))
	}
	if r.SubmissionsLeft == 0 {
		return eb.Wrap(ErrInvalidReceipt, "submissions left must be positive")
	}
	for i, t := range r.Tasks {
		if err := t.Validate(); err != nil {
			return eb.Wrap(err, "invalid receipt task", goerr.V("task_index", i))
		}
	}
	return nil
}

// Task returns the Task this receipt makes executable.
func (r *TaskReceipt) Task() Task {
	return r.Tasks[r.Index]
}

// Expired reports whether now is at or past the expiry date. A zero expiry date never expires.
func (r *TaskReceipt) Expired(now time.Time) bool {
	if r.ExpiryDate == 0 {
		return false
	}
	return uint64(now.Unix()) >= r.ExpiryDate
}

// Terminal reports whether executing this receipt ends its cycle.
func (r *TaskReceipt) Terminal(now time.Time) bool {
	return r.SubmissionsLeft <= 1 || r.Expired(now)
}

// Next returns the receipt template of the following submission of the cycle,
// or false when the cycle ends with this receipt. The engine assigns the ID of
// the returned receipt.
func (r *TaskReceipt) Next(now time.Time) (*TaskReceipt, bool) {
	if r.Terminal(now) {
		return nil, false
	}
	next := r.Clone()
	next.ID = 0
	next.Index = (r.Index + 1) % uint64(len(r.Tasks))
	next.SubmissionsLeft = r.SubmissionsLeft - 1
	return next, true
}

func (r *TaskReceipt) Clone() *TaskReceipt {
	c := *r
	c.Tasks = append([]Task(nil), r.Tasks...)
	return &c
}

func (r *TaskReceipt) Equal(other *TaskReceipt) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.ID != other.ID || r.UserProxy != other.UserProxy || r.Provider != other.Provider ||
		r.Index != other.Index || r.ExpiryDate != other.ExpiryDate ||
		r.CycleID != other.CycleID || r.SubmissionsLeft != other.SubmissionsLeft ||
		len(r.Tasks) != len(other.Tasks) {
		return false
	}
	for i := range r.Tasks {
		if !r.Tasks[i].Equal(other.Tasks[i]) {
			return false
		}
	}
	return true
}
