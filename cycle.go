package gelato

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// TaskCycle wraps Tasks with an expiry and a repetition budget. Every Task of
// the cycle is submitted MaxRepetitions times at most, in order, wrapping
// around. A zero ExpiryDate never expires.
type TaskCycle struct {
	Tasks          []Task
	ExpiryDate     uint64
	MaxRepetitions uint64
}

func NewTaskCycle(tasks []Task, expiryDate, maxRepetitions uint64) (*TaskCycle, error) {
	c := &TaskCycle{
		Tasks:          append([]Task(nil), tasks...),
		ExpiryDate:     expiryDate,
		MaxRepetitions: maxRepetitions,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *TaskCycle) Validate() error {
	if len(c.Tasks) == 0 {
		return goerr.Wrap(ErrInvalidCycle, "cycle requires at least one task", goerr.Tag(TagConstruction))
	}
	if c.MaxRepetitions < 1 {
		return goerr.Wrap(ErrInvalidCycle, "max repetitions must be at least 1", goerr.Tag(TagConstruction))
	}
	for i, t := range c.Tasks {
		if err := t.Validate(); err != nil {
			return goerr.Wrap(err, "invalid cycle task", goerr.V("task_index", i))
		}
	}
	return nil
}

// SubmissionBudget is the total number of receipts the cycle may produce.
func (c *TaskCycle) SubmissionBudget() uint64 {
	return uint64(len(c.Tasks)) * c.MaxRepetitions
}

// Expired reports whether the cycle can no longer be submitted at now.
func (c *TaskCycle) Expired(now time.Time) bool {
	return c.ExpiryDate != 0 && uint64(now.Unix()) >= c.ExpiryDate
}

// FirstReceipt is the template of the receipt an engine creates on submission.
// ID and CycleID are left for the engine to assign.
func (c *TaskCycle) FirstReceipt(userProxy common.Address, provider Provider) *TaskReceipt {
	return &TaskReceipt{
		UserProxy:       userProxy,
		Provider:        provider,
		Index:           0,
		Tasks:           append([]Task(nil), c.Tasks...),
		ExpiryDate:      c.ExpiryDate,
		SubmissionsLeft: c.SubmissionBudget(),
	}
}
