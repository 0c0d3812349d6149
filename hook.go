package gelato

import "context"

type (
	EligibilityHook func(ctx context.Context, result *Eligibility) error
	SubmitHook      func(ctx context.Context, sub *CycleSubmission) error
	ReceiptHook     func(ctx context.Context, receipt *TaskReceipt) error
	RetryHook       func(ctx context.Context, attempt int, err error) error
)

func defaultEligibilityHook(ctx context.Context, result *Eligibility) error {
	return nil
}

func defaultSubmitHook(ctx context.Context, sub *CycleSubmission) error {
	return nil
}

func defaultReceiptHook(ctx context.Context, receipt *TaskReceipt) error {
	return nil
}

func defaultRetryHook(ctx context.Context, attempt int, err error) error {
	return nil
}
