package gelato

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
)

// engineCall runs one round trip to the execution engine under timeout and
// records it as an engine call span. Deadline errors of the round trip are
// tagged transient.
func engineCall[T any](ctx context.Context, timeout time.Duration, method string, args map[string]any, fn func(ctx context.Context) (T, error)) (T, error) {
	if h := trace.HandlerFrom(ctx); h != nil {
		ctx = h.StartEngineCall(ctx, method, args)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	LoggerFromContext(ctx).Debug("calling execution engine", "method", method, "args", args)
	resp, err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !IsRetryable(err) {
		err = goerr.Wrap(err, "execution engine call timed out",
			goerr.V("method", method),
			goerr.V("timeout", timeout.String()),
			goerr.Tag(TagTransient),
		)
	}

	if h := trace.HandlerFrom(ctx); h != nil {
		var result map[string]any
		if err == nil {
			result = map[string]any{"result": resp}
		}
		h.EndEngineCall(ctx, result, err)
	}
	return resp, err
}
