package chain

import (
	"context"

	apperrors "github.com/goliatone/go-errors"
)

// Result is a settled outcome: the carried value tuple on the success
// track, or the pending error on the failure track.
type Result struct {
	Values []any
	Err    error
}

// Failed reports whether the outcome sits on the failure track.
func (r Result) Failed() bool {
	return r.Err != nil
}

// First returns the first carried value, nil when the tuple is empty.
func (r Result) First() any {
	if len(r.Values) == 0 {
		return nil
	}
	return r.Values[0]
}

// Wait blocks until the chain settles past every step queued so far, then
// returns the carried values or the pending error. The observer re-carries
// the outcome, so the chain itself keeps flowing for later steps. Cancelling
// ctx abandons the wait without touching the chain.
func (c *Chain) Wait(ctx context.Context) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan Result, 1)
	c.Finally(func(_ *StepContext, res Result) (any, error) {
		select {
		case done <- res:
		default:
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return Args(res.Values), nil
	})

	select {
	case res := <-done:
		return res.Values, res.Err
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.CategoryExternal, "wait canceled").
			WithTextCode(ErrCodeWaitCanceled)
	}
}
