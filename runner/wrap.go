package runner

import (
	"context"

	chain "github.com/goliatone/go-chain"
)

// Wrap adapts a step handler to run under h's retry policy. The context
// gates retries and carries the handler's timeout and deadline settings;
// the step itself still settles through the chain as usual, so a suspension
// inside fn behaves exactly as it would unwrapped.
func (h *Handler) Wrap(ctx context.Context, fn chain.StepFunc) chain.StepFunc {
	if fn == nil {
		return nil
	}
	return func(sc *chain.StepContext, args ...any) (any, error) {
		var out any
		err := h.Run(ctx, func(context.Context) error {
			var ferr error
			out, ferr = fn(sc, args...)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// WrapCatch adapts a failure handler the same way Wrap adapts a success
// handler.
func (h *Handler) WrapCatch(ctx context.Context, fn chain.CatchFunc) chain.CatchFunc {
	if fn == nil {
		return nil
	}
	return func(sc *chain.StepContext, reason error) (any, error) {
		var out any
		err := h.Run(ctx, func(context.Context) error {
			var ferr error
			out, ferr = fn(sc, reason)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Wrap builds a one-off retrying step handler.
func Wrap(fn chain.StepFunc, opts ...Option) chain.StepFunc {
	return NewHandler(opts...).Wrap(context.Background(), fn)
}

// WrapCatch builds a one-off retrying failure handler.
func WrapCatch(fn chain.CatchFunc, opts ...Option) chain.CatchFunc {
	return NewHandler(opts...).WrapCatch(context.Background(), fn)
}
