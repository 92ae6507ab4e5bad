package chain

// Chainable is the completion surface a value needs for a chain to adopt it
// as a nested asynchronous result. *Chain satisfies it.
type Chainable interface {
	Chain(onValue StepFunc, onError CatchFunc) *Chain
}

// Thenable adapts foreign asynchronous values: anything that can call back
// with either a value tuple or an error. Observers attached through Then
// must fire at most once; later calls are ignored.
type Thenable interface {
	Then(resolved func(vals ...any), rejected func(err error))
}

// isChainAware reports whether v resolves asynchronously and must park the
// parent chain instead of being carried as a plain value.
func isChainAware(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case *Chain:
		return n != nil
	case Chainable, Thenable:
		return true
	}
	return false
}

// observe attaches completion observers to a chain-aware value. The
// observers ride the value's own queue without consuming its outcome: a
// nested chain keeps its value tuple after resolution, and a nested failure
// stays recorded in the nested chain's history even though the observer
// absorbs it. Observing a chain from one of its own steps never fires: the
// observer queues behind the step that is waiting on it. Returns false when
// v is not chain-aware.
func observe(v any, onResolved func(vals []any), onRejected func(reason error)) bool {
	switch n := v.(type) {
	case *Chain:
		if n == nil {
			return false
		}
		n.ChainRaw(observerStep(onResolved), observerCatch(onRejected))
	case Chainable:
		n.Chain(observerStep(onResolved), observerCatch(onRejected))
	case Thenable:
		n.Then(
			func(vals ...any) { onResolved(vals) },
			func(err error) {
				if err == nil {
					err = cloneChainError(ErrRejected, "", nil, nil)
				}
				onRejected(err)
			},
		)
	default:
		return false
	}
	return true
}

func observerStep(onResolved func([]any)) StepFunc {
	return func(_ *StepContext, vals ...any) (any, error) {
		onResolved(vals)
		return Args(vals), nil
	}
}

func observerCatch(onRejected func(error)) CatchFunc {
	return func(_ *StepContext, reason error) (any, error) {
		onRejected(reason)
		return nil, nil
	}
}
