package chain

// StepContext is the per-settlement handle passed to step handlers. It
// suspends and releases the chain, injects priority steps, and bridges
// callback-shaped APIs. A context is live only while its settlement is open;
// every method on a stale context is a no-op.
type StepContext struct {
	chain *Chain

	// guarded by chain.mu
	suspended bool
	resumed   bool
	rejected  bool
	reason    error
	args      []any
}

// Suspend parks the chain after the current handler returns. The handler's
// eventual return value is discarded; the settlement completes through
// Resume or Reject. Idempotent.
func (sc *StepContext) Suspend() *StepContext {
	c := sc.chain
	c.mu.Lock()
	if c.active == sc && !sc.resumed && !sc.rejected {
		sc.suspended = true
	}
	c.mu.Unlock()
	return sc
}

// Pause is an alias for Suspend.
func (sc *StepContext) Pause() *StepContext {
	return sc.Suspend()
}

// Resume settles the step with vals as the next carried arguments. Inside
// the handler it pre-empts the return value; after a suspension it releases
// the chain and the drain continues on the caller's goroutine. Only the
// first Resume or Reject on a settlement wins.
func (sc *StepContext) Resume(vals ...any) {
	c := sc.chain
	c.mu.Lock()
	if c.active != sc || sc.resumed || sc.rejected {
		c.mu.Unlock()
		return
	}
	sc.resumed = true
	sc.args = vals
	if c.state == statePaused {
		c.active = nil
		c.args = vals
		c.shift(eventResume)
		c.debugLog("chain resumed", map[string]any{"argc": len(vals)})
		c.drainLoop()
		return
	}
	c.mu.Unlock()
}

// Next is an alias for Resume.
func (sc *StepContext) Next(vals ...any) {
	sc.Resume(vals...)
}

// Reject settles the step on the failure track. A nil reason becomes the
// generic rejection error. Subject to the same first-settlement-wins rule
// as Resume.
func (sc *StepContext) Reject(reason error) {
	c := sc.chain
	c.mu.Lock()
	if c.active != sc || sc.resumed || sc.rejected {
		c.mu.Unlock()
		return
	}
	sc.rejected = true
	if reason == nil {
		reason = cloneChainError(ErrRejected, "", nil, nil)
	}
	sc.reason = reason
	if c.state == statePaused {
		c.active = nil
		c.setErrorLocked(reason)
		c.args = nil
		c.shift(eventResume)
		c.drainLoop()
		return
	}
	c.mu.Unlock()
}

// Chain injects a priority step. Injected steps run before anything in the
// main queue, in injection order, starting with the very next settlement.
func (sc *StepContext) Chain(onValue StepFunc, onError CatchFunc) *StepContext {
	return sc.inject(&step{onValue: onValue, onError: onError})
}

// Fail injects a priority failure-only step.
func (sc *StepContext) Fail(onError CatchFunc) *StepContext {
	return sc.inject(&step{onError: onError})
}

func (sc *StepContext) inject(st *step) *StepContext {
	c := sc.chain
	c.mu.Lock()
	if c.active == sc {
		c.injected = append(c.injected, st)
	}
	c.mu.Unlock()
	return sc
}

// Callback suspends the chain and invokes fn with a node-style done
// callback: a non-nil error rejects the settlement, anything else resumes
// it with the forwarded values.
func (sc *StepContext) Callback(fn CallbackFunc, args ...any) *StepContext {
	sc.Suspend()
	fn(func(err error, vals ...any) {
		if err != nil {
			sc.Reject(err)
			return
		}
		sc.Resume(vals...)
	}, args...)
	return sc
}

// Direct is Callback for APIs whose completion callback carries no error.
func (sc *StepContext) Direct(fn DirectFunc, args ...any) *StepContext {
	sc.Suspend()
	fn(func(vals ...any) {
		sc.Resume(vals...)
	}, args...)
	return sc
}

// Call invokes fn synchronously and returns its result, for handlers that
// want the adapter shape without suspending.
func (sc *StepContext) Call(fn CallFunc, args ...any) (any, error) {
	if fn == nil {
		return nil, nil
	}
	return fn(args...)
}
