package chain

import "sync"

// Chain is a sequencing primitive: an ordered queue of steps settled one at
// a time, carrying forward either a value tuple or a pending error. Steps
// run synchronously during the drain unless one suspends the chain or
// returns a nested asynchronous value.
//
// All methods are safe for concurrent use.
type Chain struct {
	factory *Factory

	mu        sync.Mutex
	id        string
	steps     []*step
	injected  []*step
	args      []any
	err       error
	history   []error
	state     chainState
	immediate bool
	active    *StepContext
	nestedSeq uint64
}

func (c *Chain) fac() *Factory {
	if c.factory != nil {
		return c.factory
	}
	return Default
}

// ID returns the chain's debug identifier. Empty unless the owning factory
// runs in debug mode.
func (c *Chain) ID() string {
	return c.id
}

// Err returns the currently pending error, nil when none.
func (c *Chain) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// History returns a copy of every error that was ever pending on this
// chain, oldest first, including errors a failure handler later recovered.
func (c *Chain) History() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.history))
	copy(out, c.history)
	return out
}

// Paused reports whether the chain is currently suspended.
func (c *Chain) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == statePaused
}

func (c *Chain) append(st *step) {
	c.mu.Lock()
	c.steps = append(c.steps, st)
	queued := len(c.steps)
	c.mu.Unlock()
	c.debugLog("step queued", map[string]any{"queued": queued})
}

// Chain appends a step and triggers a drain. Either handler may be nil: a
// nil success handler is skipped on the value track, a nil failure handler
// keeps the error searching forward.
func (c *Chain) Chain(onValue StepFunc, onError CatchFunc) *Chain {
	c.append(&step{onValue: onValue, onError: onError})
	c.resolve()
	return c
}

// ChainRaw is Chain without the context argument: handlers receive a nil
// StepContext and therefore cannot suspend, resume, or inject. Completion
// observers use it to stay out of the settlement protocol.
func (c *Chain) ChainRaw(onValue StepFunc, onError CatchFunc) *Chain {
	c.append(&step{onValue: onValue, onError: onError, raw: true})
	c.resolve()
	return c
}

// Fail appends a failure-only step. Sugar for Chain(nil, onError).
func (c *Chain) Fail(onError CatchFunc) *Chain {
	return c.Chain(nil, onError)
}

// Error is an alias for Fail.
func (c *Chain) Error(onError CatchFunc) *Chain {
	return c.Fail(onError)
}

// Finally appends a step that observes the settled outcome on both tracks.
// The handler's return feeds the chain like any other step, and returning
// the carried error re-rejects.
func (c *Chain) Finally(fn FinallyFunc) *Chain {
	if fn == nil {
		return c
	}
	return c.Chain(
		func(sc *StepContext, args ...any) (any, error) {
			return fn(sc, Result{Values: args})
		},
		func(sc *StepContext, reason error) (any, error) {
			return fn(sc, Result{Err: reason})
		},
	)
}

// Then taps this chain's outcome at the current queue position and returns
// an independent, immediate, initially-suspended sibling chain that resumes
// once the tap fires. The tap observes without consuming: the carried values
// continue down the original unchanged, and on the failure track the
// original re-rejects with the same reason after the sibling resumes (with
// that reason as a value argument).
//
// The handlers run on the original chain's settlement; their return values
// are discarded, but a returned error propagates on the original and leaves
// the sibling suspended.
func (c *Chain) Then(onValue StepFunc, onError CatchFunc) *Chain {
	sib := c.fac().NewMode(ModeImmediatePaused)

	c.Chain(
		func(sc *StepContext, args ...any) (any, error) {
			if onValue != nil {
				if _, err := onValue(sc, args...); err != nil {
					return nil, err
				}
			}
			sib.Resume(args...)
			return Args(args), nil
		},
		func(sc *StepContext, reason error) (any, error) {
			if onError != nil {
				if _, err := onError(sc, reason); err != nil {
					return nil, err
				}
			}
			sib.Resume(reason)
			return nil, reason
		},
	)
	return sib
}

// Spread appends a step whose handler receives a carried sequence expanded
// into individual arguments. A single non-sequence value and multi-value
// tuples pass through unchanged.
func (c *Chain) Spread(onValue StepFunc, onError CatchFunc) *Chain {
	c.append(&step{raw: true, onValue: func(_ *StepContext, args ...any) (any, error) {
		return Args(spreadArgs(args)), nil
	}})
	return c.Chain(onValue, onError)
}

// Resolve re-triggers draining. Safe to call at any time; it is a no-op
// unless the chain is idle with queued work.
func (c *Chain) Resolve() *Chain {
	c.resolve()
	return c
}

// Resume releases a suspended chain. When a suspended settlement is still
// open it settles with vals; otherwise vals (when given) replace the carried
// arguments before the queue drains. Not paused means no-op.
func (c *Chain) Resume(vals ...any) *Chain {
	c.mu.Lock()
	if c.state != statePaused {
		c.mu.Unlock()
		return c
	}
	if sc := c.active; sc != nil {
		c.mu.Unlock()
		sc.Resume(vals...)
		return c
	}
	if len(vals) > 0 {
		c.args = vals
	}
	c.shift(eventResume)
	c.debugLog("chain resumed", map[string]any{"argc": len(vals)})
	c.drainLoop()
	return c
}

// Reject places the chain on the failure track. A suspended settlement is
// consumed and the drain restarts; an idle chain with queued steps starts
// draining in error mode; an idle empty chain records the error for the
// next appended failure handler.
func (c *Chain) Reject(reason error) *Chain {
	c.mu.Lock()
	if sc := c.active; sc != nil && c.state == statePaused {
		sc.rejected = true
		c.active = nil
	}
	c.setErrorLocked(reason)
	c.args = nil
	switch c.state {
	case statePaused:
		c.shift(eventResume)
		c.drainLoop()
		return c
	case stateIdle:
		if len(c.steps)+len(c.injected) > 0 {
			c.shift(eventTrigger)
			if c.immediate {
				c.drainLoop()
				return c
			}
			c.mu.Unlock()
			go c.deferredDrain()
			return c
		}
	}
	c.mu.Unlock()
	return c
}

// Callback appends a step that suspends the chain and hands control to fn
// through its done callback. With no explicit args the carried arguments
// are forwarded to fn.
func (c *Chain) Callback(fn CallbackFunc, args ...any) *Chain {
	return c.Chain(func(sc *StepContext, carried ...any) (any, error) {
		sc.Callback(fn, firstNonEmpty(args, carried)...)
		return nil, nil
	}, nil)
}

// Direct is Callback for callbacks without an error argument.
func (c *Chain) Direct(fn DirectFunc, args ...any) *Chain {
	return c.Chain(func(sc *StepContext, carried ...any) (any, error) {
		sc.Direct(fn, firstNonEmpty(args, carried)...)
		return nil, nil
	}, nil)
}

// Call appends a step that invokes fn synchronously and feeds its result
// into the chain. With no explicit args the carried arguments are used.
func (c *Chain) Call(fn CallFunc, args ...any) *Chain {
	return c.Chain(func(_ *StepContext, carried ...any) (any, error) {
		if fn == nil {
			return nil, nil
		}
		return fn(firstNonEmpty(args, carried)...)
	}, nil)
}

func firstNonEmpty(a, b []any) []any {
	if len(a) > 0 {
		return a
	}
	return b
}

func (c *Chain) debugLog(msg string, fields map[string]any) {
	f := c.fac()
	if !f.debug {
		return
	}
	base := map[string]any{"chain_id": c.id}
	withLoggerFields(f.logger, mergeFields(base, fields)).Debug(msg)
}
