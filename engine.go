package chain

// chainState is the engine's lifecycle state. A chain is Idle between
// drains, Draining while the loop owns the queue, Paused after a suspension
// (or when constructed paused), and AwaitingNested while parked on a nested
// asynchronous value.
type chainState uint8

const (
	stateIdle chainState = iota
	stateDraining
	statePaused
	stateAwaitingNested
)

func (s chainState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDraining:
		return "draining"
	case statePaused:
		return "paused"
	case stateAwaitingNested:
		return "awaiting_nested"
	default:
		return "unknown"
	}
}

// event is an engine transition trigger.
type event uint8

const (
	eventTrigger event = iota
	eventStepCompleted
	eventQueueEmpty
	eventSuspend
	eventResume
	eventAwaitNested
	eventNestedSettled
)

func (e event) String() string {
	switch e {
	case eventTrigger:
		return "trigger"
	case eventStepCompleted:
		return "step_completed"
	case eventQueueEmpty:
		return "queue_empty"
	case eventSuspend:
		return "suspend"
	case eventResume:
		return "resume"
	case eventAwaitNested:
		return "await_nested"
	case eventNestedSettled:
		return "nested_settled"
	default:
		return "unknown"
	}
}

// transition is the engine's transition table. Any (state, event) pair not
// listed here is illegal and leaves the state untouched.
func transition(from chainState, ev event) (chainState, bool) {
	switch {
	case from == stateIdle && ev == eventTrigger:
		return stateDraining, true
	case from == stateDraining && ev == eventStepCompleted:
		return stateDraining, true
	case from == stateDraining && ev == eventQueueEmpty:
		return stateIdle, true
	case from == stateDraining && ev == eventSuspend:
		return statePaused, true
	case from == stateDraining && ev == eventAwaitNested:
		return stateAwaitingNested, true
	case from == statePaused && ev == eventResume:
		return stateDraining, true
	case from == stateAwaitingNested && ev == eventNestedSettled:
		return stateDraining, true
	}
	return from, false
}

// shift applies one transition. Callers hold c.mu.
func (c *Chain) shift(ev event) bool {
	next, ok := transition(c.state, ev)
	if !ok {
		return false
	}
	if next != c.state {
		c.debugLog("state changed", map[string]any{"from": c.state.String(), "to": next.String(), "event": ev.String()})
	}
	c.state = next
	return true
}

// resolve starts a drain when the chain is idle and work is queued. Paused
// and already-draining chains ignore the trigger; resuming or settling
// re-enters the loop on its own.
func (c *Chain) resolve() {
	c.mu.Lock()
	if c.state != stateIdle || len(c.steps)+len(c.injected) == 0 {
		c.mu.Unlock()
		return
	}
	c.shift(eventTrigger)
	if c.immediate {
		c.drainLoop()
		return
	}
	c.mu.Unlock()
	go c.deferredDrain()
}

// deferredDrain is the scheduling tick for deferred chains. Once the tick
// fires, the chain's own flag resets to the factory default for the rest of
// the drain.
func (c *Chain) deferredDrain() {
	c.mu.Lock()
	c.immediate = c.fac().immediateDefault()
	c.drainLoop()
}

// drainLoop pops and settles steps until the queue empties, the chain
// suspends, or a nested value parks it. Entered with c.mu held and the state
// at Draining; returns with c.mu released.
//
// Merge rule: the injection buffer always moves to the front of the main
// queue, in injection order, before the next pop.
func (c *Chain) drainLoop() {
	for {
		if len(c.injected) > 0 {
			merged := make([]*step, 0, len(c.injected)+len(c.steps))
			merged = append(merged, c.injected...)
			merged = append(merged, c.steps...)
			c.steps = merged
			c.injected = nil
		}

		if len(c.steps) == 0 {
			c.shift(eventQueueEmpty)
			latent := c.err
			c.mu.Unlock()
			if latent != nil {
				c.debugLog("drain idle with pending error", map[string]any{"error": latent})
				c.fac().notifyLatent(c, latent)
			}
			return
		}

		st := c.steps[0]
		c.steps[0] = nil
		c.steps = c.steps[1:]

		failing := c.err != nil
		if failing && st.onError == nil {
			// error search continues into the next step, same arguments
			continue
		}
		if !failing && st.onValue == nil {
			// transparent skip, same arguments
			continue
		}

		sc := &StepContext{chain: c}
		c.active = sc
		args := c.args
		reason := c.err
		if failing {
			// the handler consumes the error; history already holds it
			c.err = nil
		}
		raw := st.raw
		c.mu.Unlock()

		out, err := invokeStep(st, sc, raw, failing, reason, args)

		c.mu.Lock()
		switch {
		case sc.rejected:
			c.active = nil
			c.setErrorLocked(sc.reason)
			c.args = nil
			c.shift(eventStepCompleted)
		case sc.resumed:
			// an explicit resume fixes the settlement outcome; the handler's
			// own return is discarded
			c.active = nil
			c.args = sc.args
			c.shift(eventStepCompleted)
		case sc.suspended:
			c.shift(eventSuspend)
			c.mu.Unlock()
			return
		case err != nil:
			c.active = nil
			c.setErrorLocked(err)
			c.args = nil
			c.shift(eventStepCompleted)
		default:
			c.active = nil
			if isChainAware(out) {
				c.shift(eventAwaitNested)
				c.nestedSeq++
				seq := c.nestedSeq
				c.mu.Unlock()
				observe(out,
					func(vals []any) { c.nestedResolved(seq, vals) },
					func(reason error) { c.nestedRejected(seq, reason) },
				)
				return
			}
			c.args = valueArgs(out)
			c.shift(eventStepCompleted)
		}
	}
}

// invokeStep runs one handler outside the chain lock, recovering panics into
// the pending-error shape.
func invokeStep(st *step, sc *StepContext, raw, failing bool, reason error, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = capturePanic(r)
		}
	}()

	ctx := sc
	if raw {
		ctx = nil
	}
	if failing {
		return st.onError(ctx, reason)
	}
	return st.onValue(ctx, args...)
}

// nestedResolved continues the loop with the nested value's delivered
// arguments. Stale settlements (superseded seq) are ignored, which keeps
// double-settling thenables harmless.
func (c *Chain) nestedResolved(seq uint64, vals []any) {
	c.mu.Lock()
	if c.state != stateAwaitingNested || seq != c.nestedSeq {
		c.mu.Unlock()
		return
	}
	c.shift(eventNestedSettled)
	c.args = vals
	c.drainLoop()
}

// nestedRejected sets the pending error and continues the loop; no
// suspension happens on the failure path.
func (c *Chain) nestedRejected(seq uint64, reason error) {
	c.mu.Lock()
	if c.state != stateAwaitingNested || seq != c.nestedSeq {
		c.mu.Unlock()
		return
	}
	c.shift(eventNestedSettled)
	c.setErrorLocked(reason)
	c.args = nil
	c.drainLoop()
}

// setErrorLocked records a new pending error. Every error that ever becomes
// pending lands in the history, recovered or not.
func (c *Chain) setErrorLocked(reason error) {
	if reason == nil {
		reason = cloneChainError(ErrRejected, "", nil, nil)
	}
	c.err = reason
	c.history = append(c.history, reason)
	c.debugLog("error pending", map[string]any{"error": reason, "code": chainErrorCode(reason)})
}
