package chain

import "reflect"

// StepFunc handles the success slot of a step. args are the values carried
// from the previous settlement. sc is nil when the step was appended raw.
//
// The returned value drives the next settlement: nil carries zero arguments,
// an Args value expands to multiple arguments, a *Chain, Chainable, or
// Thenable parks the chain until the nested value settles, and anything else
// is carried as a single value. A non-nil error puts the chain in
// error-propagation mode.
type StepFunc func(sc *StepContext, args ...any) (any, error)

// CatchFunc handles the failure slot of a step. reason is the pending error,
// which is consumed by the invocation; returning a nil error recovers the
// chain, returning a non-nil one keeps it failing.
type CatchFunc func(sc *StepContext, reason error) (any, error)

// FinallyFunc handles both slots of a step appended via Finally. Exactly one
// of res.Values and res.Err is meaningful per settlement.
type FinallyFunc func(sc *StepContext, res Result) (any, error)

// Args marks a handler return as multiple carried arguments. Returning a
// plain slice carries it as a single value; use Spread to expand carried
// sequences instead.
type Args []any

// step is one queued (success, failure) handler pair. raw steps invoke
// handlers without an execution context; only combinator and interop glue
// appends them.
type step struct {
	onValue StepFunc
	onError CatchFunc
	raw     bool
}

// valueArgs translates a handler return into the carried argument list.
func valueArgs(out any) []any {
	switch v := out.(type) {
	case nil:
		return nil
	case Args:
		return []any(v)
	default:
		return []any{out}
	}
}

// isSequence reports whether v is expandable by Spread. Byte slices are
// treated as scalar data, not sequences.
func isSequence(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

func expandSequence(v any) []any {
	if vs, ok := v.([]any); ok {
		out := make([]any, len(vs))
		copy(out, vs)
		return out
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// spreadArgs applies the normalization rule shared by Spread steps: a single
// sequence argument expands to its elements, a single scalar stays a scalar,
// and multiple arguments already are the sequence to carry forward.
func spreadArgs(args []any) []any {
	if len(args) == 1 && isSequence(args[0]) {
		return expandSequence(args[0])
	}
	return args
}
