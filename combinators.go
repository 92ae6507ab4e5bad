package chain

import "sync"

// EachFunc maps one input of Each to a plain value, a chain, or any other
// chain-aware value.
type EachFunc func(value any, index int) any

// All joins plain values and chain-aware values into one output chain. The
// output resolves with a single []any argument holding every result at its
// input index once all entries settle, or rejects with the first error once
// every entry has settled. Entries that delivered no value record nil, and
// multi-value tuples record a []any.
//
// An empty input resolves immediately with an empty slice.
func (f *Factory) All(values ...any) *Chain {
	out := f.NewMode(ModePaused)
	if len(values) == 0 {
		out.Resume([]any{})
		return out
	}

	j := &join{
		out:       out,
		results:   make([]any, len(values)),
		errs:      make([]error, len(values)),
		settled:   make([]bool, len(values)),
		remaining: len(values),
	}
	for i, v := range values {
		ok := observe(v,
			func(vals []any) { j.succeed(i, vals) },
			func(reason error) { j.fail(i, reason) },
		)
		if !ok {
			j.succeed(i, []any{v})
		}
	}
	return out
}

// Each maps every value through worker, then joins the mapped results with
// All. The mapping is eager: all workers run before any settlement is
// awaited.
func (f *Factory) Each(values []any, worker EachFunc) *Chain {
	if worker == nil {
		return f.All(values...)
	}
	mapped := make([]any, len(values))
	for i, v := range values {
		mapped[i] = worker(v, i)
	}
	return f.All(mapped...)
}

// join accumulates per-index results for All. Settlements may arrive from
// any goroutine; each index settles at most once.
type join struct {
	mu        sync.Mutex
	out       *Chain
	results   []any
	errs      []error
	firstErr  error
	failed    int
	remaining int
	settled   []bool
}

func (j *join) succeed(i int, vals []any) {
	j.mu.Lock()
	if j.settled[i] {
		j.mu.Unlock()
		return
	}
	j.settled[i] = true
	switch len(vals) {
	case 0:
		j.results[i] = nil
	case 1:
		j.results[i] = vals[0]
	default:
		j.results[i] = append([]any(nil), vals...)
	}
	j.remaining--
	done := j.remaining == 0
	j.mu.Unlock()
	if done {
		j.finish()
	}
}

func (j *join) fail(i int, reason error) {
	j.mu.Lock()
	if j.settled[i] {
		j.mu.Unlock()
		return
	}
	j.settled[i] = true
	j.errs[i] = reason
	if j.firstErr == nil {
		j.firstErr = reason
	}
	j.failed++
	j.remaining--
	done := j.remaining == 0
	j.mu.Unlock()
	if done {
		j.finish()
	}
}

func (j *join) finish() {
	j.mu.Lock()
	results := j.results
	errs := j.errs
	first := j.firstErr
	failed := j.failed
	j.mu.Unlock()

	if failed == 0 {
		j.out.Resume(results)
		return
	}
	j.out.Reject(joinError(first, errs, failed))
}

// joinError wraps the first failure with the full per-index error picture;
// JoinErrors recovers the slice.
func joinError(first error, errs []error, failed int) error {
	return cloneChainError(ErrJoinFailed, "", first, map[string]any{
		"errors":        errs,
		"failed_count":  failed,
		"total_entries": len(errs),
	})
}
