package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler runs a function under a retry policy: a bounded number of
// attempts, a delay strategy between them, and optional timeout/deadline
// caps on the whole run.
type Handler struct {
	mu sync.Mutex

	logger        Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy

	name           string
	runs           int
	successfulRuns int

	maxRuns    int
	maxRetries int
	timeout    time.Duration
	deadline   time.Time
	runOnce    bool
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		errorHandler: func(err error) {
			log.Printf("runner error: %v\n", err)
		},
		doneHandler: func(r *Handler) {
			log.Printf("runner done: %s\n", r.name)
		},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

func (h *Handler) Name() string {
	return h.name
}

// Runs returns how many complete runs (including failed ones) finished.
func (h *Handler) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

func (h *Handler) SuccessfulRuns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successfulRuns
}

// Run executes fn, retrying failures per the configured policy, and returns
// the final wrapped error once attempts are exhausted. Runs skipped by the
// run-once or max-runs guards return nil.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()

	if h.runOnce && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}

	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.mu.Unlock()
		return nil
	}

	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrap(ctxErr, errors.CategoryExternal, "context canceled or deadline exceeded").
				WithTextCode("RUNNER_CONTEXT_CANCELED").
				WithMetadata(map[string]any{
					"name":    h.name,
					"attempt": attempt,
				})
			break
		}

		attempts++
		err = fn(ctx)
		if err == nil {
			break
		}

		if attempt < maxRetries {
			decision := DecideRetry(strategy, attempt, err)
			h.handleError(errors.Wrap(err, errors.CategoryHandler,
				fmt.Sprintf("run failed, attempt %d of %d", attempt+1, maxRetries+1)).
				WithTextCode("RUNNER_ATTEMPT_FAILED").
				WithMetadata(map[string]any{
					"name":       h.name,
					"attempt":    attempt + 1,
					"will_retry": decision.ShouldRetry,
				}))

			if !decision.ShouldRetry {
				break
			}
			if decision.Delay > 0 {
				time.Sleep(decision.Delay)
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++

	if err == nil {
		h.successfulRuns++
		if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
			h.done()
		}
		return nil
	}

	final := errors.Wrap(err, errors.CategoryHandler,
		fmt.Sprintf("run failed after %d attempts", attempts)).
		WithTextCode("RUNNER_EXHAUSTED").
		WithMetadata(map[string]any{
			"name":     h.name,
			"attempts": attempts,
		})
	h.handleError(final)
	return final
}

func (h *Handler) handleError(err error) {
	h.logError("%v", err)
	h.errorHandler(err)
}

func (h *Handler) logError(format string, args ...any) {
	if h.logger != nil {
		h.logger.Error(format, args...)
	}
}

func (h *Handler) done() {
	h.doneHandler(h)
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}
