package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	chain "github.com/goliatone/go-chain"
	"github.com/goliatone/go-chain/runner"
)

// Builder compiles definitions against a step registry into runnable
// pipelines. Handlers resolve at build time so misconfigured definitions
// fail before the first run.
type Builder struct {
	registry *StepRegistry
	metrics  *MetricsRegistry
	factory  *chain.Factory
	history  HistoryStore
	control  runner.ExecutionControl
	uid      chain.UID
	clock    func() time.Time
}

type BuilderOption func(*Builder)

// WithFactory sets the chain factory runs are built from.
func WithFactory(f *chain.Factory) BuilderOption {
	return func(b *Builder) {
		if f != nil {
			b.factory = f
		}
	}
}

// WithHistoryStore records run and step events to the given store.
func WithHistoryStore(hs HistoryStore) BuilderOption {
	return func(b *Builder) {
		b.history = hs
	}
}

// WithMetricsRegistry resolves definition metrics names against the registry.
func WithMetricsRegistry(reg *MetricsRegistry) BuilderOption {
	return func(b *Builder) {
		b.metrics = reg
	}
}

// WithExecutionControl gates every step on the control: runs block while
// paused and fail with the cancel cause once canceled.
func WithExecutionControl(ctrl runner.ExecutionControl) BuilderOption {
	return func(b *Builder) {
		if ctrl != nil {
			b.control = ctrl
		}
	}
}

// WithRunID overrides the run identifier source.
func WithRunID(uid chain.UID) BuilderOption {
	return func(b *Builder) {
		if uid != nil {
			b.uid = uid
		}
	}
}

// WithClock overrides the timestamp source for history records and metrics.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.clock = now
		}
	}
}

// NewBuilder creates a builder over the given registry.
func NewBuilder(registry *StepRegistry, opts ...BuilderOption) *Builder {
	b := &Builder{
		registry: registry,
		factory:  chain.Default,
		control:  runner.NoopControl(),
		uid:      chain.UUIDSource(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// boundStep is a definition step with its handlers resolved.
type boundStep struct {
	name    string
	catch   string
	run     chain.StepFunc
	onError chain.CatchFunc
	spread  bool
	retry   *RetryConfig
}

// Build resolves a definition into a Runner.
func (b *Builder) Build(def Definition) (*Runner, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	mode, err := chain.ParseMode(def.Mode)
	if err != nil {
		return nil, err
	}

	steps := make([]boundStep, 0, len(def.Steps))
	for idx, sc := range def.Steps {
		bs := boundStep{spread: sc.Spread, retry: sc.Retry}
		if name := strings.TrimSpace(sc.Handler); name != "" {
			fn, ok := b.registry.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("pipeline %s step[%d]: step handler %s not found", def.Name, idx, name)
			}
			bs.name = name
			bs.run = fn
		}
		if name := strings.TrimSpace(sc.OnError); name != "" {
			fn, ok := b.registry.LookupCatch(name)
			if !ok {
				return nil, fmt.Errorf("pipeline %s step[%d]: catch handler %s not found", def.Name, idx, name)
			}
			bs.catch = name
			bs.onError = fn
		}
		steps = append(steps, bs)
	}

	metrics := MetricsRecorder(noopRecorder{})
	if name := strings.TrimSpace(def.Metrics); name != "" {
		mr, ok := b.metrics.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("pipeline %s: metrics recorder %s not found", def.Name, name)
		}
		metrics = mr
	}

	factory := b.factory
	if def.Debug {
		factory = factory.With(chain.WithDebug(true))
	}

	return &Runner{
		name:        def.Name,
		description: def.Description,
		mode:        mode,
		steps:       steps,
		factory:     factory,
		history:     b.history,
		metrics:     metrics,
		control:     b.control,
		uid:         b.uid,
		clock:       b.clock,
	}, nil
}

// BuildSet resolves every pipeline in the set, folding set-wide defaults
// into each definition.
func (b *Builder) BuildSet(set Set) (map[string]*Runner, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	runners := make(map[string]*Runner, len(set.Pipelines))
	for _, def := range set.Pipelines {
		r, err := b.Build(mergeDefinition(set.Options, def))
		if err != nil {
			return nil, fmt.Errorf("build pipeline %s: %w", def.Name, err)
		}
		runners[def.Name] = r
	}
	return runners, nil
}

// Runner executes one pipeline definition with a fresh chain per invocation.
type Runner struct {
	name        string
	description string
	mode        chain.Mode
	steps       []boundStep
	factory     *chain.Factory
	history     HistoryStore
	metrics     MetricsRecorder
	control     runner.ExecutionControl
	uid         chain.UID
	clock       func() time.Time
}

func (r *Runner) Name() string        { return r.name }
func (r *Runner) Description() string { return r.description }

// Run seeds a fresh chain with args, attaches every configured step and
// blocks until the chain settles or ctx is done. Paused-mode pipelines are
// released once every step is queued, so a run always makes progress.
func (r *Runner) Run(ctx context.Context, args ...any) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := r.uid.Next()
	start := r.clock()
	r.record(ctx, Record{RunID: runID, Pipeline: r.name, Event: EventRunStarted})

	c := r.factory.NewMode(r.mode, args...)
	for _, bs := range r.steps {
		if bs.spread {
			c.Spread(r.wrapStep(ctx, runID, bs), r.wrapCatch(ctx, runID, bs))
		} else {
			c.Chain(r.wrapStep(ctx, runID, bs), r.wrapCatch(ctx, runID, bs))
		}
	}
	if pausedMode(r.mode) {
		c.Resume()
	}

	vals, err := c.Wait(ctx)
	r.metrics.RecordDuration("execution_time", r.clock().Sub(start))
	if err != nil {
		r.metrics.RecordError("execution_error")
		r.record(ctx, Record{RunID: runID, Pipeline: r.name, Event: EventRunFailed, Error: err.Error()})
		return nil, err
	}
	r.metrics.RecordSuccess("execution_success")
	r.record(ctx, Record{RunID: runID, Pipeline: r.name, Event: EventRunCompleted})
	return vals, nil
}

// wrapStep layers pause control, retry, metrics and history over the
// resolved handler. A nil handler stays nil so the slot skips.
func (r *Runner) wrapStep(ctx context.Context, runID string, bs boundStep) chain.StepFunc {
	if bs.run == nil {
		return nil
	}
	fn := bs.run
	if bs.retry != nil {
		fn = runner.Wrap(fn, retryOptions(bs.name, bs.retry)...)
	}
	return func(sc *chain.StepContext, args ...any) (any, error) {
		if err := r.control.WaitIfPaused(ctx); err != nil {
			r.recordStep(ctx, runID, bs.name, err)
			return nil, err
		}
		begin := r.clock()
		out, err := fn(sc, args...)
		r.metrics.RecordDuration(bs.name, r.clock().Sub(begin))
		r.recordStep(ctx, runID, bs.name, err)
		return out, err
	}
}

func (r *Runner) wrapCatch(ctx context.Context, runID string, bs boundStep) chain.CatchFunc {
	if bs.onError == nil {
		return nil
	}
	fn := bs.onError
	if bs.retry != nil {
		fn = runner.WrapCatch(fn, retryOptions(bs.catch, bs.retry)...)
	}
	return func(sc *chain.StepContext, reason error) (any, error) {
		if err := r.control.WaitIfPaused(ctx); err != nil {
			r.recordStep(ctx, runID, bs.catch, err)
			return nil, err
		}
		begin := r.clock()
		out, err := fn(sc, reason)
		r.metrics.RecordDuration(bs.catch, r.clock().Sub(begin))
		r.recordStep(ctx, runID, bs.catch, err)
		return out, err
	}
}

func (r *Runner) recordStep(ctx context.Context, runID, step string, err error) {
	rec := Record{RunID: runID, Pipeline: r.name, Step: step, Event: EventStepOK}
	if err != nil {
		rec.Event = EventStepFailed
		rec.Error = err.Error()
		r.metrics.RecordError(step)
	} else {
		r.metrics.RecordSuccess(step)
	}
	r.record(ctx, rec)
}

// record stamps and appends a history record. Store failures never fail the
// run; history is diagnostic.
func (r *Runner) record(ctx context.Context, rec Record) {
	if r.history == nil {
		return
	}
	rec.Timestamp = r.clock().UTC()
	_ = r.history.Append(ctx, rec)
}

func retryOptions(name string, cfg *RetryConfig) []runner.Option {
	opts := []runner.Option{
		runner.WithName(name),
		runner.WithMaxRetries(cfg.MaxRetries),
		runner.WithErrorHandler(func(error) {}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, runner.WithTimeout(cfg.Timeout))
	}
	if cfg.BackoffBase > 0 {
		factor := cfg.BackoffFactor
		if factor <= 0 {
			factor = 2
		}
		opts = append(opts, runner.WithRetryStrategy(&runner.ExponentialBackoffStrategy{
			Base:   cfg.BackoffBase,
			Factor: factor,
			Max:    cfg.MaxDelay,
		}))
	}
	return opts
}

func pausedMode(m chain.Mode) bool {
	switch m {
	case chain.ModePaused, chain.ModeDeferredPaused, chain.ModeImmediatePaused:
		return true
	default:
		return false
	}
}
