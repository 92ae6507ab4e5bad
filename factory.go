package chain

// LatentErrorHook observes errors that were still pending when a chain
// drained empty. The chain keeps the error for a later failure handler; the
// hook is purely observational.
type LatentErrorHook func(c *Chain, err error)

// Factory builds chains with a shared configuration: scheduling default,
// debug identifiers and logging, and the latent error hook. The zero
// configuration defers first drains and stays silent.
type Factory struct {
	mode   Mode
	debug  bool
	logger Logger
	uid    UID
	latent LatentErrorHook
}

type Option func(*Factory)

// WithMode sets the scheduling default applied when a chain is built with
// ModeDefault or ModePaused.
func WithMode(mode Mode) Option {
	return func(f *Factory) {
		f.mode = mode
	}
}

// WithDebug assigns IDs to new chains and emits engine debug logs.
func WithDebug(debug bool) Option {
	return func(f *Factory) {
		f.debug = debug
	}
}

func WithLogger(logger Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithUID overrides the debug identifier source.
func WithUID(uid UID) Option {
	return func(f *Factory) {
		f.uid = uid
	}
}

func WithLatentErrorHook(hook LatentErrorHook) Option {
	return func(f *Factory) {
		f.latent = hook
	}
}

func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		mode: ModeDeferred,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = normalizeLogger(f.logger)
	if f.uid == nil {
		f.uid = UUIDSource()
	}
	return f
}

// With derives a factory that shares this one's configuration with the
// given options applied on top.
func (f *Factory) With(opts ...Option) *Factory {
	if f == nil {
		return NewFactory(opts...)
	}
	derived := *f
	for _, opt := range opts {
		if opt != nil {
			opt(&derived)
		}
	}
	derived.logger = normalizeLogger(derived.logger)
	if derived.uid == nil {
		derived.uid = UUIDSource()
	}
	return &derived
}

func (f *Factory) immediateDefault() bool {
	return ModeDefault.immediateIn(f.mode)
}

func (f *Factory) notifyLatent(c *Chain, err error) {
	if f.latent != nil {
		f.latent(c, err)
	}
}

// NewMode builds a chain with an explicit mode. Initial vals become the
// carried arguments for the first step.
func (f *Factory) NewMode(mode Mode, vals ...any) *Chain {
	c := &Chain{
		factory:   f,
		immediate: mode.immediateIn(f.mode),
	}
	if len(vals) > 0 {
		c.args = append([]any(nil), vals...)
	}
	if mode.paused() {
		c.state = statePaused
	}
	if f.debug {
		c.id = f.uid.Next()
		c.debugLog("chain created", map[string]any{
			"mode":      mode.String(),
			"immediate": c.immediate,
			"argc":      len(vals),
		})
	}
	return c
}

// New builds a chain with the factory's scheduling default.
func (f *Factory) New(vals ...any) *Chain {
	return f.NewMode(ModeDefault, vals...)
}

// Now builds an immediate chain: steps drain synchronously as appended.
func (f *Factory) Now(vals ...any) *Chain {
	return f.NewMode(ModeImmediate, vals...)
}

// Tick builds a deferred chain: the first drain happens on a later
// scheduling tick, so steps appended in the current call all queue first.
func (f *Factory) Tick(vals ...any) *Chain {
	return f.NewMode(ModeDeferred, vals...)
}

// Failed builds a chain already on the failure track. A nil reason becomes
// the generic rejection error.
func (f *Factory) Failed(reason error) *Chain {
	c := f.NewMode(ModeDefault)
	c.mu.Lock()
	c.setErrorLocked(reason)
	c.mu.Unlock()
	return c
}

// Callback builds a paused chain released by fn's done callback: an error
// rejects it, values resume it.
func (f *Factory) Callback(fn CallbackFunc, args ...any) *Chain {
	c := f.NewMode(ModePaused)
	fn(c.settleOnce(), args...)
	return c
}

// Direct is Callback for callbacks without an error argument.
func (f *Factory) Direct(fn DirectFunc, args ...any) *Chain {
	c := f.NewMode(ModePaused)
	settle := c.settleOnce()
	fn(func(vals ...any) {
		settle(nil, vals...)
	}, args...)
	return c
}

// Default is the factory behind the package-level constructors. Programs
// that need their own scheduling default, debug logging, or latent hook
// build a Factory instead of mutating this one.
var Default = NewFactory()

// New builds a chain from the default factory.
func New(vals ...any) *Chain {
	return Default.New(vals...)
}

// NewMode builds a chain from the default factory with an explicit mode.
func NewMode(mode Mode, vals ...any) *Chain {
	return Default.NewMode(mode, vals...)
}

// Now builds an immediate chain from the default factory.
func Now(vals ...any) *Chain {
	return Default.Now(vals...)
}

// Tick builds a deferred chain from the default factory.
func Tick(vals ...any) *Chain {
	return Default.Tick(vals...)
}

// Failed builds an already-failed chain from the default factory.
func Failed(reason error) *Chain {
	return Default.Failed(reason)
}

// All joins values through the default factory.
func All(values ...any) *Chain {
	return Default.All(values...)
}

// Each maps and joins values through the default factory.
func Each(values []any, worker EachFunc) *Chain {
	return Default.Each(values, worker)
}

// Callback bridges a node-style callback API through the default factory.
func Callback(fn CallbackFunc, args ...any) *Chain {
	return Default.Callback(fn, args...)
}

// Direct bridges an error-less callback API through the default factory.
func Direct(fn DirectFunc, args ...any) *Chain {
	return Default.Direct(fn, args...)
}
