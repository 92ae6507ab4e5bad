package pipeline

import (
	"fmt"
	"strings"

	chain "github.com/goliatone/go-chain"
)

// defaultNamespace concatenates namespace and name using ::, trimming whitespace.
func defaultNamespace(namespace, name string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(name)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}

// StepRegistry stores named step and catch handlers for definition lookups.
type StepRegistry struct {
	steps      map[string]chain.StepFunc
	catches    map[string]chain.CatchFunc
	namespacer func(string, string) string
}

// NewStepRegistry creates an empty registry.
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps:      make(map[string]chain.StepFunc),
		catches:    make(map[string]chain.CatchFunc),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how names are namespaced.
func (r *StepRegistry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// Register stores a step handler by name.
func (r *StepRegistry) Register(name string, fn chain.StepFunc) error {
	return r.RegisterNamespaced("", name, fn)
}

// RegisterNamespaced stores a step handler using a namespace + name.
func (r *StepRegistry) RegisterNamespaced(namespace, name string, fn chain.StepFunc) error {
	if name == "" || fn == nil {
		return nil
	}
	if r.steps == nil {
		r.steps = make(map[string]chain.StepFunc)
	}
	key := r.key(namespace, name)
	if _, exists := r.steps[key]; exists {
		return fmt.Errorf("step handler %s already registered", key)
	}
	r.steps[key] = fn
	return nil
}

// RegisterCatch stores a failure handler by name.
func (r *StepRegistry) RegisterCatch(name string, fn chain.CatchFunc) error {
	return r.RegisterCatchNamespaced("", name, fn)
}

// RegisterCatchNamespaced stores a failure handler using a namespace + name.
func (r *StepRegistry) RegisterCatchNamespaced(namespace, name string, fn chain.CatchFunc) error {
	if name == "" || fn == nil {
		return nil
	}
	if r.catches == nil {
		r.catches = make(map[string]chain.CatchFunc)
	}
	key := r.key(namespace, name)
	if _, exists := r.catches[key]; exists {
		return fmt.Errorf("catch handler %s already registered", key)
	}
	r.catches[key] = fn
	return nil
}

// Lookup returns a step handler by name.
func (r *StepRegistry) Lookup(name string) (chain.StepFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.steps[name]
	return fn, ok
}

// LookupCatch returns a failure handler by name.
func (r *StepRegistry) LookupCatch(name string) (chain.CatchFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.catches[name]
	return fn, ok
}

func (r *StepRegistry) key(namespace, name string) string {
	if r.namespacer != nil {
		return r.namespacer(namespace, name)
	}
	return name
}
