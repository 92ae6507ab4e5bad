package pipeline

import (
	"fmt"
	"time"
)

// MetricsRecorder receives step and run measurements from a pipeline runner.
type MetricsRecorder interface {
	RecordDuration(name string, duration time.Duration)
	RecordError(name string)
	RecordSuccess(name string)
}

// MetricsRegistry stores named metrics recorders.
type MetricsRegistry struct {
	recorders  map[string]MetricsRecorder
	namespacer func(string, string) string
}

// NewMetricsRegistry constructs an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		recorders:  make(map[string]MetricsRecorder),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes namespacing.
func (r *MetricsRegistry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// Register stores a recorder by name.
func (r *MetricsRegistry) Register(name string, mr MetricsRecorder) error {
	return r.RegisterNamespaced("", name, mr)
}

// RegisterNamespaced stores a recorder by namespace+name.
func (r *MetricsRegistry) RegisterNamespaced(namespace, name string, mr MetricsRecorder) error {
	if name == "" || mr == nil {
		return nil
	}
	if r.recorders == nil {
		r.recorders = make(map[string]MetricsRecorder)
	}
	key := name
	if r.namespacer != nil {
		key = r.namespacer(namespace, name)
	}
	if _, exists := r.recorders[key]; exists {
		return fmt.Errorf("metrics recorder %s already registered", key)
	}
	r.recorders[key] = mr
	return nil
}

// Lookup retrieves a recorder by name.
func (r *MetricsRegistry) Lookup(name string) (MetricsRecorder, bool) {
	if r == nil {
		return nil, false
	}
	m, ok := r.recorders[name]
	return m, ok
}

type noopRecorder struct{}

func (noopRecorder) RecordDuration(string, time.Duration) {}
func (noopRecorder) RecordError(string)                   {}
func (noopRecorder) RecordSuccess(string)                 {}
