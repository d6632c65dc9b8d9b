package metrics

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DuplicateMetric is the error returned by Registry.Register when a metric
// already exists under the name.
type DuplicateMetric string

func (err DuplicateMetric) Error() string {
	return fmt.Sprintf("duplicate metric: %s", string(err))
}

// Registry holds references to a set of metrics by name.
type Registry interface {
	// Each calls the given function for each registered metric.
	Each(func(string, interface{}))

	// Get the metric by the given name or nil if none is registered.
	Get(string) interface{}

	// GetOrRegister gets an existing metric or registers the given one.
	// The interface can be the metric to register if not found in registry,
	// or a function returning the metric for lazy instantiation.
	GetOrRegister(string, interface{}) interface{}

	// Register the given metric under the given name.
	Register(string, interface{}) error

	// Unregister the metric with the given name.
	Unregister(string)
}

// StandardRegistry is the default Registry implementation, a mutex-protected
// map of names to metrics.
type StandardRegistry struct {
	mu      sync.RWMutex
	metrics map[string]interface{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() Registry {
	return &StandardRegistry{metrics: make(map[string]interface{})}
}

func (r *StandardRegistry) Each(f func(string, interface{})) {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	for _, name := range names {
		if m := r.Get(name); m != nil {
			f(name, m)
		}
	}
}

func (r *StandardRegistry) Get(name string) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

func (r *StandardRegistry) GetOrRegister(name string, i interface{}) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if metric, ok := r.metrics[name]; ok {
		return metric
	}
	if v := reflect.ValueOf(i); v.Kind() == reflect.Func {
		i = v.Call(nil)[0].Interface()
	}
	r.metrics[name] = i
	return i
}

func (r *StandardRegistry) Register(name string, i interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; ok {
		return DuplicateMetric(name)
	}
	r.metrics[name] = i
	return nil
}

func (r *StandardRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, name)
}

// DefaultRegistry is the registry the package-level helpers register into.
var DefaultRegistry = NewRegistry()
