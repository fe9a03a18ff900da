package job

import (
	"context"
	"sync"
)

// Callback is invoked on a job's terminal outcome. deliveryErr is nil
// for success callbacks and carries the final error for failure
// callbacks.
type Callback func(ctx context.Context, j *Job, deliveryErr error)

// CallbackRegistry maps callback names to explicitly registered
// functions. Jobs persist only the name; resolution happens here, so no
// stored record can invoke anything that was not registered at startup.
// It is safe for concurrent use.
type CallbackRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Callback
}

// NewCallbackRegistry creates an empty callback registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		handlers: make(map[string]Callback),
	}
}

// Register adds or replaces the handler for name.
func (r *CallbackRegistry) Register(name string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = cb
}

// Get returns the handler for name. Returns false if none is registered.
func (r *CallbackRegistry) Get(name string) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.handlers[name]
	return cb, ok
}

// Names returns all registered callback names.
func (r *CallbackRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
