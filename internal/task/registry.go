package task

import (
	"log/slog"
	"reflect"
	"sync"
)

// Registry maps task-type strings to their handlers. It is safe for
// concurrent use: the worker reads from it while application code may
// still be registering handlers during startup or hot reload.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register attaches a handler for the given task type. Registering the
// same function again is a no-op, so startup paths can re-register freely
// across restarts. Registering a different function overwrites the old one
// with a warning; that supports development hot reload but usually
// indicates two packages fighting over one task type.
func (r *Registry) Register(taskType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.handlers[taskType]
	if ok {
		if reflect.ValueOf(existing).Pointer() == reflect.ValueOf(handler).Pointer() {
			r.logger.Debug("handler already registered", "task_type", taskType)
			return
		}
		r.logger.Warn("overwriting existing handler", "task_type", taskType)
	}

	r.handlers[taskType] = handler
}

// Get returns the handler for a task type, if one is registered.
func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	return handler, ok
}

// Types returns all registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	return types
}
