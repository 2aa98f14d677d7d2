package job

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cyberkid042/distributed-job-queue/job/structs"
)

// Handler executes a single job attempt. The returned map is stored as
// the attempt's result payload. A non nil error marks the attempt as
// failed and feeds the retry path.
type Handler func(ctx context.Context, job *structs.Job) (map[string]any, error)

// Registry maps job types to their handlers. Lookups are case
// insensitive. It is safe for concurrent use; consumers look up
// handlers while the application registers them during startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type, replacing any previous
// binding for that type.
func (r *Registry) Register(jobType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(jobType)] = handler
}

// Get returns the handler for a job type.
func (r *Registry) Get(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(jobType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, jobType)
	}
	return h, nil
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
