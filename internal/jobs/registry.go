package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/yungbote/cradlesense-backend/internal/types"
)

// Handler executes one kind of job. Run is invoked by a worker holding the
// job's lease; returning an error marks the job failed.
type Handler interface {
	Kind() string
	Run(ctx context.Context, job *types.Job) error
}

// Registry maps job kinds to their handlers. Registration happens at
// startup, before the worker pool starts, so lookups need no locking.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	kind := h.Kind()
	if kind == "" {
		return fmt.Errorf("handler has empty kind")
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind %q", kind)
	}
	r.handlers[kind] = h
	return nil
}

func (r *Registry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in stable order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
