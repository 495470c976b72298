package steps

import (
	"sort"
	"sync"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/pkg/schema"
)

// Registry is a thread-safe set of executors keyed by step kind.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

func checkExecutor(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	kind := exec.Kind()
	if !expressions.IsValidName(kind) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid step kind %q", kind)
	}
	if schema.IsBuiltinStep(kind) {
		return schema.NewErrorf(schema.ErrCodeConflict, "step kind %q is built in", kind)
	}
	return nil
}

// Register adds an executor. Returns error on duplicate kind.
func (r *Registry) Register(exec Executor) error {
	if err := checkExecutor(exec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kind := exec.Kind()
	if _, exists := r.executors[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", kind)
	}
	r.executors[kind] = exec
	return nil
}

// Replace adds or overwrites the executor for its kind.
func (r *Registry) Replace(exec Executor) error {
	if err := checkExecutor(exec); err != nil {
		return err
	}

	r.mu.Lock()
	r.executors[exec.Kind()] = exec
	r.mu.Unlock()
	return nil
}

// Get retrieves the executor for kind.
func (r *Registry) Get(kind string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "executor %q not registered", kind)
	}
	return exec, nil
}

// Has checks if an executor is registered for kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[kind]
	return ok
}

// List returns info for all registered executors, sorted by kind.
func (r *Registry) List() []ExecutorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ExecutorInfo, 0, len(r.executors))
	for _, e := range r.executors {
		info := ExecutorInfo{Kind: e.Kind(), Origin: OriginUser}
		if d, ok := e.(describer); ok {
			info.Description = d.Description()
		}
		if o, ok := e.(originer); ok {
			info.Origin = o.Origin()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
