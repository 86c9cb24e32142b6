package pipeline

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Registry maps task names to tasks.
// It performs no I/O and is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	chains map[string][]string // chain task name -> declared steps
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		chains: make(map[string][]string),
	}
}

// Register adds a task.
// Returns ErrDuplicateTask if the name is already registered.
func (r *Registry) Register(name string, body Body, opts Options) error {
	if name == "" || body == nil {
		return &TaskError{Task: name, Kind: ErrInvalidTask, Err: fmt.Errorf("name and body are required")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(name, body, opts)
}

func (r *Registry) add(name string, body Body, opts Options) error {
	if _, exists := r.tasks[name]; exists {
		return &TaskError{Task: name, Kind: ErrDuplicateTask}
	}
	r.tasks[name] = &Task{
		Name:    name,
		Body:    body,
		Options: Options{}.merge(opts),
	}
	return nil
}

// Around wraps the execution of a chain task. It must call next at most
// once and return its error to keep the chain's failure.
type Around func(rc *Context, next func() error) error

// RegisterChain registers a task whose body runs steps as a chain.
// Steps are resolved when they run, so they may be registered later.
// Returns ErrCyclicChain if the declared chains would reach name again.
// Each around wraps the chain run, the first one outermost.
func (r *Registry) RegisterChain(name string, steps []string, opts Options, around ...Around) error {
	if name == "" {
		return &TaskError{Task: name, Kind: ErrInvalidTask, Err: fmt.Errorf("name is required")}
	}
	steps = slices.Clone(steps)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return &TaskError{Task: name, Kind: ErrDuplicateTask}
	}

	r.chains[name] = steps
	if cycle := r.findCycle(name); cycle != nil {
		delete(r.chains, name)
		return &TaskError{
			Task: name,
			Kind: ErrCyclicChain,
			Err:  fmt.Errorf("%s", strings.Join(cycle, " -> ")),
		}
	}

	around = slices.Clone(around)
	body := func(rc *Context, s *Settler) {
		run := func() error { return rc.Run(steps...) }
		for i := len(around) - 1; i >= 0; i-- {
			wrap, next := around[i], run
			run = func() error { return wrap(rc, next) }
		}
		s.Done(run())
	}
	return r.add(name, body, opts)
}

// findCycle walks the declared chains from start and returns the first
// path that leads back to start. Must be called with the lock held.
func (r *Registry) findCycle(start string) []string {
	visited := make(map[string]bool)
	var walk func(name string, path []string) []string
	walk = func(name string, path []string) []string {
		for _, step := range r.chains[name] {
			if step == start {
				return append(slices.Clone(path), step)
			}
			if visited[step] {
				continue
			}
			visited[step] = true
			if found := walk(step, append(path, step)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(start, []string{start})
}

// DefineOptions merges opts into an already registered task.
// The body is never changed. Returns ErrUnknownTask if name is absent.
func (r *Registry) DefineOptions(name string, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[name]
	if !ok {
		return &TaskError{Task: name, Kind: ErrUnknownTask}
	}
	t.Options = t.Options.merge(opts)
	return nil
}

// Lookup returns a snapshot of the named task.
// Returns ErrUnknownTask if name is absent.
func (r *Registry) Lookup(name string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	if !ok {
		return nil, &TaskError{Task: name, Kind: ErrUnknownTask}
	}
	return t.clone(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Steps returns the declared steps of a chain task.
func (r *Registry) Steps(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	steps, ok := r.chains[name]
	return slices.Clone(steps), ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tasks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
