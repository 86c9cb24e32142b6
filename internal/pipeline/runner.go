package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/gantry/internal/logging"
	"github.com/dshills/gantry/internal/shell"
)

// Runner executes chains of registered tasks.
type Runner struct {
	registry *Registry
	invoker  *Invoker
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithListener adds a lifecycle listener to the runner's invoker.
func WithListener(l Listener) RunnerOption {
	return func(r *Runner) {
		r.invoker.AddListener(l)
	}
}

// WithInvoker replaces the runner's invoker.
func WithInvoker(inv *Invoker) RunnerOption {
	return func(r *Runner) {
		r.invoker = inv
	}
}

// NewRunner creates a runner over reg.
func NewRunner(reg *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: reg,
		invoker:  NewInvoker(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the runner resolves names in.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Invoker returns the runner's invoker.
func (r *Runner) Invoker() *Invoker {
	return r.invoker
}

// NewContext creates the run context for one top-level run.
// Every task of the run, in every nested chain, shares it.
func (r *Runner) NewContext(ctx context.Context, opts RunOptions) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Shell == nil {
		opts.Shell = shell.New(shell.DefaultConfig())
	}

	args := make([]string, len(opts.Args))
	copy(args, opts.Args)

	logger := opts.Logger.WithField("run", shortID(opts.ID))
	return &Context{
		run: &run{
			id:     opts.ID,
			args:   args,
			flags:  newFlagBag(opts.Flags),
			config: opts.Config,
			logger: logger,
			shell:  opts.Shell,
			runner: r,
		},
		ctx: ctx,
		log: logger,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Chain runs names strictly in order and returns the chain's handle.
//
// Each name is resolved right before it runs. The chain stops at the first
// failure and settles with that failure unchanged; the remaining names are
// never invoked. An empty chain settles with success immediately.
func (r *Runner) Chain(rc *Context, names ...string) *Handle {
	label := strings.Join(names, ",")
	if len(names) == 0 {
		return settledHandle(label, nil)
	}

	steps := make([]string, len(names))
	copy(steps, names)

	h := newHandle(label)
	go func() {
		rc.log.Debug("chain started %v", steps)
		for _, name := range steps {
			if err := r.invoke(rc, name).Wait(); err != nil {
				rc.log.Debug("chain %v aborted at %q", steps, name)
				h.settle(err)
				return
			}
		}
		rc.log.Debug("chain finished %v", steps)
		h.settle(nil)
	}()
	return h
}

// Run is Chain followed by Wait.
func (r *Runner) Run(rc *Context, names ...string) error {
	return r.Chain(rc, names...).Wait()
}

// Task returns a callable that runs exactly the named task and returns its
// handle. The outcome equals that of Chain(rc, name).
func (r *Runner) Task(rc *Context, name string) func() *Handle {
	return func() *Handle {
		return r.invoke(rc, name)
	}
}

// invoke resolves and starts one task on behalf of rc.
func (r *Runner) invoke(rc *Context, name string) *Handle {
	if rc.onPath(name) {
		cycle := append(rc.Path(), name)
		return settledHandle(name, &TaskError{
			Task: name,
			Kind: ErrCyclicChain,
			Err:  fmt.Errorf("%s", strings.Join(cycle, " -> ")),
		})
	}

	t, err := r.registry.Lookup(name)
	if err != nil {
		return settledHandle(name, err)
	}
	return r.invoker.Invoke(rc, t)
}
