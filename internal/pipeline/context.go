package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/dshills/gantry/internal/config/layer"
	"github.com/dshills/gantry/internal/logging"
	"github.com/dshills/gantry/internal/shell"
)

// ConfigStore is the layered configuration a run reads from.
type ConfigStore interface {
	// Get returns the effective value at a dot-separated path.
	Get(path string) (any, bool)
}

// MapConfig is a ConfigStore over a nested map, for tests and embedding.
type MapConfig map[string]any

// Get implements ConfigStore.
func (m MapConfig) Get(path string) (any, bool) {
	return layer.GetByPath(m, path)
}

// Shell is the process and filesystem layer tasks reach through the context.
type Shell interface {
	Run(ctx context.Context, c shell.Cmd) (*shell.Result, error)
	RunRetry(ctx context.Context, c shell.Cmd, maxRetries uint64) (*shell.Result, error)
	Test(predicate, path string) bool
	Mkdir(paths ...string) error
	Rm(paths ...string) error
	Cp(src, dst string) error
}

// RunOptions configures a new run context.
type RunOptions struct {
	// ID identifies the run. Generated when empty.
	ID string
	// Args is the run's original command-line-style input, read by Reparse.
	Args []string
	// Flags seeds the shared flag bag.
	Flags map[string]any
	// Config is the configuration store. Empty when nil.
	Config ConfigStore
	// Logger is the logging sink. Discards when nil.
	Logger *logging.Logger
	// Shell is the process layer. A default shell.Proxy when nil.
	Shell Shell
}

// run holds the state shared by every view of one run.
type run struct {
	id     string
	args   []string
	flags  *flagBag
	config ConfigStore
	logger *logging.Logger
	shell  Shell
	runner *Runner
}

// Context is the run context handed to task bodies.
//
// One run shares a single flag bag, configuration store, logger sink and
// shell. Each invocation receives its own view carrying the task name, a
// cancellation context and the chain path used for cycle detection.
type Context struct {
	run  *run
	ctx  context.Context
	task *Task
	path []string
	log  *logging.Logger
}

// forTask returns the view passed to t's body.
func (c *Context) forTask(ctx context.Context, t *Task) *Context {
	path := make([]string, len(c.path), len(c.path)+1)
	copy(path, c.path)
	return &Context{
		run:  c.run,
		ctx:  ctx,
		task: t,
		path: append(path, t.Name),
		log:  c.run.logger.WithField("task", t.Name),
	}
}

// onPath reports whether name is already being executed by an enclosing task.
func (c *Context) onPath(name string) bool {
	return slices.Contains(c.path, name)
}

// Context returns the cancellation context of the current invocation.
// It ends when the task settles, times out, or the run is canceled.
func (c *Context) Context() context.Context {
	return c.ctx
}

// RunID returns the run identifier.
func (c *Context) RunID() string {
	return c.run.id
}

// TaskName returns the current task's name, or "" at the top level.
func (c *Context) TaskName() string {
	if c.task == nil {
		return ""
	}
	return c.task.Name
}

// Path returns the enclosing task names, outermost first.
func (c *Context) Path() []string {
	return slices.Clone(c.path)
}

// Args returns a copy of the run's original arguments.
func (c *Context) Args() []string {
	return slices.Clone(c.run.args)
}

// Flags returns the shared flag bag.
func (c *Context) Flags() *Flags {
	f := &Flags{bag: c.run.flags, log: c.log}
	if c.task != nil {
		f.task = c.task.Name
		f.writes = c.task.Options.Writes
	}
	return f
}

// Logging

// Debug logs a debug message.
func (c *Context) Debug(msg string, args ...any) { c.log.Debug(msg, args...) }

// Info logs an info message.
func (c *Context) Info(msg string, args ...any) { c.log.Info(msg, args...) }

// Warn logs a warning message.
func (c *Context) Warn(msg string, args ...any) { c.log.Warn(msg, args...) }

// Error logs an error message.
func (c *Context) Error(msg string, args ...any) { c.log.Error(msg, args...) }

// Logger returns the logger of the current view.
func (c *Context) Logger() *logging.Logger {
	return c.log
}

// Configuration

// Cfg returns the configured value at path, or fallback when absent.
func (c *Context) Cfg(path string, fallback any) any {
	if c.run.config == nil {
		return fallback
	}
	if v, ok := c.run.config.Get(path); ok {
		return v
	}
	return fallback
}

// CfgString returns a string setting, or fallback when absent or not a string.
func (c *Context) CfgString(path, fallback string) string {
	if s, ok := toString(c.Cfg(path, nil)); ok {
		return s
	}
	return fallback
}

// CfgBool returns a boolean setting, or fallback.
func (c *Context) CfgBool(path string, fallback bool) bool {
	if v := c.Cfg(path, nil); v != nil {
		if b, ok := toBool(v); ok {
			return b
		}
	}
	return fallback
}

// CfgInt returns an integer setting, or fallback.
func (c *Context) CfgInt(path string, fallback int) int {
	if i, ok := toInt(c.Cfg(path, nil)); ok {
		return i
	}
	return fallback
}

// CfgDuration returns a duration setting, or fallback.
func (c *Context) CfgDuration(path string, fallback time.Duration) time.Duration {
	if d, ok := toDuration(c.Cfg(path, nil)); ok {
		return d
	}
	return fallback
}

// CfgStrings returns a list setting, or fallback.
func (c *Context) CfgStrings(path string, fallback []string) []string {
	if v := c.Cfg(path, nil); v != nil {
		if s, ok := toStrings(v); ok {
			return s
		}
	}
	return slices.Clone(fallback)
}

// CfgMap returns the configured sub-tree at path deep-merged over defaults.
// The result is a private copy; changing it affects nobody else.
func (c *Context) CfgMap(path string, defaults map[string]any) map[string]any {
	out := layer.CloneMap(defaults)
	if out == nil {
		out = make(map[string]any)
	}
	if m, ok := c.Cfg(path, nil).(map[string]any); ok {
		out = layer.DeepMerge(out, m)
	}
	return out
}

// Reparse derives task-local options from the run's original arguments.
// See FlagDef for the precedence rules.
func (c *Context) Reparse(spec FlagSpec) (*TaskOptions, error) {
	var cfg func(string) (any, bool)
	if c.run.config != nil {
		cfg = c.run.config.Get
	}
	return reparse(c.TaskName(), c.run.args, spec, cfg)
}

// Shell returns the shell proxy bound to this invocation's context.
func (c *Context) Shell() *TaskShell {
	return &TaskShell{sh: c.run.shell, ctx: c.ctx}
}

// Composition

// Chain runs names sequentially through the run's runner.
func (c *Context) Chain(names ...string) *Handle {
	return c.run.runner.Chain(c, names...)
}

// Run runs names sequentially and waits for the result.
func (c *Context) Run(names ...string) error {
	return c.Chain(names...).Wait()
}

// Task returns a callable that runs exactly the named task.
func (c *Context) Task(name string) func() *Handle {
	return c.run.runner.Task(c, name)
}

// TaskShell binds a Shell to an invocation's cancellation context.
type TaskShell struct {
	sh  Shell
	ctx context.Context
}

// Exec runs command through the configured shell.
func (s *TaskShell) Exec(command string) (*shell.Result, error) {
	return s.sh.Run(s.ctx, shell.Cmd{Command: command})
}

// ExecRetry runs command, retrying failed attempts with backoff.
func (s *TaskShell) ExecRetry(command string, maxRetries uint64) (*shell.Result, error) {
	return s.sh.RunRetry(s.ctx, shell.Cmd{Command: command}, maxRetries)
}

// Spawn runs a program directly, without a shell.
func (s *TaskShell) Spawn(name string, args ...string) (*shell.Result, error) {
	return s.sh.Run(s.ctx, shell.Cmd{Name: name, Args: args})
}

// Run runs a fully described command.
func (s *TaskShell) Run(c shell.Cmd) (*shell.Result, error) {
	return s.sh.Run(s.ctx, c)
}

// RunRetry runs a fully described command, retrying failed exits.
func (s *TaskShell) RunRetry(c shell.Cmd, maxRetries uint64) (*shell.Result, error) {
	return s.sh.RunRetry(s.ctx, c, maxRetries)
}

// Test evaluates a test(1)-style predicate such as "-d" or "-f" on path.
func (s *TaskShell) Test(predicate, path string) bool {
	return s.sh.Test(predicate, path)
}

// Mkdir creates directories and their parents.
func (s *TaskShell) Mkdir(paths ...string) error {
	return s.sh.Mkdir(paths...)
}

// Rm removes files and directories recursively.
func (s *TaskShell) Rm(paths ...string) error {
	return s.sh.Rm(paths...)
}

// Cp copies a file or directory tree.
func (s *TaskShell) Cp(src, dst string) error {
	return s.sh.Cp(src, dst)
}
