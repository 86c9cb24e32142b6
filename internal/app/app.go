// Package app wires configuration, logging, the shell proxy, the task
// registry and the task file into a runnable orchestrator.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dshills/gantry/internal/config"
	"github.com/dshills/gantry/internal/logging"
	"github.com/dshills/gantry/internal/pipeline"
	"github.com/dshills/gantry/internal/shell"
	"github.com/dshills/gantry/internal/taskfile"
	"github.com/dshills/gantry/internal/watch"
)

// Options configures the application.
type Options struct {
	// WorkDir is the project directory. Defaults to the current directory.
	WorkDir string

	// ConfigFile names the project config file instead of gantry.toml.
	ConfigFile string

	// UserConfigDir overrides the user configuration directory.
	UserConfigDir string

	// EnvPrefix overrides the GANTRY_ environment prefix.
	EnvPrefix string

	// Profile selects gantry.<profile>.toml.
	Profile string

	// TaskFile names the task file instead of the configured tasks.file.
	TaskFile string

	// LogLevel overrides log.level.
	LogLevel string

	// Assignments are key=value config overrides.
	Assignments []string

	// Flags seed the flag bag of every run.
	Flags map[string]any

	// Register adds Go-defined tasks before the task file is loaded.
	Register func(reg *pipeline.Registry) error

	// Stdout and Stderr receive command output, logs and the run report.
	// Default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Color forces colored report output on or off. Nil follows log.color
	// and the terminal.
	Color *bool
}

// App is a bootstrapped orchestrator.
type App struct {
	workDir string
	stdout  io.Writer
	stderr  io.Writer
	flags   map[string]any

	config   *config.Store
	log      *logging.Logger
	proxy    *shell.Proxy
	registry *pipeline.Registry
	runner   *pipeline.Runner
	tasks    *taskfile.File
	reporter *Reporter

	closed atomic.Bool
}

// New bootstraps an application.
func New(ctx context.Context, opts Options) (*App, error) {
	a := &App{
		workDir: opts.WorkDir,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
		flags:   opts.Flags,
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	if a.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, &InitError{Component: "workdir", Err: err}
		}
		a.workDir = wd
	}
	abs, err := filepath.Abs(a.workDir)
	if err != nil {
		return nil, &InitError{Component: "workdir", Err: err}
	}
	a.workDir = abs
	a.reporter = NewReporter(a.stderr)

	if err := newBootstrapper(a, opts).bootstrap(ctx); err != nil {
		return nil, err
	}

	useColor := true
	if v, err := a.config.GetBool("log.color"); err == nil {
		useColor = v
	}
	if opts.Color != nil {
		useColor = *opts.Color
	}
	a.reporter.SetColor(useColor)
	return a, nil
}

// WorkDir returns the absolute project directory.
func (a *App) WorkDir() string { return a.workDir }

// Config returns the configuration store.
func (a *App) Config() *config.Store { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *logging.Logger { return a.log }

// Registry returns the task registry.
func (a *App) Registry() *pipeline.Registry { return a.registry }

// Reporter returns the run reporter.
func (a *App) Reporter() *Reporter { return a.reporter }

// DefaultTarget returns the task run when no target is given.
func (a *App) DefaultTarget() string {
	if a.tasks != nil && a.tasks.Default != "" {
		return a.tasks.Default
	}
	name, _ := a.config.GetString("tasks.default")
	if a.registry.Has(name) {
		return name
	}
	return ""
}

// TaskInfo describes a registered task for listings.
type TaskInfo struct {
	Name        string
	Description string
	Steps       []string
	Timeout     time.Duration
}

// Tasks lists every registered task in name order.
func (a *App) Tasks() []TaskInfo {
	names := a.registry.Names()
	out := make([]TaskInfo, 0, len(names))
	for _, name := range names {
		t, err := a.registry.Lookup(name)
		if err != nil {
			continue
		}
		steps, _ := a.registry.Steps(name)
		out = append(out, TaskInfo{
			Name:        name,
			Description: t.Options.Description,
			Steps:       steps,
			Timeout:     t.Options.Timeout,
		})
	}
	return out
}

// Run executes targets in order with a fresh run context. args are the
// run's command-line-style input, available to tasks through Reparse.
func (a *App) Run(ctx context.Context, targets []string, args []string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if len(targets) == 0 {
		def := a.DefaultTarget()
		if def == "" {
			return ErrNoTarget
		}
		targets = []string{def}
	}

	rc := a.runner.NewContext(ctx, pipeline.RunOptions{
		Args:   args,
		Flags:  a.flags,
		Config: a.config,
		Logger: a.log,
		Shell:  a.proxy,
	})
	a.log.WithField("run", rc.RunID()).Debug("running %s", strings.Join(targets, ", "))

	start := time.Now()
	err := rc.Run(targets...)
	a.reporter.Summary(targets, err, time.Since(start))
	if err != nil {
		return NewOperationError("run", strings.Join(targets, ","), err).
			WithContext("run " + shortRunID(rc.RunID()))
	}
	return nil
}

// Watch runs targets once, then again after each batch of file changes
// under paths. It returns when ctx ends. Failed runs are reported and
// do not stop watching.
func (a *App) Watch(ctx context.Context, targets []string, args []string, paths []string) error {
	debounce, err := a.config.GetDuration("watch.debounce")
	if err != nil {
		debounce = watch.DefaultDebounce
	}
	ignore, _ := a.config.GetStringSlice("watch.ignore")

	w, err := watch.New(
		watch.WithDebounce(debounce),
		watch.WithIgnore(ignore...),
		watch.WithLogger(a.log),
	)
	if err != nil {
		return NewOperationError("watch", strings.Join(paths, ","), err)
	}
	defer w.Close()

	if len(paths) == 0 {
		paths = []string{a.workDir}
	}
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(a.workDir, p)
		}
		if err := w.AddRecursive(p); err != nil {
			return NewOperationError("watch", p, err)
		}
	}

	if err := a.Run(ctx, targets, args); err != nil {
		a.log.Error("%v", err)
	}
	a.log.Info("watching %d directories", len(w.Dirs()))

	err = w.Run(ctx, func(changed []string) {
		a.log.Info("%d file(s) changed, first %s", len(changed), a.rel(changed[0]))
		if err := a.Run(ctx, targets, args); err != nil {
			a.log.Error("%v", err)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) rel(path string) string {
	if r, err := filepath.Rel(a.workDir, path); err == nil {
		return r
	}
	return path
}

// Close terminates running commands. It is safe to call more than once.
func (a *App) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.proxy.Shutdown(2 * time.Second)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
