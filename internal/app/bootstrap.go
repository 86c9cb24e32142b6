package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/gantry/internal/config"
	"github.com/dshills/gantry/internal/logging"
	"github.com/dshills/gantry/internal/pipeline"
	"github.com/dshills/gantry/internal/shell"
	"github.com/dshills/gantry/internal/taskfile"
)

// bootstrapper initializes components in dependency order and releases
// the started ones when a later step fails.
type bootstrapper struct {
	app       *App
	opts      Options
	initOrder []string
}

func newBootstrapper(app *App, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 5),
	}
}

func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []func(context.Context) error{
		b.initConfig,
		b.initLogger,
		b.initShell,
		b.initRegistry,
		b.initTasks,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			b.cleanup()
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initConfig(ctx context.Context) error {
	opts := []config.Option{
		config.WithWorkDir(b.app.workDir),
		config.WithAssignments(b.opts.Assignments),
	}
	if b.opts.ConfigFile != "" {
		opts = append(opts, config.WithFile(b.opts.ConfigFile))
	}
	if b.opts.Profile != "" {
		opts = append(opts, config.WithProfile(b.opts.Profile))
	}
	if b.opts.UserConfigDir != "" {
		opts = append(opts, config.WithUserConfigDir(b.opts.UserConfigDir))
	}
	if b.opts.EnvPrefix != "" {
		opts = append(opts, config.WithEnvPrefix(b.opts.EnvPrefix))
	}

	store := config.New(opts...)
	if err := store.Load(ctx); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	b.app.config = store
	b.initOrder = append(b.initOrder, "config")
	return nil
}

func (b *bootstrapper) initLogger(context.Context) error {
	level := b.opts.LogLevel
	if level == "" {
		level, _ = b.app.config.GetString("log.level")
	}
	if level != "" && !logging.ValidLevel(level) {
		return &InitError{Component: "logger", Err: errors.New("unknown log level " + level)}
	}
	b.app.log = logging.New(logging.Config{
		Level:  logging.ParseLevel(level),
		Output: b.app.stderr,
		Prefix: "gantry",
	})
	return nil
}

func (b *bootstrapper) initShell(context.Context) error {
	cfg := shell.DefaultConfig()
	if path, err := b.app.config.GetString("shell.path"); err == nil && path != "" {
		cfg.Shell = path
	}
	if args, err := b.app.config.GetStringSlice("shell.args"); err == nil {
		cfg.ShellArgs = args
	}
	if n, err := b.app.config.GetInt("shell.max_processes"); err == nil && n > 0 {
		cfg.MaxProcesses = n
	}
	if env, err := b.app.config.GetMap("shell.env"); err == nil {
		cfg.Env = make(map[string]string, len(env))
		for k, v := range env {
			cfg.Env[k] = toString(v)
		}
	}
	cfg.Dir = b.app.workDir
	cfg.Stdout = b.app.stdout
	cfg.Stderr = b.app.stderr
	cfg.Logger = b.app.log

	b.app.proxy = shell.New(cfg)
	b.initOrder = append(b.initOrder, "shell")
	return nil
}

func (b *bootstrapper) initRegistry(context.Context) error {
	b.app.registry = pipeline.NewRegistry()
	if b.opts.Register != nil {
		if err := b.opts.Register(b.app.registry); err != nil {
			return &InitError{Component: "registry", Err: err}
		}
	}
	b.app.runner = pipeline.NewRunner(b.app.registry, pipeline.WithListener(b.app.reporter))
	return nil
}

// initTasks loads the task file. A missing default file is not an error;
// a missing file named explicitly is.
func (b *bootstrapper) initTasks(context.Context) error {
	path := b.opts.TaskFile
	explicit := path != ""
	if !explicit {
		path, _ = b.app.config.GetString("tasks.file")
		if path == "" {
			path = taskfile.DefaultFile
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.app.workDir, path)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		b.app.log.Debug("no task file at %s", path)
		return nil
	}

	file, err := taskfile.Load(path)
	if err != nil {
		return &InitError{Component: "tasks", Err: err}
	}
	if err := file.Register(b.app.registry); err != nil {
		return &InitError{Component: "tasks", Err: err}
	}
	b.app.tasks = file
	b.app.log.Debug("loaded %d tasks from %s", len(file.Tasks), path)
	return nil
}

func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		switch b.initOrder[i] {
		case "shell":
			if b.app.proxy != nil {
				b.app.proxy.Shutdown(time.Second)
				b.app.proxy = nil
			}
		case "config":
			b.app.config = nil
		}
	}
}
