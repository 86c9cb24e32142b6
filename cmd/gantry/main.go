// Package main is the entry point for the gantry task runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/gantry/internal/app"
	"github.com/dshills/gantry/internal/config/loader"
	"github.com/dshills/gantry/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// usageError marks errors caused by bad command-line input.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

// globals holds the persistent flags.
type globals struct {
	config   string
	file     string
	profile  string
	logLevel string
	dir      string
	set      []string
	flags    []string
	noColor  bool
}

func (g *globals) options(stdout, stderr io.Writer) (app.Options, error) {
	if g.logLevel != "" && !logging.ValidLevel(g.logLevel) {
		return app.Options{}, usageError{fmt.Errorf("invalid log level %q", g.logLevel)}
	}
	flags, err := parseFlags(g.flags)
	if err != nil {
		return app.Options{}, usageError{err}
	}
	opts := app.Options{
		WorkDir:     g.dir,
		ConfigFile:  g.config,
		Profile:     g.profile,
		TaskFile:    g.file,
		LogLevel:    g.logLevel,
		Assignments: g.set,
		Flags:       flags,
		Stdout:      stdout,
		Stderr:      stderr,
	}
	if g.noColor {
		off := false
		opts.Color = &off
	}
	return opts, nil
}

// parseFlags turns name=value pairs into flag bag seeds. A bare name is true.
func parseFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid --flag %q: want name=value", p)
		}
		if !ok {
			out[name] = true
			continue
		}
		out[name] = loader.ParseValue(value)
	}
	return out, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	red := color.New(color.FgRed, color.Bold)
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		red.Fprint(stderr, "Error: ")
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, "Run 'gantry --help' for usage.")
		return exitUsage
	}
	if ctx.Err() != nil {
		fmt.Fprintln(stderr, "interrupted")
		return exitFailure
	}
	red.Fprint(stderr, "Error: ")
	fmt.Fprintln(stderr, err)
	return exitFailure
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "gantry",
		Short:         "Run named tasks and chains of tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "project config file (default gantry.toml)")
	pf.StringVarP(&g.file, "file", "f", "", "task file (default from tasks.file)")
	pf.StringVarP(&g.profile, "profile", "p", "", "config profile, reads gantry.<profile>.toml")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&g.dir, "dir", "C", "", "project directory")
	pf.StringArrayVar(&g.set, "set", nil, "config override key=value (repeatable)")
	pf.StringArrayVar(&g.flags, "flag", nil, "seed a run flag name=value (repeatable)")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(g, stdout, stderr),
		newListCmd(g, stdout, stderr),
		newWatchCmd(g, stdout, stderr),
		newVersionCmd(stdout),
	)
	return root
}

// splitArgs separates targets from the task arguments after "--".
func splitArgs(cmd *cobra.Command, args []string) (targets, taskArgs []string) {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[:at], args[at:]
	}
	return args, nil
}

func bootstrap(ctx context.Context, g *globals, stdout, stderr io.Writer) (*app.App, error) {
	opts, err := g.options(stdout, stderr)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, opts)
}

func newRunCmd(g *globals, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run [target...] [-- task-args...]",
		Short: "Run targets in order",
		Long: "Run the named tasks in order, stopping at the first failure.\n" +
			"Without a target the default task runs. Arguments after -- are\n" +
			"passed to tasks that read their own options.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), g, stdout, stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			targets, taskArgs := splitArgs(cmd, args)
			if err := a.Run(cmd.Context(), targets, taskArgs); err != nil {
				if errors.Is(err, app.ErrNoTarget) {
					return usageError{err}
				}
				return err
			}
			return nil
		},
	}
}

func newListCmd(g *globals, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tasks",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), g, stdout, stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			bold := color.New(color.Bold)
			faint := color.New(color.Faint)
			def := a.DefaultTarget()

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			for _, t := range a.Tasks() {
				name := t.Name
				if name == def {
					name += " (default)"
				}
				desc := t.Description
				if len(t.Steps) > 0 {
					chain := faint.Sprintf("[%s]", strings.Join(t.Steps, " → "))
					if desc == "" {
						desc = chain
					} else {
						desc += " " + chain
					}
				}
				fmt.Fprintf(tw, "%s\t%s\n", bold.Sprint(name), desc)
			}
			return tw.Flush()
		},
	}
}

func newWatchCmd(g *globals, stdout, stderr io.Writer) *cobra.Command {
	var paths []string
	cmd := &cobra.Command{
		Use:   "watch [target...] [-- task-args...]",
		Short: "Re-run targets whenever files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), g, stdout, stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			targets, taskArgs := splitArgs(cmd, args)
			if len(targets) == 0 && a.DefaultTarget() == "" {
				return usageError{app.ErrNoTarget}
			}
			return a.Watch(cmd.Context(), targets, taskArgs, paths)
		},
	}
	cmd.Flags().StringArrayVar(&paths, "path", nil, "directory to watch (repeatable, default project dir)")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(stdout, "gantry %s\n", version)
			fmt.Fprintf(stdout, "Commit: %s\n", commit)
			fmt.Fprintf(stdout, "Built: %s\n", date)
		},
	}
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
