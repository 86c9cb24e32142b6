package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/gantry/internal/logging"
)

// Config configures a Proxy.
type Config struct {
	// Shell is the interpreter used for Cmd.Command.
	Shell string

	// ShellArgs precede the command string, e.g. "-c".
	ShellArgs []string

	// Dir is the working directory for commands and relative paths.
	// Empty means the current directory.
	Dir string

	// Env is added to the inherited environment for every command.
	Env map[string]string

	// Stdout and Stderr receive a live copy of command output.
	// Nil discards the copy; Result always carries the captured output.
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives debug lines for every command. Nil disables them.
	Logger *logging.Logger

	// RetryInitial and RetryMax bound the backoff used by RunRetry.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// MaxProcesses limits concurrently running commands. 0 is unlimited.
	MaxProcesses int
}

// DefaultConfig returns a config that runs commands with $SHELL -c,
// falling back to /bin/sh.
func DefaultConfig() Config {
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/sh"
	}
	return Config{
		Shell:        sh,
		ShellArgs:    []string{"-c"},
		RetryInitial: 200 * time.Millisecond,
		RetryMax:     5 * time.Second,
	}
}

// Cmd describes one command.
// Command runs through the shell; otherwise Name is executed with Args.
type Cmd struct {
	Command string
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string
}

// String renders the command as a shell would read it.
func (c Cmd) String() string {
	if c.Command != "" {
		return c.Command
	}
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellEscape(c.Name))
	for _, a := range c.Args {
		parts = append(parts, shellEscape(a))
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ID       string
	Command  string
	Code     int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the command exited with status 0.
func (r *Result) OK() bool {
	return r != nil && r.Code == 0
}

// Err returns an *ExitError for a non-zero exit, or nil.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ExitError{Command: r.Command, Code: r.Code, Stderr: r.Stderr}
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if i := strings.LastIndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		msg += ": " + s
	}
	return msg
}

// Proxy runs commands and filesystem operations on behalf of tasks.
// It is safe for concurrent use.
type Proxy struct {
	config     Config
	supervisor *Supervisor
	log        *logging.Logger
}

// New creates a proxy.
func New(config Config) *Proxy {
	if config.Shell == "" {
		def := DefaultConfig()
		config.Shell = def.Shell
		if config.ShellArgs == nil {
			config.ShellArgs = def.ShellArgs
		}
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = 200 * time.Millisecond
	}
	if config.RetryMax <= 0 {
		config.RetryMax = 5 * time.Second
	}
	log := config.Logger
	if log == nil {
		log = logging.Discard()
	}
	p := &Proxy{
		config: config,
		log:    log.WithComponent("shell"),
	}
	p.supervisor = NewSupervisor(
		WithMaxProcesses(config.MaxProcesses),
		WithExitCallback(p.exited),
	)
	return p
}

// exited logs how a supervised command ended.
func (p *Proxy) exited(proc *Process) {
	p.log.WithFields(map[string]any{
		"pid":   proc.PID(),
		"state": proc.State(),
		"code":  proc.ExitCode(),
	}).Debug("process %s exited after %s", proc.ID[:8], proc.Runtime().Round(time.Millisecond))
}

// Supervisor returns the supervisor tracking this proxy's processes.
func (p *Proxy) Supervisor() *Supervisor {
	return p.supervisor
}

// Run executes c and waits for it to exit.
// A non-zero exit is returned as an *ExitError alongside the Result.
// When ctx ends first, the command's process group is killed and ctx.Err()
// is returned.
func (p *Proxy) Run(ctx context.Context, c Cmd) (*Result, error) {
	if c.Command == "" && c.Name == "" {
		return nil, errors.New("empty command")
	}
	cmd := p.build(c)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	text := c.String()
	name := c.Name
	if name == "" {
		name = p.config.Shell
	}
	start := time.Now()
	proc, err := p.supervisor.Start(ctx, name, cmd)
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", text, err)
	}
	p.log.WithField("pid", proc.PID()).Debug("running %s", text)

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, &outBuf, p.config.Stdout) })
	g.Go(func() error { return drain(stderr, &errBuf, p.config.Stderr) })
	drainErr := g.Wait()
	_ = proc.Wait()

	res := &Result{
		ID:       proc.ID,
		Command:  text,
		Code:     proc.ExitCode(),
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Duration: time.Since(start),
	}
	p.log.WithFields(map[string]any{"code": res.Code, "elapsed": res.Duration.Round(time.Millisecond)}).
		Debug("finished %s", text)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if drainErr != nil {
		return res, fmt.Errorf("read output of %q: %w", text, drainErr)
	}
	return res, res.Err()
}

// RunRetry runs c, retrying non-zero exits with exponential backoff up to
// maxRetries additional attempts. The last Result is returned.
func (p *Proxy) RunRetry(ctx context.Context, c Cmd, maxRetries uint64) (*Result, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.config.RetryInitial
	eb.MaxInterval = p.config.RetryMax
	eb.MaxElapsedTime = 0

	var last *Result
	attempt := 0
	op := func() error {
		attempt++
		res, err := p.Run(ctx, c)
		last = res
		if err == nil {
			return nil
		}
		var exit *ExitError
		if !errors.As(err, &exit) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.log.WithField("attempt", attempt).Warn("%v; retrying in %s", err, wait.Round(time.Millisecond))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, ctxErr
		}
		return last, err
	}
	return last, nil
}

// Shutdown terminates every running command, killing those still alive
// after timeout.
func (p *Proxy) Shutdown(timeout time.Duration) {
	p.supervisor.Shutdown(timeout)
}

func (p *Proxy) build(c Cmd) *exec.Cmd {
	var cmd *exec.Cmd
	if c.Command != "" {
		args := append(append([]string{}, p.config.ShellArgs...), c.Command)
		cmd = exec.Command(p.config.Shell, args...)
	} else {
		cmd = exec.Command(c.Name, c.Args...)
	}
	cmd.Dir = p.resolve(c.Dir)
	cmd.Env = buildEnvironment(p.config.Env, c.Env)
	return cmd
}

// resolve makes path absolute against the proxy's working directory.
func (p *Proxy) resolve(path string) string {
	if path == "" {
		return p.config.Dir
	}
	if filepath.IsAbs(path) || p.config.Dir == "" {
		return path
	}
	return filepath.Join(p.config.Dir, path)
}

func drain(r io.Reader, buf *bytes.Buffer, tee io.Writer) error {
	var w io.Writer = buf
	if tee != nil {
		w = io.MultiWriter(buf, tee)
	}
	_, err := io.Copy(w, r)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// buildEnvironment layers the given maps over the inherited environment.
// Later maps win.
func buildEnvironment(layers ...map[string]string) []string {
	env := os.Environ()
	overrides := make(map[string]string)
	for _, m := range layers {
		for k, v := range m {
			overrides[k] = v
		}
	}
	if len(overrides) == 0 {
		return env
	}

	out := make([]string, 0, len(env)+len(overrides))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// shellEscape quotes s for a POSIX shell when needed.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !isShellSafe(c) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		strings.ContainsRune("-_./=:,@+%", c)
}
