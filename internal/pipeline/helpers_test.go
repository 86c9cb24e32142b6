package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dshills/gantry/internal/logging"
	"github.com/dshills/gantry/internal/shell"
)

// recorder records task calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// step returns a synchronous body that records its name and returns err.
func (r *recorder) step(name string, err error) Body {
	return Func(func(*Context) error {
		r.add(name)
		return err
	})
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeShell records commands instead of running them.
type fakeShell struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]error
	exists   map[string]bool
}

func (f *fakeShell) Run(ctx context.Context, c shell.Cmd) (*shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c.String())
	if err := f.fail[c.String()]; err != nil {
		return &shell.Result{Command: c.String(), Code: 1}, err
	}
	return &shell.Result{Command: c.String()}, nil
}

func (f *fakeShell) RunRetry(ctx context.Context, c shell.Cmd, _ uint64) (*shell.Result, error) {
	return f.Run(ctx, c)
}

func (f *fakeShell) Test(_, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[path]
}

func (f *fakeShell) Mkdir(paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.commands = append(f.commands, "mkdir "+p)
	}
	return nil
}

func (f *fakeShell) Rm(paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.commands = append(f.commands, "rm "+p)
	}
	return nil
}

func (f *fakeShell) Cp(src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, "cp "+src+" "+dst)
	return nil
}

func (f *fakeShell) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type fixture struct {
	reg    *Registry
	runner *Runner
	rc     *Context
	logs   *syncBuffer
	shell  *fakeShell
}

func newFixture(t *testing.T, opts RunOptions) *fixture {
	t.Helper()
	logs := &syncBuffer{}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: logging.LevelDebug, Output: logs, Prefix: "test"})
	}
	fs := &fakeShell{fail: map[string]error{}, exists: map[string]bool{}}
	if opts.Shell == nil {
		opts.Shell = fs
	}
	reg := NewRegistry()
	runner := NewRunner(reg)
	return &fixture{
		reg:    reg,
		runner: runner,
		rc:     runner.NewContext(context.Background(), opts),
		logs:   logs,
		shell:  fs,
	}
}

func (f *fixture) register(t *testing.T, name string, body Body, opts Options) {
	t.Helper()
	if err := f.reg.Register(name, body, opts); err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
}

func mustKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("err = %v, want kind %v", err, kind)
	}
}
