package pipeline

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestReparse_Precedence(t *testing.T) {
	cfg := MapConfig{"build": map[string]any{"out": "cfg-out", "jobs": int64(4)}}
	f := newFixture(t, RunOptions{
		Args:   []string{"build", "--release", "--out", "cli-out", "--unknown=1", "extra"},
		Config: cfg,
	})
	spec := FlagSpec{
		{Name: "release", Kind: FlagBool},
		{Name: "out", Short: "o", Kind: FlagString, Config: "build.out", Default: "default-out"},
		{Name: "jobs", Short: "j", Kind: FlagInt, Config: "build.jobs", Default: 1},
		{Name: "timeout", Kind: FlagDuration, Default: "30s"},
		{Name: "tags", Kind: FlagStrings, Config: "build.tags", Default: []any{"netgo"}},
	}

	var opts *TaskOptions
	f.register(t, "build", Func(func(rc *Context) error {
		var err error
		opts, err = rc.Reparse(spec)
		return err
	}), Options{})

	if err := f.rc.Run("build"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !opts.Bool("release") || !opts.Changed("release") {
		t.Error("release should be set explicitly")
	}
	if got := opts.String("out"); got != "cli-out" {
		t.Errorf("out = %q, want the argument to win", got)
	}
	if got := opts.Int("jobs"); got != 4 || opts.Changed("jobs") {
		t.Errorf("jobs = %d, want 4 from config", got)
	}
	if got := opts.Duration("timeout"); got != 30*time.Second {
		t.Errorf("timeout = %v, want default", got)
	}
	if got := opts.Strings("tags"); !reflect.DeepEqual(got, []string{"netgo"}) {
		t.Errorf("tags = %v", got)
	}
	for _, arg := range opts.Args() {
		if strings.HasPrefix(arg, "--") {
			t.Errorf("flag %q left in positional args %v", arg, opts.Args())
		}
	}
	if v, ok := opts.Value("out"); !ok || v != "cli-out" {
		t.Errorf("Value(out) = %v, %v", v, ok)
	}
	if len(opts.Map()) != len(spec) {
		t.Errorf("Map = %v", opts.Map())
	}
}

func TestReparse_EachTaskReadsItsOwnSubset(t *testing.T) {
	args := []string{"--verbose", "--out=bin", "--count", "3"}

	a, err := reparse("a", args, FlagSpec{{Name: "verbose", Kind: FlagBool}}, nil)
	if err != nil {
		t.Fatalf("reparse a: %v", err)
	}
	b, err := reparse("b", args, FlagSpec{{Name: "out", Kind: FlagString}, {Name: "count", Kind: FlagInt}}, nil)
	if err != nil {
		t.Fatalf("reparse b: %v", err)
	}

	if !a.Bool("verbose") {
		t.Error("a: verbose not set")
	}
	if b.String("out") != "bin" || b.Int("count") != 3 {
		t.Errorf("b: out=%q count=%d", b.String("out"), b.Int("count"))
	}
}

func TestReparse_DoesNotMutateRunArgs(t *testing.T) {
	f := newFixture(t, RunOptions{Args: []string{"-o", "x"}})
	f.register(t, "t", Func(func(rc *Context) error {
		_, err := rc.Reparse(FlagSpec{{Name: "out", Short: "o", Kind: FlagString}})
		return err
	}), Options{})
	if err := f.rc.Run("t"); err != nil {
		t.Fatal(err)
	}
	if got := f.rc.Args(); !reflect.DeepEqual(got, []string{"-o", "x"}) {
		t.Errorf("Args = %v", got)
	}
}

func TestReparse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		spec FlagSpec
	}{
		{"unnamed flag", nil, FlagSpec{{Kind: FlagBool}}},
		{"declared twice", nil, FlagSpec{{Name: "a", Kind: FlagBool}, {Name: "a", Kind: FlagString}}},
		{"bad default", nil, FlagSpec{{Name: "n", Kind: FlagInt, Default: "many"}}},
		{"unknown kind", nil, FlagSpec{{Name: "k", Kind: FlagKind(42)}}},
		{"bad value", []string{"--n=abc"}, FlagSpec{{Name: "n", Kind: FlagInt}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reparse("task", tt.args, tt.spec, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}
