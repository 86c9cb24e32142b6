package taskfile

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/dshills/gantry/internal/pipeline"
	"github.com/dshills/gantry/internal/shell"
)

// Register adds every task of f to reg, then applies the options section.
// Tasks are registered in name order; options may target tasks registered
// by Go code before Register is called.
func (f *File) Register(reg *pipeline.Registry) error {
	for _, name := range f.Names() {
		t := f.Tasks[name]
		opts := t.options()

		var err error
		if t.IsChain() {
			err = reg.RegisterChain(name, t.Chain, opts, t.around)
		} else {
			err = reg.Register(name, f.body(t), opts)
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}

	names := make([]string, 0, len(f.Options))
	for name := range f.Options {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		o := f.Options[name]
		err := reg.DefineOptions(name, pipeline.Options{
			Timeout:     o.Timeout,
			Description: o.Desc,
			Reads:       o.Reads,
			Writes:      o.Writes,
		})
		if err != nil {
			return fmt.Errorf("options %s: %w", name, err)
		}
	}
	return nil
}

// options derives the pipeline options. Flags named by guards and set
// are added to the declared reads and writes.
func (t *Task) options() pipeline.Options {
	reads := slices.Clone(t.Reads)
	writes := slices.Clone(t.Writes)
	for _, cond := range []string{t.SkipIf, t.RunIf} {
		if flag, _, ok := flagCondition(cond); ok {
			reads = appendUnique(reads, flag)
		}
	}
	if t.Consume != "" {
		reads = appendUnique(reads, t.Consume)
		writes = appendUnique(writes, t.Consume)
	}
	for _, k := range slices.Sorted(maps.Keys(t.Set)) {
		writes = appendUnique(writes, k)
	}
	return pipeline.Options{
		Timeout:     t.Timeout,
		Description: t.Desc,
		Reads:       reads,
		Writes:      writes,
	}
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

// body runs the task's commands in order, stopping at the first failure.
func (f *File) body(t *Task) pipeline.Body {
	env := make(map[string]string, len(f.Env)+len(t.Env))
	maps.Copy(env, f.Env)
	maps.Copy(env, t.Env)

	return pipeline.Func(func(rc *pipeline.Context) error {
		return t.around(rc, func() error {
			sh := rc.Shell()
			for _, command := range t.Cmds {
				cmd := shell.Cmd{Command: command, Dir: t.Dir, Env: env}
				rc.Info("$ %s", command)

				var err error
				if t.Retries > 0 {
					_, err = sh.RunRetry(cmd, t.Retries)
				} else {
					_, err = sh.Run(cmd)
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// around applies the task's guards and flag updates around next.
func (t *Task) around(rc *pipeline.Context, next func() error) error {
	if t.SkipIf != "" && evaluate(rc, t.SkipIf) {
		rc.Info("skipped: %s", t.SkipIf)
		return nil
	}
	if t.RunIf != "" && !evaluate(rc, t.RunIf) {
		rc.Info("skipped: run_if %s not met", t.RunIf)
		return nil
	}
	if t.Consume != "" && !rc.Flags().Consume(t.Consume) {
		rc.Info("skipped: flag %s not set", t.Consume)
		return nil
	}

	if err := next(); err != nil {
		return err
	}

	for _, k := range slices.Sorted(maps.Keys(t.Set)) {
		rc.Flags().Set(k, t.Set[k])
	}
	return nil
}

var testCondition = regexp.MustCompile(`^(-[efdLsrwx])\s+(.+)$`)

// evaluate reports whether a condition holds. A condition is either a
// test(1)-style file predicate ("-d dist") or a flag name, optionally
// negated with "!".
func evaluate(rc *pipeline.Context, cond string) bool {
	cond = strings.TrimSpace(cond)
	if m := testCondition.FindStringSubmatch(cond); m != nil {
		return rc.Shell().Test(m[1], m[2])
	}
	flag, negate, _ := flagCondition(cond)
	return rc.Flags().Bool(flag) != negate
}

// flagCondition parses a flag condition. ok is false for file predicates.
func flagCondition(cond string) (flag string, negate, ok bool) {
	cond = strings.TrimSpace(cond)
	if cond == "" || testCondition.MatchString(cond) {
		return "", false, false
	}
	if strings.HasPrefix(cond, "!") {
		return strings.TrimSpace(cond[1:]), true, true
	}
	return cond, false, true
}
