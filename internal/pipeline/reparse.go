package pipeline

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

// FlagKind is the value type of a declared task flag.
type FlagKind int

const (
	// FlagBool is a boolean switch (--release, --release=false).
	FlagBool FlagKind = iota
	// FlagString is a string value.
	FlagString
	// FlagInt is an integer value.
	FlagInt
	// FlagDuration is a Go duration string (30s, 2m).
	FlagDuration
	// FlagStrings is a repeatable or comma-separated list.
	FlagStrings
)

// FlagDef declares one flag a task wants to read from the run's arguments.
type FlagDef struct {
	// Name is the long flag name, without dashes.
	Name string
	// Short is an optional one-letter shorthand.
	Short string
	// Kind is the value type.
	Kind FlagKind
	// Default applies when neither the arguments nor Config provide a value.
	Default any
	// Config is an optional configuration path consulted before Default.
	Config string
	// Usage is a one-line description.
	Usage string
}

// FlagSpec is the declarative description passed to Context.Reparse.
type FlagSpec []FlagDef

// TaskOptions is the task-local result of Reparse.
type TaskOptions struct {
	values  map[string]any
	changed map[string]bool
	args    []string
}

// Value returns the raw value of a declared flag.
func (o *TaskOptions) Value(name string) (any, bool) {
	v, ok := o.values[name]
	return v, ok
}

// Bool returns a declared boolean flag.
func (o *TaskOptions) Bool(name string) bool {
	b, _ := o.values[name].(bool)
	return b
}

// String returns a declared string flag.
func (o *TaskOptions) String(name string) string {
	s, _ := o.values[name].(string)
	return s
}

// Int returns a declared integer flag.
func (o *TaskOptions) Int(name string) int {
	i, _ := o.values[name].(int)
	return i
}

// Duration returns a declared duration flag.
func (o *TaskOptions) Duration(name string) time.Duration {
	d, _ := o.values[name].(time.Duration)
	return d
}

// Strings returns a declared list flag.
func (o *TaskOptions) Strings(name string) []string {
	s, _ := o.values[name].([]string)
	return slices.Clone(s)
}

// Changed reports whether the flag was given explicitly on the command line.
func (o *TaskOptions) Changed(name string) bool {
	return o.changed[name]
}

// Args returns the positional arguments left after flag parsing.
func (o *TaskOptions) Args() []string {
	return slices.Clone(o.args)
}

// Map returns a copy of all resolved values.
func (o *TaskOptions) Map() map[string]any {
	return maps.Clone(o.values)
}

// reparse derives task-local options from args.
// Precedence per flag: explicit argument, then cfg at def.Config, then def.Default.
// Flags not declared in spec are ignored so every task can read its own
// subset of the same argument vector.
func reparse(task string, args []string, spec FlagSpec, cfg func(path string) (any, bool)) (*TaskOptions, error) {
	fs := pflag.NewFlagSet(task, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	getters := make(map[string]func() any, len(spec))
	for _, def := range spec {
		if def.Name == "" {
			return nil, fmt.Errorf("reparse %s: flag without a name", task)
		}
		if fs.Lookup(def.Name) != nil {
			return nil, fmt.Errorf("reparse %s: flag %q declared twice", task, def.Name)
		}

		fallback := def.Default
		if def.Config != "" && cfg != nil {
			if v, ok := cfg(def.Config); ok {
				fallback = v
			}
		}

		get, err := defineFlag(fs, def, fallback)
		if err != nil {
			return nil, fmt.Errorf("reparse %s: %w", task, err)
		}
		getters[def.Name] = get
	}

	if err := fs.Parse(slices.Clone(args)); err != nil {
		return nil, fmt.Errorf("reparse %s: %w", task, err)
	}

	opts := &TaskOptions{
		values:  make(map[string]any, len(spec)),
		changed: make(map[string]bool, len(spec)),
		args:    fs.Args(),
	}
	for name, get := range getters {
		opts.values[name] = get()
		opts.changed[name] = fs.Changed(name)
	}
	return opts, nil
}

func defineFlag(fs *pflag.FlagSet, def FlagDef, fallback any) (func() any, error) {
	invalid := func() error {
		return fmt.Errorf("flag %q: default %v (%T) does not fit its kind", def.Name, fallback, fallback)
	}

	switch def.Kind {
	case FlagBool:
		var d bool
		if fallback != nil {
			b, ok := toBool(fallback)
			if !ok {
				return nil, invalid()
			}
			d = b
		}
		p := fs.BoolP(def.Name, def.Short, d, def.Usage)
		return func() any { return *p }, nil

	case FlagString:
		var d string
		if fallback != nil {
			s, ok := toString(fallback)
			if !ok {
				return nil, invalid()
			}
			d = s
		}
		p := fs.StringP(def.Name, def.Short, d, def.Usage)
		return func() any { return *p }, nil

	case FlagInt:
		var d int
		if fallback != nil {
			i, ok := toInt(fallback)
			if !ok {
				return nil, invalid()
			}
			d = i
		}
		p := fs.IntP(def.Name, def.Short, d, def.Usage)
		return func() any { return *p }, nil

	case FlagDuration:
		var d time.Duration
		if fallback != nil {
			v, ok := toDuration(fallback)
			if !ok {
				return nil, invalid()
			}
			d = v
		}
		p := fs.DurationP(def.Name, def.Short, d, def.Usage)
		return func() any { return *p }, nil

	case FlagStrings:
		var d []string
		if fallback != nil {
			v, ok := toStrings(fallback)
			if !ok {
				return nil, invalid()
			}
			d = v
		}
		p := fs.StringSliceP(def.Name, def.Short, d, def.Usage)
		return func() any { return slices.Clone(*p) }, nil

	default:
		return nil, fmt.Errorf("flag %q: unknown kind %d", def.Name, def.Kind)
	}
}
