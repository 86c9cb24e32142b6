// Package taskfile loads task definitions from gantry.yaml and registers
// them with a pipeline registry.
//
// A file declares shell tasks (cmds) and chains of other tasks (chain),
// plus an options section that amends tasks registered elsewhere:
//
//	default: build
//	env:
//	  CGO_ENABLED: "0"
//	tasks:
//	  clean:
//	    cmds: ["rm -rf dist"]
//	    consume: clean
//	  lint:
//	    cmds: ["go vet ./..."]
//	    timeout: 2m
//	    retries: 2
//	  build:
//	    chain: [clean, lint]
//	    set: {built: true}
//	options:
//	  deploy:
//	    timeout: 10m
//
// Files are validated against an embedded JSON schema before use.
package taskfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the task file name looked up in the working directory.
const DefaultFile = "gantry.yaml"

//go:embed schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("gantry.schema.json", schemaSource)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("invalid task file")

// File is a parsed task file.
type File struct {
	// Path is where the file was read from, if anywhere.
	Path string

	Version string
	// Default names the task run when none is given.
	Default string
	// Env applies to every command in the file.
	Env map[string]string

	Tasks   map[string]*Task
	Options map[string]*Options
}

// Task is one entry of the tasks section.
type Task struct {
	Name    string
	Desc    string
	Cmds    []string
	Chain   []string
	Timeout time.Duration
	Retries uint64
	Dir     string
	Env     map[string]string
	SkipIf  string
	RunIf   string
	Consume string
	Set     map[string]any
	Reads   []string
	Writes  []string
}

// IsChain reports whether the task runs other tasks instead of commands.
func (t *Task) IsChain() bool {
	return t.Chain != nil
}

// Options is one entry of the options section.
type Options struct {
	Desc    string
	Timeout time.Duration
	Reads   []string
	Writes  []string
}

// Names returns the task names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tasks))
	for name := range f.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and parses the task file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// raw mirrors the YAML layout.
type raw struct {
	Version any               `yaml:"version"`
	Default string            `yaml:"default"`
	Env     map[string]any    `yaml:"env"`
	Tasks   map[string]rawDef `yaml:"tasks"`
	Options map[string]rawDef `yaml:"options"`
}

type rawDef struct {
	Desc    string         `yaml:"desc"`
	Cmds    []string       `yaml:"cmds"`
	Chain   []string       `yaml:"chain"`
	Timeout any            `yaml:"timeout"`
	Retries uint64         `yaml:"retries"`
	Dir     string         `yaml:"dir"`
	Env     map[string]any `yaml:"env"`
	SkipIf  string         `yaml:"skip_if"`
	RunIf   string         `yaml:"run_if"`
	Consume string         `yaml:"consume"`
	Set     map[string]any `yaml:"set"`
	Reads   []string       `yaml:"reads"`
	Writes  []string       `yaml:"writes"`
}

// Parse validates and decodes a task file.
func Parse(data []byte) (*File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var r raw
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	f := &File{
		Default: r.Default,
		Env:     stringMap(r.Env),
		Tasks:   make(map[string]*Task, len(r.Tasks)),
		Options: make(map[string]*Options, len(r.Options)),
	}
	if r.Version != nil {
		f.Version = fmt.Sprint(r.Version)
	}

	for name, def := range r.Tasks {
		timeout, err := parseDuration(def.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: task %q: %v", ErrInvalid, name, err)
		}
		t := &Task{
			Name:    name,
			Desc:    def.Desc,
			Cmds:    def.Cmds,
			Chain:   def.Chain,
			Timeout: timeout,
			Retries: def.Retries,
			Dir:     def.Dir,
			Env:     stringMap(def.Env),
			SkipIf:  def.SkipIf,
			RunIf:   def.RunIf,
			Consume: def.Consume,
			Set:     def.Set,
			Reads:   def.Reads,
			Writes:  def.Writes,
		}
		if t.IsChain() && (t.Dir != "" || len(t.Env) > 0 || t.Retries > 0) {
			return nil, fmt.Errorf("%w: task %q: dir, env and retries apply to cmds only", ErrInvalid, name)
		}
		f.Tasks[name] = t
	}

	for name, def := range r.Options {
		timeout, err := parseDuration(def.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: options %q: %v", ErrInvalid, name, err)
		}
		f.Options[name] = &Options{Desc: def.Desc, Timeout: timeout, Reads: def.Reads, Writes: def.Writes}
	}

	if f.Default != "" {
		if _, ok := f.Tasks[f.Default]; !ok {
			return nil, fmt.Errorf("%w: default task %q is not defined", ErrInvalid, f.Default)
		}
	}
	if cycle := f.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: cyclic chain %s", ErrInvalid, strings.Join(cycle, " -> "))
	}
	return f, nil
}

// validate checks doc against the embedded schema. The document goes
// through JSON so the validator sees JSON-native types.
func validate(doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &SchemaError{Causes: flatten(ve)}
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// SchemaError lists schema violations as "location: message" lines.
type SchemaError struct {
	Causes []string
}

func (e *SchemaError) Error() string {
	return "invalid task file:\n  " + strings.Join(e.Causes, "\n  ")
}

// Is matches ErrInvalid.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalid
}

func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}

// findCycle reports a chain that reaches itself through other chains of
// this file.
func (f *File) findCycle() []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int)
	var walk func(name string, path []string) []string
	walk = func(name string, path []string) []string {
		t, ok := f.Tasks[name]
		if !ok || !t.IsChain() {
			return nil
		}
		switch state[name] {
		case active:
			return append(path, name)
		case done:
			return nil
		}
		state[name] = active
		for _, step := range t.Chain {
			if cycle := walk(step, append(path, name)); cycle != nil {
				return cycle
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range f.Names() {
		if cycle := walk(name, nil); cycle != nil {
			// Trim the lead-in so the path starts at the repeated task.
			last := cycle[len(cycle)-1]
			for i, n := range cycle {
				if n == last {
					return cycle[i:]
				}
			}
		}
	}
	return nil
}

func parseDuration(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case string:
		return time.ParseDuration(val)
	default:
		return 0, fmt.Errorf("timeout %v: want a duration", v)
	}
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
