package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dshills/gantry/internal/config/layer"
	"github.com/dshills/gantry/internal/config/loader"
)

// ProjectFile is the project configuration file name.
const ProjectFile = "gantry.toml"

// Store provides access to the merged configuration.
type Store struct {
	mu     sync.RWMutex
	layers *layer.Stack

	userConfigDir string
	workDir       string
	file          string
	profile       string
	assignments   []string
	envPrefix     string
	defaults      map[string]any
}

// Option configures a Store.
type Option func(*Store)

// WithUserConfigDir sets the directory holding the user config.toml.
func WithUserConfigDir(dir string) Option {
	return func(s *Store) {
		s.userConfigDir = dir
	}
}

// WithWorkDir sets the directory searched for gantry.toml and profile files.
func WithWorkDir(dir string) Option {
	return func(s *Store) {
		s.workDir = dir
	}
}

// WithFile names the project file explicitly. It must exist.
func WithFile(path string) Option {
	return func(s *Store) {
		s.file = path
	}
}

// WithProfile selects gantry.<profile>.toml as an extra layer.
func WithProfile(profile string) Option {
	return func(s *Store) {
		s.profile = profile
	}
}

// WithAssignments adds key=value overrides at the highest priority.
func WithAssignments(assignments []string) Option {
	return func(s *Store) {
		s.assignments = append(s.assignments, assignments...)
	}
}

// WithEnvPrefix changes the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(s *Store) {
		s.envPrefix = prefix
	}
}

// WithDefaults merges extra built-in defaults over the standard ones.
func WithDefaults(defaults map[string]any) Option {
	return func(s *Store) {
		s.defaults = layer.DeepMerge(s.defaults, defaults)
	}
}

// New creates a Store holding only the built-in defaults. Call Load to
// read files, the environment, and assignments.
func New(opts ...Option) *Store {
	s := &Store{
		envPrefix: loader.EnvPrefix,
		defaults:  Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.userConfigDir == "" {
		s.userConfigDir = defaultUserConfigDir()
	}
	if s.workDir == "" {
		s.workDir, _ = os.Getwd()
	}
	s.layers = layer.NewStack(layer.New(layer.SourceDefaults, layer.CloneMap(s.defaults)))
	return s
}

// Load reads every layer. It can be called again to reload.
func (s *Store) Load(ctx context.Context) error {
	stack := layer.NewStack(layer.New(layer.SourceDefaults, layer.CloneMap(s.defaults)))

	type fileLayer struct {
		source   layer.Source
		path     string
		required bool
	}
	files := []fileLayer{
		{layer.SourceUser, filepath.Join(s.userConfigDir, "config.toml"), false},
	}
	if s.file != "" {
		files = append(files, fileLayer{layer.SourceProject, s.resolve(s.file), true})
	} else {
		files = append(files, fileLayer{layer.SourceProject, filepath.Join(s.workDir, ProjectFile), false})
	}
	if s.profile != "" {
		files = append(files, fileLayer{layer.SourceProfile, filepath.Join(s.workDir, "gantry."+s.profile+".toml"), true})
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := loader.NewTOMLLoader(f.path).Load()
		if err != nil {
			return &LoadError{Layer: f.source.String(), Path: f.path, Err: err}
		}
		if data == nil {
			if f.required {
				return &LoadError{Layer: f.source.String(), Path: f.path, Err: ErrFileNotFound}
			}
			continue
		}
		stack.Add(layer.FromFile(f.source, f.path, data))
	}

	env, err := loader.NewEnvLoader(s.envPrefix).Load()
	if err != nil {
		return &LoadError{Layer: layer.SourceEnv.String(), Err: err}
	}
	if len(env) > 0 {
		stack.Add(layer.New(layer.SourceEnv, env))
	}

	args, err := loader.NewArgsLoader(s.assignments).Load()
	if err != nil {
		return &LoadError{Layer: layer.SourceArgs.String(), Err: err}
	}
	if args != nil {
		stack.Add(layer.New(layer.SourceArgs, args))
	}

	s.mu.Lock()
	s.layers = stack
	s.mu.Unlock()
	return nil
}

// Files returns the configuration files that contributed a layer.
func (s *Store) Files() []string {
	var out []string
	for _, l := range s.stack().Layers() {
		if l.Path != "" {
			out = append(out, l.Path)
		}
	}
	return out
}

func (s *Store) stack() *layer.Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers
}

func (s *Store) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.workDir, path)
}

// Get returns the merged value at path. Map values are private copies.
func (s *Store) Get(path string) (any, bool) {
	return s.stack().Get(path)
}

// Has reports whether path is set in any layer.
func (s *Store) Has(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// Set overrides path at the highest priority for the rest of this Store's
// life. A later Load discards it.
func (s *Store) Set(path string, value any) {
	s.stack().Set(layer.SourceArgs, path, value)
}

// Which describes the layer that supplied path, e.g. "project (gantry.toml)".
// It returns "" when path is unset.
func (s *Store) Which(path string) string {
	l := s.stack().Which(path)
	if l == nil {
		return ""
	}
	return l.Origin()
}

// Merged returns a copy of the whole merged configuration.
func (s *Store) Merged() map[string]any {
	return s.stack().Merge()
}

// Paths returns every leaf setting path, sorted.
func (s *Store) Paths() []string {
	return layer.Paths(s.Merged())
}

// GetString returns a string value at the given path.
func (s *Store) GetString(path string) (string, error) {
	v, ok := s.Get(path)
	if !ok {
		return "", ErrSettingNotFound
	}
	str, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Expected: "string", Actual: typeName(v)}
	}
	return str, nil
}

// GetInt returns an integer value at the given path.
func (s *Store) GetInt(path string) (int, error) {
	v, ok := s.Get(path)
	if !ok {
		return 0, ErrSettingNotFound
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val == float64(int(val)) {
			return int(val), nil
		}
	case string:
		if i, err := strconv.Atoi(val); err == nil {
			return i, nil
		}
	}
	return 0, &TypeError{Path: path, Expected: "int", Actual: typeName(v)}
}

// GetBool returns a boolean value at the given path.
func (s *Store) GetBool(path string) (bool, error) {
	v, ok := s.Get(path)
	if !ok {
		return false, ErrSettingNotFound
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeError{Path: path, Expected: "bool", Actual: typeName(v)}
	}
	return b, nil
}

// GetDuration returns a duration at the given path. Strings are parsed
// with time.ParseDuration; bare integers are milliseconds.
func (s *Store) GetDuration(path string) (time.Duration, error) {
	v, ok := s.Get(path)
	if !ok {
		return 0, ErrSettingNotFound
	}
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case int64:
		return time.Duration(val) * time.Millisecond, nil
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d, nil
		}
	}
	return 0, &TypeError{Path: path, Expected: "duration", Actual: typeName(v)}
}

// GetStringSlice returns a string slice at the given path.
func (s *Store) GetStringSlice(path string) ([]string, error) {
	v, ok := s.Get(path)
	if !ok {
		return nil, ErrSettingNotFound
	}

	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
	}
}

// GetMap returns the merged sub-tree at path.
func (s *Store) GetMap(path string) (map[string]any, error) {
	v, ok := s.Get(path)
	if !ok {
		return nil, ErrSettingNotFound
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &TypeError{Path: path, Expected: "map", Actual: typeName(v)}
	}
	return m, nil
}

// Defaults returns the built-in default settings.
func Defaults() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level": "info",
			"color": true,
		},
		"shell": map[string]any{
			"path":          defaultShell(),
			"args":          []any{"-c"},
			"max_processes": 0,
		},
		"tasks": map[string]any{
			"file":    "gantry.yaml",
			"default": "default",
		},
		"watch": map[string]any{
			"debounce": "300ms",
			"ignore":   []any{".git", "node_modules"},
		},
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// defaultUserConfigDir returns the default user configuration directory.
func defaultUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gantry")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gantry")
}

// typeName returns the type name for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case int, int64:
		return "int"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case time.Duration:
		return "duration"
	case []string, []any:
		return "list"
	case map[string]any:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
