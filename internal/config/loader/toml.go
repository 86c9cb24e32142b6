package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/gantry/internal/config/layer"
)

// MaxIncludeDepth bounds nested @include directives.
const MaxIncludeDepth = 8

// TOMLLoader loads configuration from a TOML file.
//
// A top-level "@include" key names one file or a list of files, relative
// to the including file. Included files are merged first, so the including
// file wins.
type TOMLLoader struct {
	fs   FileSystem
	path string
}

// NewTOMLLoader creates a TOML loader for path on the OS file system.
func NewTOMLLoader(path string) *TOMLLoader {
	return &TOMLLoader{fs: OSFS{}, path: path}
}

// NewTOMLLoaderWithFS creates a TOML loader reading through fsys.
func NewTOMLLoaderWithFS(fsys FileSystem, path string) *TOMLLoader {
	return &TOMLLoader{fs: fsys, path: path}
}

// Path returns the file the loader reads.
func (l *TOMLLoader) Path() string {
	return l.path
}

// Load reads the file and its includes.
func (l *TOMLLoader) Load() (map[string]any, error) {
	return l.load(l.path, MaxIncludeDepth)
}

func (l *TOMLLoader) load(path string, depth int) (map[string]any, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("include depth exceeded at %s", path)
	}

	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	config, err := parseTOML(path, data)
	if err != nil {
		return nil, err
	}

	raw, ok := config["@include"]
	if !ok {
		return config, nil
	}
	delete(config, "@include")

	includes, err := includeList(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := l.load(inc, depth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", inc, err)
		}
		if sub == nil {
			return nil, fmt.Errorf("include %s: %w", inc, fs.ErrNotExist)
		}
		base = layer.DeepMerge(base, sub)
	}
	return layer.DeepMerge(base, config), nil
}

func includeList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("@include must be a string or array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("@include must be a string or array of strings, got %T", raw)
	}
}

func parseTOML(path string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		pe := &ParseError{Path: path, Message: err.Error(), Err: err}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			pe.Line, pe.Column = decErr.Position()
		}
		return nil, pe
	}
	if config == nil {
		config = make(map[string]any)
	}
	return config, nil
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
