// Package layer holds configuration layers and merges them by priority.
//
// Each layer is a nested map loaded from one source (built-in defaults, the
// user file, the project file, a profile file, the environment, or
// command-line assignments). Higher priority layers override lower ones.
// Maps merge recursively; every other value is replaced whole.
package layer

import "time"

// Source identifies where a layer came from.
type Source uint8

const (
	// SourceDefaults is the built-in defaults.
	SourceDefaults Source = iota
	// SourceUser is the user file ($XDG_CONFIG_HOME/gantry/config.toml).
	SourceUser
	// SourceProject is gantry.toml in the working directory.
	SourceProject
	// SourceProfile is gantry.<profile>.toml in the working directory.
	SourceProfile
	// SourceEnv is GANTRY_* environment variables.
	SourceEnv
	// SourceArgs is --set key=value assignments.
	SourceArgs
)

var sourceNames = [...]string{
	SourceDefaults: "defaults",
	SourceUser:     "user",
	SourceProject:  "project",
	SourceProfile:  "profile",
	SourceEnv:      "environment",
	SourceArgs:     "arguments",
}

// String returns the standard layer name for the source.
func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "unknown"
}

// Priority returns the default merge priority for the source.
func (s Source) Priority() int {
	return int(s) * 100
}

// Layer is a single configuration layer.
type Layer struct {
	// Name identifies the layer. Defaults to the source name.
	Name string

	// Priority determines merge order (higher overrides lower).
	Priority int

	Source Source

	// Path is the file the layer was read from, if any.
	Path string

	Data map[string]any

	// Loaded is when the layer was read.
	Loaded time.Time
}

// New creates a layer for source holding data.
// A nil data map is replaced by an empty one.
func New(source Source, data map[string]any) *Layer {
	if data == nil {
		data = make(map[string]any)
	}
	return &Layer{
		Name:     source.String(),
		Priority: source.Priority(),
		Source:   source,
		Data:     data,
		Loaded:   time.Now(),
	}
}

// FromFile creates a layer for source read from path.
func FromFile(source Source, path string, data map[string]any) *Layer {
	l := New(source, data)
	l.Path = path
	return l
}

// Origin describes the layer for diagnostics, e.g. "project (gantry.toml)".
func (l *Layer) Origin() string {
	if l.Path == "" {
		return l.Name
	}
	return l.Name + " (" + l.Path + ")"
}

// Clone returns a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	c := *l
	c.Data = CloneMap(l.Data)
	return &c
}
