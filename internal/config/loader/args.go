package loader

import (
	"fmt"
	"strings"

	"github.com/dshills/gantry/internal/config/layer"
)

// ArgsLoader turns key=value assignments into configuration.
type ArgsLoader struct {
	assignments []string
}

// NewArgsLoader creates a loader for assignments such as "build.outDir=out".
func NewArgsLoader(assignments []string) *ArgsLoader {
	return &ArgsLoader{assignments: assignments}
}

// Load parses every assignment. Values go through ParseValue.
func (l *ArgsLoader) Load() (map[string]any, error) {
	if len(l.assignments) == 0 {
		return nil, nil
	}
	config := make(map[string]any)
	for _, a := range l.assignments {
		key, value, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
			return nil, fmt.Errorf("invalid assignment %q: want key=value", a)
		}
		layer.SetByPath(config, key, ParseValue(value))
	}
	return config, nil
}
