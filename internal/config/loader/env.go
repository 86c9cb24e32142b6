package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/gantry/internal/config/layer"
)

// EnvPrefix is the prefix of environment variables read into configuration.
const EnvPrefix = "GANTRY_"

// EnvLoader loads configuration from prefixed environment variables.
//
// GANTRY_BUILD_OUT_DIR maps to build.outDir: the first segment names the
// section and the rest form a camelCase key. Explicit mappings override
// the derived path.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	environ func() []string
}

// NewEnvLoader creates an environment loader for prefix, which should
// include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix: prefix,
		mapping: map[string]string{
			prefix + "LOG_LEVEL":  "log.level",
			prefix + "SHELL":      "shell.path",
			prefix + "TASKS_FILE": "tasks.file",
		},
		environ: os.Environ,
	}
}

// Map assigns an explicit config path to an environment variable.
func (l *EnvLoader) Map(envVar, path string) {
	l.mapping[envVar] = path
}

// Load reads every prefixed variable.
// Empty values are kept as empty strings.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) || name == l.prefix {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = envToPath(strings.TrimPrefix(name, l.prefix))
		}
		layer.SetByPath(config, path, ParseValue(value))
	}
	return config, nil
}

// envToPath converts BUILD_OUT_DIR to build.outDir.
func envToPath(name string) string {
	parts := strings.Split(strings.ToLower(name), "_")
	section := parts[0]
	if len(parts) == 1 {
		return section
	}
	key := parts[1]
	for _, p := range parts[2:] {
		if p != "" {
			key += strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return section + "." + key
}

// ParseValue converts a string to the most specific type it spells:
// bool, int64, float64, time.Duration, a JSON array or object, or the
// string itself.
func ParseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}
