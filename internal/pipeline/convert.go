package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Conversions used for configuration values and flag-bag entries. Values
// arrive from TOML, YAML, environment variables and command lines, so the
// same logical setting may be a bool, a string or a number.

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "on", "1":
			return true, true
		case "false", "no", "off", "0", "":
			return false, true
		}
		return false, false
	case int:
		return val != 0, true
	case int64:
		return val != 0, true
	case float64:
		return val != 0, true
	default:
		return false, false
	}
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case nil:
		return "", false
	case fmt.Stringer:
		return val.String(), true
	case bool, int, int64, float64:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case int32:
		return int(val), true
	case float64:
		return int(val), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		return i, err == nil
	default:
		return 0, false
	}
}

func toDuration(v any) (time.Duration, bool) {
	switch val := v.(type) {
	case time.Duration:
		return val, true
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(val))
		return d, err == nil
	case int:
		return time.Duration(val) * time.Millisecond, true
	case int64:
		return time.Duration(val) * time.Millisecond, true
	default:
		return 0, false
	}
}

func toStrings(v any) ([]string, bool) {
	switch val := v.(type) {
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := toString(item)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if val == "" {
			return nil, true
		}
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	default:
		return nil, false
	}
}
