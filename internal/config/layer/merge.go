package layer

import (
	"sort"
	"strings"
)

// DeepMerge recursively merges src into dst and returns dst.
// Values in src override values in dst. Maps merge recursively;
// other values are replaced by a deep copy of the src value.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = cloneValue(srcVal)
	}
	return dst
}

// CloneMap returns a deep copy of src. Nil stays nil.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return val
	}
}

// GetByPath retrieves a value from a nested map using a dot-separated path.
func GetByPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	current := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetByPath sets a value in a nested map using a dot-separated path,
// creating intermediate maps and replacing non-map values along the way.
func SetByPath(data map[string]any, path string, value any) {
	if data == nil || path == "" {
		return
	}

	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Paths returns the sorted dot-separated paths of every leaf in data.
func Paths(data map[string]any) []string {
	var out []string
	var walk func(m map[string]any, prefix string)
	walk = func(m map[string]any, prefix string) {
		for k, v := range m {
			full := k
			if prefix != "" {
				full = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
				walk(nested, full)
				continue
			}
			out = append(out, full)
		}
	}
	walk(data, "")
	sort.Strings(out)
	return out
}
