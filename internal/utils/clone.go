package utils

import "time"

// DeepClone copies JSON-like values: maps, slices and scalars.
// Values of other types (functions, pointers, structs) are shared.
func DeepClone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepClone(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = CloneMap(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case time.Time:
		return val
	default:
		return v
	}
}

// CloneMap deep-copies a map. A nil map clones to nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepClone(v)
	}
	return out
}
