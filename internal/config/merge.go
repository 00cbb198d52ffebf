package config

// DeepMerge merges overlay into base, returning a new map. Nested maps
// merge recursively; any other value type is replaced by the overlay.
func DeepMerge(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(overlay))
	for key, value := range base {
		result[key] = deepCopy(value)
	}
	for key, value := range overlay {
		existing, ok := result[key].(map[string]any)
		next, isMap := value.(map[string]any)
		if ok && isMap {
			result[key] = DeepMerge(existing, next)
		} else {
			result[key] = deepCopy(value)
		}
	}
	return result
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return value
	}
}
