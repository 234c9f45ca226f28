package loader

import "strings"

// DeepMerge layers src over dst and returns dst. Nested maps merge key by
// key; any other value in src replaces what dst held.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if have, ok := dst[k].(map[string]any); ok {
				dst[k] = DeepMerge(have, sub)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// Clone deep-copies a settings tree so later merges cannot alias it.
func Clone(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return cloneValue(src).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// Get looks up a dotted path such as "server.port".
func Get(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted path. Missing or non-map intermediates are
// replaced with fresh maps.
func Set(data map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	last := len(keys) - 1
	m := data
	for _, key := range keys[:last] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[keys[last]] = value
}
