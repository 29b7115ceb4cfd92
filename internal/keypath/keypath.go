// Package keypath provides dotted-path access into nested map[string]any
// documents, as decoded from JSON. A missing segment anywhere along a path
// yields nil rather than an error.
package keypath

import "strings"

// Path is a parsed dotted key path. Parse once, reuse everywhere.
type Path []string

// Parse splits a dotted path string into segments.
func Parse(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

// String reassembles the path into its dotted form.
func (p Path) String() string {
	return strings.Join([]string(p), ".")
}

// Root returns the first segment, or "" for an empty path.
func (p Path) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Get walks the path through nested maps and returns the value found, or nil
// if any segment is absent or a non-map value is hit before the last segment.
func Get(obj map[string]any, path Path) any {
	var cur any = obj
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// Set writes value at path, creating intermediate maps as needed. Setting
// through an existing non-map value replaces it with a map. An empty path is
// a no-op.
func Set(obj map[string]any, path Path, value any) {
	if len(path) == 0 {
		return
	}
	cur := obj
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// Pop removes and returns the value at path. The second return reports
// whether the value was present.
func Pop(obj map[string]any, path Path) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	parent := Get(obj, path[:len(path)-1])
	m, ok := parent.(map[string]any)
	if !ok {
		return nil, false
	}
	value, ok := m[path[len(path)-1]]
	if !ok {
		return nil, false
	}
	delete(m, path[len(path)-1])
	return value, true
}

// Transpose moves values between key paths within obj. Source paths that are
// absent are skipped.
func Transpose(obj map[string]any, moves map[string]string) {
	for from, to := range moves {
		if value, ok := Pop(obj, Parse(from)); ok {
			Set(obj, Parse(to), value)
		}
	}
}
