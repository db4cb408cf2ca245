// Package capability negotiates between equivalent features that a host
// may expose under different names.
//
// A Table lists the names in priority order. Resolve asks a lookup function
// for each name in turn and selects the first one present:
//
//	request := capability.NewTable[func() error](
//	    "webkitRequestFullScreen", "msRequestFullscreen", "requestFullScreen")
//	fn, name, ok := request.Resolve(el.Lookup)
//
// Absence is not an error; callers decide whether a missing capability is
// fatal or a silent no-op.
package capability

// Table is an ordered set of names for one capability.
type Table[T any] struct {
	names []string
}

// NewTable returns a table probing names in the given order.
func NewTable[T any](names ...string) Table[T] {
	return Table[T]{names: append([]string(nil), names...)}
}

// Names returns the names in priority order.
func (t Table[T]) Names() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of names.
func (t Table[T]) Len() int {
	return len(t.names)
}

// Resolve returns the first value lookup reports present, with its name.
func (t Table[T]) Resolve(lookup func(name string) (T, bool)) (T, string, bool) {
	for _, name := range t.names {
		if v, ok := lookup(name); ok {
			return v, name, true
		}
	}
	var zero T
	return zero, "", false
}

// Available returns every name lookup reports present, in priority order.
func (t Table[T]) Available(lookup func(name string) (T, bool)) []string {
	var out []string
	for _, name := range t.names {
		if _, ok := lookup(name); ok {
			out = append(out, name)
		}
	}
	return out
}

// Map adapts a map to a lookup function.
func Map[T any](m map[string]T) func(string) (T, bool) {
	return func(name string) (T, bool) {
		v, ok := m[name]
		return v, ok
	}
}
