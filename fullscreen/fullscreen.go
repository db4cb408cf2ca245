// Package fullscreen binds a fullscreen request/cancel pair on a container
// element by probing vendor-prefixed variants.
package fullscreen

import (
	"sync"

	"github.com/wippyai/wasm-bootstrap/capability"
)

// Func invokes a fullscreen capability.
type Func func() error

// Element exposes named methods of a container.
type Element interface {
	Lookup(name string) (Func, bool)
}

// Binder is an Element that accepts new named methods. Bind with a nil fn
// removes the binding.
type Binder interface {
	Element
	Bind(name string, fn Func)
}

// Names the resolved capabilities are bound under.
const (
	RequestName = "requestFullScreen"
	CancelName  = "cancelFullScreen"
)

var (
	// RequestVariants lists fullscreen request methods in priority order.
	RequestVariants = capability.NewTable[Func](
		"webkitRequestFullScreen",
		"msRequestFullscreen",
		"mozRequestFullScreen",
		"requestFullScreen",
	)

	// CancelVariants lists fullscreen cancel methods in priority order.
	CancelVariants = capability.NewTable[Func](
		"webkitCancelFullScreen",
		"msCancelFullscreen",
		"mozCancelFullScreen",
		"cancelFullScreen",
	)
)

// Binding is the resolved request/cancel pair. Either side may be absent,
// in which case invoking it does nothing.
type Binding struct {
	request Func
	cancel  Func

	RequestVia string
	CancelVia  string
}

// Enable resolves both capabilities on el at call time and, when el is a
// Binder, binds them under RequestName and CancelName. It never fails.
func Enable(el Element) Binding {
	var b Binding
	if el == nil {
		return b
	}
	b.request, b.RequestVia, _ = RequestVariants.Resolve(el.Lookup)
	b.cancel, b.CancelVia, _ = CancelVariants.Resolve(el.Lookup)

	if binder, ok := el.(Binder); ok {
		binder.Bind(RequestName, b.request)
		binder.Bind(CancelName, b.cancel)
	}
	return b
}

// CanRequest reports whether a request variant was found.
func (b Binding) CanRequest() bool { return b.request != nil }

// CanCancel reports whether a cancel variant was found.
func (b Binding) CanCancel() bool { return b.cancel != nil }

// Request enters fullscreen, or does nothing when unsupported.
func (b Binding) Request() error {
	if b.request == nil {
		return nil
	}
	return b.request()
}

// Cancel leaves fullscreen, or does nothing when unsupported.
func (b Binding) Cancel() error {
	if b.cancel == nil {
		return nil
	}
	return b.cancel()
}

// Toggler flips between Request and Cancel.
type Toggler struct {
	Binding
	mu     sync.Mutex
	active bool
}

// NewToggler returns a Toggler starting outside fullscreen.
func NewToggler(b Binding) *Toggler {
	return &Toggler{Binding: b}
}

// Toggle switches state and reports whether fullscreen is now active.
// The state does not change when the underlying call fails.
func (t *Toggler) Toggle() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		if err := t.Cancel(); err != nil {
			return t.active, err
		}
		t.active = false
		return false, nil
	}
	if !t.CanRequest() {
		return false, nil
	}
	if err := t.Request(); err != nil {
		return t.active, err
	}
	t.active = true
	return true, nil
}

// Active reports the current state.
func (t *Toggler) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Methods is an in-memory Binder.
type Methods map[string]Func

func (m Methods) Lookup(name string) (Func, bool) {
	fn, ok := m[name]
	return fn, ok && fn != nil
}

func (m Methods) Bind(name string, fn Func) {
	if fn == nil {
		delete(m, name)
		return
	}
	m[name] = fn
}
