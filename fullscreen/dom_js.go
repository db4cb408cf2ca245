//go:build js && wasm

package fullscreen

import (
	"fmt"
	"syscall/js"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// DOMElement adapts a DOM element to Binder.
type DOMElement struct {
	el js.Value
}

// NewDOMElement wraps el.
func NewDOMElement(el js.Value) *DOMElement {
	return &DOMElement{el: el}
}

// Lookup returns the element method name with the element as receiver.
func (d *DOMElement) Lookup(name string) (Func, bool) {
	m := d.el.Get(name)
	if m.Type() != js.TypeFunction {
		return nil, false
	}
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: %v", name, r)
			}
		}()
		m.Call("call", d.el)
		return nil
	}, true
}

// Bind sets name on the element; a nil fn sets it to undefined.
func (d *DOMElement) Bind(name string, fn Func) {
	if fn == nil {
		d.el.Set(name, js.Undefined())
		return
	}
	d.el.Set(name, js.FuncOf(func(this js.Value, args []js.Value) any {
		if err := fn(); err != nil {
			return err.Error()
		}
		return nil
	}))
}

// EnableSelector binds fullscreen on the first element matching selector.
func EnableSelector(selector string) (Binding, error) {
	el := js.Global().Get("document").Call("querySelector", selector)
	if !el.Truthy() {
		return Binding{}, errors.NotFound(errors.PhaseCapability, "element", selector)
	}
	return Enable(NewDOMElement(el)), nil
}
