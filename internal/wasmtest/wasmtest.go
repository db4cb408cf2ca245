// Package wasmtest builds tiny core wasm binaries for tests.
package wasmtest

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionExport   = 7
	sectionCode     = 10

	kindFunc     = 0x00
	funcTypeByte = 0x60

	I32 = 0x7f
)

// Preamble is the wasm magic number followed by binary version 1.
var Preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// FuncType is a function signature.
type FuncType struct {
	Params  []byte
	Results []byte
}

// Import is an imported function.
type Import struct {
	Module string
	Name   string
	Type   uint32
}

// Func is a defined function; Body excludes the locals vector and end opcode.
type Func struct {
	Export string
	Body   []byte
	Type   uint32
}

// Module is the set of sections the builder can emit.
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Func
}

// Encode returns the binary encoding of m.
func (m Module) Encode() []byte {
	out := append([]byte(nil), Preamble...)

	if len(m.Types) > 0 {
		var sec []byte
		sec = uleb(sec, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, funcTypeByte)
			sec = uleb(sec, uint32(len(ft.Params)))
			sec = append(sec, ft.Params...)
			sec = uleb(sec, uint32(len(ft.Results)))
			sec = append(sec, ft.Results...)
		}
		out = section(out, sectionType, sec)
	}

	if len(m.Imports) > 0 {
		var sec []byte
		sec = uleb(sec, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = name(sec, imp.Module)
			sec = name(sec, imp.Name)
			sec = append(sec, kindFunc)
			sec = uleb(sec, imp.Type)
		}
		out = section(out, sectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		var sec []byte
		sec = uleb(sec, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			sec = uleb(sec, f.Type)
		}
		out = section(out, sectionFunction, sec)

		var exports []byte
		count := uint32(0)
		for i, f := range m.Funcs {
			if f.Export == "" {
				continue
			}
			count++
			exports = name(exports, f.Export)
			exports = append(exports, kindFunc)
			exports = uleb(exports, uint32(len(m.Imports)+i))
		}
		if count > 0 {
			out = section(out, sectionExport, append(uleb(nil, count), exports...))
		}

		var code []byte
		code = uleb(code, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			body := append([]byte{0x00}, f.Body...) // no locals
			body = append(body, 0x0b)
			code = uleb(code, uint32(len(body)))
			code = append(code, body...)
		}
		out = section(out, sectionCode, code)
	}

	return out
}

func section(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = uleb(out, uint32(len(content)))
	return append(out, content...)
}

func name(out []byte, s string) []byte {
	out = uleb(out, uint32(len(s)))
	return append(out, s...)
}

func uleb(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(out []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

var void = FuncType{}

// Start returns a module whose _start returns normally.
func Start() []byte {
	return Module{
		Types: []FuncType{void},
		Funcs: []Func{{Export: "_start"}},
	}.Encode()
}

// Trap returns a module whose _start executes unreachable.
func Trap() []byte {
	return Module{
		Types: []FuncType{void},
		Funcs: []Func{{Export: "_start", Body: []byte{0x00}}},
	}.Encode()
}

// Loop returns a module whose _start never returns.
func Loop() []byte {
	return Module{
		Types: []FuncType{void},
		// loop br 0 end
		Funcs: []Func{{Export: "_start", Body: []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}}},
	}.Encode()
}

// Exit returns a module whose _start calls WASI proc_exit(code).
func Exit(code int32) []byte {
	body := sleb([]byte{0x41}, code) // i32.const code
	body = append(body, 0x10, 0x00)  // call 0
	return Module{
		Types:   []FuncType{void, {Params: []byte{I32}}},
		Imports: []Import{{Module: "wasi_snapshot_preview1", Name: "proc_exit", Type: 1}},
		Funcs:   []Func{{Export: "_start", Body: body}},
	}.Encode()
}

// Library returns a module exporting a single no-op function and no _start.
func Library(export string) []byte {
	return Module{
		Types: []FuncType{void},
		Funcs: []Func{{Export: export}},
	}.Encode()
}

// Importer returns a module whose _start calls module.name.
func Importer(module, fn string) []byte {
	return Module{
		Types:   []FuncType{void},
		Imports: []Import{{Module: module, Name: fn}},
		Funcs:   []Func{{Export: "_start", Body: []byte{0x10, 0x00}}},
	}.Encode()
}
