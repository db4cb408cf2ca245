package web

import (
	"embed"
	"encoding/json"
	htmltemplate "html/template"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/fullscreen"
)

//go:embed assets/*.tmpl
var assets embed.FS

var (
	loaderTmpl = template.Must(template.ParseFS(assets, "assets/loader.js.tmpl"))
	indexTmpl  = htmltemplate.Must(htmltemplate.ParseFS(assets, "assets/index.html.tmpl"))
)

// Defaults match the layout of a demo directory tree: one directory per
// effect holding fx.wasm, with the support script at the root.
const (
	DefaultSupportURL = "./../wasm_exec.js"
	DefaultModuleURL  = "./fx.wasm"
	DefaultContainer  = "canvas-container"
)

// Bootstrap configures the generated browser shim.
type Bootstrap struct {
	SupportURL string
	ModuleURL  string
	// Container is the id of the element fullscreen is bound on.
	Container string
	// SkipConsoleClear drops the console.clear() before each run.
	SkipConsoleClear bool
}

func (b Bootstrap) withDefaults() Bootstrap {
	if b.SupportURL == "" {
		b.SupportURL = DefaultSupportURL
	}
	if b.ModuleURL == "" {
		b.ModuleURL = DefaultModuleURL
	}
	if b.Container == "" {
		b.Container = DefaultContainer
	}
	return b
}

func jsValue(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err) // strings and string slices always marshal
	}
	return string(out)
}

// RenderLoader writes loader.js for b.
func RenderLoader(w io.Writer, b Bootstrap) error {
	b = b.withDefaults()
	data := struct {
		SupportURL      string
		ModuleURL       string
		Container       string
		RequestVariants string
		CancelVariants  string
		RequestName     string
		CancelName      string
		ClearConsole    bool
	}{
		SupportURL:      jsValue(b.SupportURL),
		ModuleURL:       jsValue(b.ModuleURL),
		Container:       jsValue("#" + strings.TrimPrefix(b.Container, "#")),
		RequestVariants: jsValue(fullscreen.RequestVariants.Names()),
		CancelVariants:  jsValue(fullscreen.CancelVariants.Names()),
		RequestName:     fullscreen.RequestName,
		CancelName:      fullscreen.CancelName,
		ClearConsole:    !b.SkipConsoleClear,
	}
	if err := loaderTmpl.Execute(w, data); err != nil {
		return errors.Wrap(errors.PhaseServe, errors.KindInvalidData, err, "render loader.js")
	}
	return nil
}

// Page describes an index page: an effect page when Effects is empty,
// a listing otherwise.
type Page struct {
	Title       string
	LoaderURL   string
	ContainerID string
	Effects     []string
}

// RenderIndex writes index.html for p.
func RenderIndex(w io.Writer, p Page) error {
	if p.ContainerID == "" {
		p.ContainerID = DefaultContainer
	}
	p.ContainerID = strings.TrimPrefix(p.ContainerID, "#")
	if err := indexTmpl.Execute(w, p); err != nil {
		return errors.Wrap(errors.PhaseServe, errors.KindInvalidData, err, "render index.html")
	}
	return nil
}

// WasmExecPath locates the wasm_exec.js support script of a Go
// installation. An empty goroot uses the running toolchain's.
func WasmExecPath(goroot string) (string, error) {
	if goroot == "" {
		goroot = os.Getenv("GOROOT")
	}
	if goroot == "" {
		goroot = runtime.GOROOT()
	}
	candidates := []string{
		filepath.Join(goroot, "lib", "wasm", "wasm_exec.js"),
		filepath.Join(goroot, "misc", "wasm", "wasm_exec.js"),
	}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", errors.NotFound(errors.PhaseServe, "wasm_exec.js under", goroot)
}
