package engine

import (
	"context"
	"crypto/rand"
	"io"
	"path"
	"sort"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// Module is a compiled module handle. It is immutable after creation and
// can be instantiated any number of times.
type Module struct {
	engine    *Engine
	compiled  wazero.CompiledModule
	url       string
	id        uint64
	instances atomic.Uint64
}

func newModule(e *Engine, compiled wazero.CompiledModule, url string) *Module {
	return &Module{
		engine:   e,
		compiled: compiled,
		url:      url,
		id:       e.nextID(),
	}
}

// ID returns the handle identity; it never changes.
func (m *Module) ID() uint64 { return m.id }

// URL returns where the module was loaded from.
func (m *Module) URL() string { return m.url }

// Instantiations returns how many instances were created from m.
func (m *Module) Instantiations() uint64 { return m.instances.Load() }

// Exports returns the sorted names of exported functions.
func (m *Module) Exports() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasExport reports whether name is an exported function.
func (m *Module) HasExport(name string) bool {
	_, ok := m.compiled.ExportedFunctions()[name]
	return ok
}

// Imports returns "module.name" for each imported function, in import order.
func (m *Module) Imports() []string {
	defs := m.compiled.ImportedFunctions()
	out := make([]string, 0, len(defs))
	for _, def := range defs {
		mod, name, _ := def.Import()
		out = append(out, mod+"."+name)
	}
	return out
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    map[string]string
	// Name, when set, registers the instance so other modules can import
	// it. Entry-point instances stay anonymous.
	Name string
	// Args excludes the program name, which is derived from the module URL.
	Args []string
	// StartFunctions run during instantiation. Nil suppresses all of them
	// so the entry point only runs through Instance.Call.
	StartFunctions []string
}

func (m *Module) moduleConfig(cfg InstanceConfig) wazero.ModuleConfig {
	prog := path.Base(m.url)
	if prog == "." || prog == "/" || prog == "" {
		prog = "module"
	}

	mc := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStartFunctions(cfg.StartFunctions...).
		WithArgs(append([]string{prog}, cfg.Args...)...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mc = mc.WithEnv(k, cfg.Env[k])
	}

	if cfg.Stdin != nil {
		mc = mc.WithStdin(cfg.Stdin)
	}
	if cfg.Stdout != nil {
		mc = mc.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		mc = mc.WithStderr(cfg.Stderr)
	}
	return mc
}

// Instantiate creates a fresh instance handle from the compiled module.
func (m *Module) Instantiate(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, m.moduleConfig(cfg))
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	m.instances.Add(1)

	inst := &Instance{
		mod:    mod,
		parent: m,
		id:     m.engine.nextID(),
	}
	Logger().Debug("instantiated module",
		zap.Uint64("module", m.id),
		zap.Uint64("instance", inst.id),
	)
	return inst, nil
}

// Close releases the compiled code. Existing instances keep running.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
