package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// WASIModuleName is the import namespace of the built-in host support.
const WASIModuleName = wasi_snapshot_preview1.ModuleName

// InstallWASI instantiates the WASI preview1 host module for this engine's
// runtime. Safe for concurrent and repeated calls.
func (e *Engine) InstallWASI(ctx context.Context) error {
	if e.wasiDone.Load() {
		return nil
	}

	e.wasiMu.Lock()
	defer e.wasiMu.Unlock()

	if e.wasiDone.Load() {
		return nil
	}

	if e.runtime.Module(WASIModuleName) == nil {
		builder := e.runtime.NewHostModuleBuilder(WASIModuleName)
		wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Support(WASIModuleName, err)
		}
	}

	e.wasiDone.Store(true)
	return nil
}

// Support is a module instantiated under a fixed name before the binary
// module so that the latter can import it.
type Support struct {
	mod    api.Module
	module *Module
	name   string
}

// Name returns the import namespace the support module occupies.
func (s *Support) Name() string { return s.name }

// Module returns the compiled support module.
func (s *Support) Module() *Module { return s.module }

// LoadSupport instantiates m under name. A reactor-style _initialize
// export runs during instantiation; _start does not.
func (e *Engine) LoadSupport(ctx context.Context, name string, m *Module) (*Support, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseSupport, "support module needs an import name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.supports[name]; ok || e.runtime.Module(name) != nil {
		return nil, errors.New(errors.PhaseSupport, errors.KindInvalidInput).
			Detail("module name %q already in use", name).
			Build()
	}

	mc := m.moduleConfig(InstanceConfig{Name: name, StartFunctions: []string{"_initialize"}})
	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, mc)
	if err != nil {
		return nil, errors.Support(m.url, err)
	}
	m.instances.Add(1)

	s := &Support{mod: mod, module: m, name: name}
	e.supports[name] = s

	Logger().Debug("loaded support module",
		zap.String("name", name),
		zap.String("url", m.url),
	)
	return s, nil
}

// Support returns the support module registered under name.
func (e *Engine) Support(name string) (*Support, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.supports[name]
	return s, ok
}
