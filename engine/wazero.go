package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// Engine implements module compilation using the wazero runtime
type Engine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	supports map[string]*Support
	cfg      Config
	seq      atomic.Uint64
	wasiMu   sync.Mutex
	wasiDone atomic.Bool
	mu       sync.Mutex
}

// Config holds configuration for engine creation
type Config struct {
	// CacheDir persists compiled machine code between processes.
	// Empty means compile on every start.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CloseOnContextDone interrupts a running entry point when its context
	// is cancelled. Without it a hung entry point blocks until it returns.
	CloseOnContextDone bool

	// DisableStreaming removes the streaming capability from Compiler().
	DisableStreaming bool
}

// New creates a new wazero-based engine
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	e := &Engine{supports: make(map[string]*Support)}
	if cfg != nil {
		e.cfg = *cfg
	}

	if e.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	if e.cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}
	if e.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Detail("compilation cache %s", e.cfg.CacheDir).
				Cause(err).
				Build()
		}
		e.cache = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// Config returns the configuration the engine was created with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Runtime exposes the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Compiler returns the compilation capability of this engine. The result
// implements StreamingCompiler unless streaming is disabled.
func (e *Engine) Compiler() Compiler {
	if e.cfg.DisableStreaming {
		return bufferedCompiler{e}
	}
	return e
}

// Compile compiles a fully buffered module binary. url names the source
// for diagnostics only.
func (e *Engine) Compile(ctx context.Context, url string, bin []byte) (*Module, error) {
	start := time.Now()
	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Compile(url, err)
	}

	m := newModule(e, compiled, url)
	Logger().Debug("compiled module",
		zap.Uint64("module", m.id),
		zap.String("url", url),
		zap.Int("bytes", len(bin)),
		zap.Duration("took", time.Since(start)),
	)
	return m, nil
}

func (e *Engine) nextID() uint64 {
	return e.seq.Add(1)
}

// Close releases the runtime, every module and instance created from it,
// and the compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("close compilation cache: %w", cerr)
		}
	}
	return err
}
