package loader

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	wasmbootstrap "github.com/wippyai/wasm-bootstrap"
	"github.com/wippyai/wasm-bootstrap/console"
	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/fetch"
)

// Loader drives one bootstrap: support, module, run, re-arm.
type Loader struct {
	fetcher fetch.Fetcher
	engine  *engine.Engine
	console wasmbootstrap.Console
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	log     *zap.Logger
	onState func(from, to wasmbootstrap.State)

	support  *engine.Support
	module   *engine.Module
	instance *engine.Instance
	failure  error

	cfg       Config
	ownEngine bool

	// mu serializes pipeline stages; a Run holds it until re-arm finishes.
	mu sync.Mutex
	// hmu guards the handle fields so accessors do not wait for a Run.
	hmu   sync.RWMutex
	state atomic.Int32
	runs  atomic.Uint64
}

// Option configures a Loader.
type Option func(*Loader)

// WithFetcher sets how support and module URLs are retrieved.
func WithFetcher(f fetch.Fetcher) Option {
	return func(l *Loader) { l.fetcher = f }
}

// WithEngine shares an engine; the loader will not close it.
func WithEngine(e *engine.Engine) Option {
	return func(l *Loader) { l.engine = e }
}

// WithConsole sets the console cleared before each run.
func WithConsole(c wasmbootstrap.Console) Option {
	return func(l *Loader) { l.console = c }
}

// WithLogger overrides the package logger for this loader.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithStdio wires the module's standard streams. Nil leaves a stream unset.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(l *Loader) {
		l.stdin = stdin
		l.stdout = stdout
		l.stderr = stderr
	}
}

// WithStateHook is called after every state transition. The hook runs on
// the goroutine driving the pipeline and must not call Initialize,
// LoadModule, Run or Start.
func WithStateHook(fn func(from, to wasmbootstrap.State)) Option {
	return func(l *Loader) { l.onState = fn }
}

// New creates a loader in the Uninitialized state.
func New(ctx context.Context, cfg Config, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Loader{cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(l)
	}

	if l.log == nil {
		l.log = Logger()
	}
	if l.console == nil {
		l.console = console.Nop{}
	}
	if l.fetcher == nil {
		f, err := fetch.New(".")
		if err != nil {
			return nil, err
		}
		l.fetcher = f
	}
	if l.engine == nil {
		e, err := engine.New(ctx, nil)
		if err != nil {
			return nil, err
		}
		l.engine = e
		l.ownEngine = true
	}
	if l.stdout == nil {
		l.stdout = os.Stdout
	}
	if l.stderr == nil {
		l.stderr = os.Stderr
	}
	return l, nil
}

// Config returns the effective configuration.
func (l *Loader) Config() Config { return l.cfg }

// State returns the current pipeline state.
func (l *Loader) State() wasmbootstrap.State {
	return wasmbootstrap.State(l.state.Load())
}

// Runs returns the number of completed entry point invocations.
func (l *Loader) Runs() uint64 { return l.runs.Load() }

// Module returns the module handle, or nil before LoadModule.
func (l *Loader) Module() *engine.Module {
	l.hmu.RLock()
	defer l.hmu.RUnlock()
	return l.module
}

// Instance returns the instance the next Run will use, or nil.
func (l *Loader) Instance() *engine.Instance {
	l.hmu.RLock()
	defer l.hmu.RUnlock()
	return l.instance
}

// Support returns the loaded support module, or nil.
func (l *Loader) Support() *engine.Support {
	l.hmu.RLock()
	defer l.hmu.RUnlock()
	return l.support
}

// Err returns the failure that moved the loader to the Failed state.
func (l *Loader) Err() error {
	l.hmu.RLock()
	defer l.hmu.RUnlock()
	return l.failure
}

func (l *Loader) transition(to wasmbootstrap.State) {
	from := wasmbootstrap.State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.log.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	if l.onState != nil {
		l.onState(from, to)
	}
}

func (l *Loader) fail(err error) error {
	l.hmu.Lock()
	l.failure = err
	l.hmu.Unlock()
	l.transition(wasmbootstrap.StateFailed)
	l.log.Error("bootstrap failed", zap.Error(err))
	return err
}

func (l *Loader) failed() error {
	if l.State() != wasmbootstrap.StateFailed {
		return nil
	}
	return l.Err()
}

// Initialize installs the built-in host imports and loads the support
// module. Nothing else proceeds until it succeeds; a failure is permanent.
func (l *Loader) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialize(ctx)
}

func (l *Loader) initialize(ctx context.Context) error {
	if err := l.failed(); err != nil {
		return err
	}
	if l.State() != wasmbootstrap.StateUninitialized {
		return nil
	}

	if err := l.engine.InstallWASI(ctx); err != nil {
		return l.fail(err)
	}

	if l.cfg.SupportURL != "" {
		s, err := l.loadSupport(ctx)
		if err != nil {
			return l.fail(errors.Support(l.cfg.SupportURL, err))
		}
		l.hmu.Lock()
		l.support = s
		l.hmu.Unlock()
		l.log.Info("support loaded",
			zap.String("url", l.cfg.SupportURL),
			zap.String("name", s.Name()),
		)
	}

	l.transition(wasmbootstrap.StateScriptLoaded)
	return nil
}

func (l *Loader) loadSupport(ctx context.Context) (*engine.Support, error) {
	resp, err := l.fetcher.Fetch(ctx, l.cfg.SupportURL)
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	bin, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Fetch(resp.URL, err)
	}
	m, err := l.engine.Compile(ctx, resp.URL, bin)
	if err != nil {
		return nil, err
	}
	return l.engine.LoadSupport(ctx, l.cfg.SupportName, m)
}

// LoadModule fetches, compiles and instantiates the module at url. It
// compiles while the body streams in when the engine offers streaming and
// the response is served as application/wasm; otherwise it buffers the
// whole body first. Any failure is permanent.
func (l *Loader) LoadModule(ctx context.Context, url string) (*engine.Module, *engine.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadModule(ctx, url)
}

func (l *Loader) loadModule(ctx context.Context, url string) (*engine.Module, *engine.Instance, error) {
	if err := l.failed(); err != nil {
		return nil, nil, err
	}
	switch l.State() {
	case wasmbootstrap.StateUninitialized:
		return nil, nil, errors.NotInitialized(errors.PhaseSupport, "runtime support")
	case wasmbootstrap.StateScriptLoaded:
	default:
		return nil, nil, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			URL(url).
			Detail("module already loaded").
			Build()
	}

	start := time.Now()
	m, streamed, err := l.compile(ctx, url)
	if err != nil {
		return nil, nil, l.fail(err)
	}

	inst, err := m.Instantiate(ctx, l.instanceConfig())
	if err != nil {
		return nil, nil, l.fail(err)
	}

	l.hmu.Lock()
	l.module = m
	l.instance = inst
	l.hmu.Unlock()

	l.log.Info("module compiled",
		zap.String("url", m.URL()),
		zap.Uint64("module", m.ID()),
		zap.Uint64("instance", inst.ID()),
		zap.Bool("streamed", streamed),
		zap.Duration("took", time.Since(start)),
	)
	l.transition(wasmbootstrap.StateModuleCompiled)
	return m, inst, nil
}

func (l *Loader) compile(ctx context.Context, url string) (*engine.Module, bool, error) {
	resp, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}
	defer resp.Close()

	comp := l.engine.Compiler()
	if sc, ok := comp.(engine.StreamingCompiler); ok && resp.Streamable() {
		m, err := sc.CompileStreaming(ctx, resp)
		return m, true, err
	}

	l.log.Info("streaming compilation unavailable, buffering module",
		zap.String("url", resp.URL),
		zap.String("content_type", resp.ContentType),
	)
	bin, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Fetch(resp.URL, err)
	}
	m, err := comp.Compile(ctx, resp.URL, bin)
	return m, false, err
}

func (l *Loader) instanceConfig() engine.InstanceConfig {
	return engine.InstanceConfig{
		Stdin:  l.stdin,
		Stdout: l.stdout,
		Stderr: l.stderr,
		Env:    l.cfg.Env,
		Args:   l.cfg.Args,
	}
}

// Run clears the console, runs the entry point of the current instance to
// completion and replaces the spent instance with a fresh one from the
// module handle. Concurrent calls wait for the previous re-arm.
//
// The entry point's own error is returned; the loader re-arms regardless,
// so a failed run can be retried. Only a failed re-arm is permanent.
func (l *Loader) Run(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run(ctx)
}

func (l *Loader) run(ctx context.Context) error {
	if err := l.failed(); err != nil {
		return err
	}

	l.hmu.RLock()
	m, inst := l.module, l.instance
	l.hmu.RUnlock()
	if inst == nil {
		return errors.NotInitialized(errors.PhaseRun, "instance")
	}

	if !l.cfg.SkipConsoleClear {
		if err := l.console.Clear(); err != nil {
			l.log.Warn("console clear failed", zap.Error(err))
		}
	}

	l.transition(wasmbootstrap.StateRunning)
	start := time.Now()
	runErr := inst.Call(ctx, l.cfg.Entry)
	n := l.runs.Add(1)

	fields := []zap.Field{
		zap.Uint64("run", n),
		zap.Uint64("instance", inst.ID()),
		zap.Duration("took", time.Since(start)),
	}
	if runErr != nil {
		l.log.Warn("entry point failed", append(fields, zap.Error(runErr))...)
	} else {
		l.log.Debug("entry point returned", fields...)
	}

	// Re-arm even when the caller's context is done; the next Run must
	// find a fresh instance.
	next, err := m.Instantiate(context.WithoutCancel(ctx), l.instanceConfig())
	if err != nil {
		l.hmu.Lock()
		l.instance = nil
		l.hmu.Unlock()
		return stderrors.Join(runErr, l.fail(err))
	}

	l.hmu.Lock()
	l.instance = next
	l.hmu.Unlock()
	l.transition(wasmbootstrap.StateIdle)
	return runErr
}

// Start runs the whole pipeline once: Initialize, LoadModule, Run.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.initialize(ctx); err != nil {
		return err
	}
	if l.Module() == nil {
		if _, _, err := l.loadModule(ctx, l.cfg.ModuleURL); err != nil {
			return err
		}
	}
	return l.run(ctx)
}

// Close discards the pending instance and, unless the engine was shared,
// the engine with every module it compiled.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hmu.Lock()
	inst := l.instance
	l.instance = nil
	l.hmu.Unlock()

	var err error
	if inst != nil && !inst.Spent() {
		err = inst.Close(ctx)
	}
	if l.ownEngine {
		err = stderrors.Join(err, l.engine.Close(ctx))
	}
	return err
}
