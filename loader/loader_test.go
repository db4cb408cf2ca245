package loader

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sync"
	"testing"

	wasmbootstrap "github.com/wippyai/wasm-bootstrap"
	"github.com/wippyai/wasm-bootstrap/console"
	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/fetch"
	"github.com/wippyai/wasm-bootstrap/internal/wasmtest"
)

type resource struct {
	body        []byte
	contentType string
	status      int
}

// memFetcher serves resources from memory and records every request.
type memFetcher struct {
	resources map[string]resource
	mu        sync.Mutex
	log       []string
}

func newMemFetcher() *memFetcher {
	return &memFetcher{resources: make(map[string]resource)}
}

func (f *memFetcher) serve(ref string, body []byte, contentType string) {
	f.resources[ref] = resource{body: body, contentType: contentType}
}

func (f *memFetcher) fail(ref string, status int) {
	f.resources[ref] = resource{status: status}
}

func (f *memFetcher) Fetch(_ context.Context, ref string) (*fetch.Response, error) {
	f.mu.Lock()
	f.log = append(f.log, ref)
	f.mu.Unlock()

	r, ok := f.resources[ref]
	if !ok {
		return nil, errors.HTTPStatus(ref, 404)
	}
	if r.status != 0 {
		return nil, errors.HTTPStatus(ref, r.status)
	}
	return &fetch.Response{
		Body:        io.NopCloser(bytes.NewReader(r.body)),
		URL:         ref,
		ContentType: r.contentType,
		Length:      int64(len(r.body)),
	}, nil
}

func (f *memFetcher) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *memFetcher) count(ref string) int {
	n := 0
	for _, r := range f.requests() {
		if r == ref {
			n++
		}
	}
	return n
}

const (
	supportURL = "./../support.wasm"
	moduleURL  = "./fx.wasm"
)

func newTestLoader(t *testing.T, cfg Config, f fetch.Fetcher, opts ...Option) (*Loader, *console.Counting) {
	t.Helper()
	ctx := context.Background()
	cons := console.NewCounting(nil)

	opts = append([]Option{
		WithFetcher(f),
		WithConsole(cons),
		WithStdio(nil, io.Discard, io.Discard),
	}, opts...)

	l, err := New(ctx, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close(ctx) })
	return l, cons
}

func TestLoader_SupportLoadsBeforeModule(t *testing.T) {
	f := newMemFetcher()
	f.serve(supportURL, wasmtest.Library("tick"), fetch.ContentTypeWasm)
	f.serve(moduleURL, wasmtest.Importer("fxsupport", "tick"), fetch.ContentTypeWasm)

	l, _ := newTestLoader(t, Config{SupportURL: supportURL, SupportName: "fxsupport", ModuleURL: moduleURL}, f)
	ctx := context.Background()

	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reqs := f.requests()
	if len(reqs) != 2 || reqs[0] != supportURL || reqs[1] != moduleURL {
		t.Errorf("requests = %v, want support then module once each", reqs)
	}
	if s := l.Support(); s == nil || s.Name() != "fxsupport" {
		t.Errorf("Support = %v", s)
	}
}

func TestLoader_RearmAfterRun(t *testing.T) {
	f := newMemFetcher()
	f.serve(moduleURL, wasmtest.Exit(0), fetch.ContentTypeWasm)

	l, _ := newTestLoader(t, Config{ModuleURL: moduleURL}, f)
	ctx := context.Background()

	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m, first, err := l.LoadModule(ctx, moduleURL)
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if l.State() != wasmbootstrap.StateModuleCompiled {
		t.Errorf("State = %v, want module-compiled", l.State())
	}

	seen := map[uint64]bool{first.ID(): true}
	prev := first
	for i := 0; i < 3; i++ {
		if err := l.Run(ctx); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if !prev.Spent() {
			t.Errorf("run %d: previous instance should be spent", i)
		}
		next := l.Instance()
		if next == nil {
			t.Fatalf("run %d: no instance after re-arm", i)
		}
		if seen[next.ID()] {
			t.Errorf("run %d: instance %d reused", i, next.ID())
		}
		seen[next.ID()] = true
		if next.ModuleID() != m.ID() || l.Module() != m {
			t.Errorf("run %d: module handle changed", i)
		}
		if next.Spent() {
			t.Errorf("run %d: fresh instance is spent", i)
		}
		prev = next
	}

	if l.Runs() != 3 {
		t.Errorf("Runs = %d, want 3", l.Runs())
	}
	if l.State() != wasmbootstrap.StateIdle {
		t.Errorf("State = %v, want idle", l.State())
	}
	if f.count(moduleURL) != 1 {
		t.Errorf("module fetched %d times, want 1", f.count(moduleURL))
	}
	if m.Instantiations() != 4 {
		t.Errorf("Instantiations = %d, want 4", m.Instantiations())
	}
}

func TestLoader_BufferedFallback(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		contentType string
		engineCfg   *engine.Config
	}{
		{"streaming", fetch.ContentTypeWasm, nil},
		{"wrong content type", "application/octet-stream", nil},
		{"streaming disabled", fetch.ContentTypeWasm, &engine.Config{DisableStreaming: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newMemFetcher()
			f.serve(moduleURL, wasmtest.Start(), tc.contentType)

			eng, err := engine.New(ctx, tc.engineCfg)
			if err != nil {
				t.Fatalf("engine.New: %v", err)
			}
			defer eng.Close(ctx)

			l, cons := newTestLoader(t, Config{ModuleURL: moduleURL}, f, WithEngine(eng))
			if err := l.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			m := l.Module()
			if m == nil || !m.HasExport("_start") {
				t.Fatal("module should expose _start")
			}
			if l.Instance() == nil || l.Runs() != 1 || cons.Count() != 1 {
				t.Errorf("runs=%d clears=%d", l.Runs(), cons.Count())
			}
		})
	}
}

func TestLoader_SupportFailureBlocksModule(t *testing.T) {
	f := newMemFetcher()
	f.fail(supportURL, 404)
	f.serve(moduleURL, wasmtest.Start(), fetch.ContentTypeWasm)

	l, cons := newTestLoader(t, Config{SupportURL: supportURL, ModuleURL: moduleURL}, f)
	ctx := context.Background()

	err := l.Start(ctx)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSupport}) {
		t.Fatalf("expected support error, got %v", err)
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseFetch, Kind: errors.KindNotFound}) {
		t.Errorf("cause should be the 404, got %v", err)
	}
	if l.State() != wasmbootstrap.StateFailed {
		t.Errorf("State = %v, want failed", l.State())
	}

	if _, _, err := l.LoadModule(ctx, moduleURL); err == nil {
		t.Error("LoadModule after support failure should fail")
	}
	if err := l.Run(ctx); err == nil {
		t.Error("Run after support failure should fail")
	}
	if f.count(moduleURL) != 0 {
		t.Errorf("module fetched %d times, want 0", f.count(moduleURL))
	}
	if cons.Count() != 0 || l.Runs() != 0 {
		t.Errorf("clears=%d runs=%d, want none", cons.Count(), l.Runs())
	}
	if l.Err() == nil {
		t.Error("Err should report the failure")
	}
}

func TestLoader_ModuleFailureNeverRuns(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memFetcher)
		phase errors.Phase
	}{
		{"fetch 404", func(f *memFetcher) {}, errors.PhaseFetch},
		{"fetch 500", func(f *memFetcher) { f.fail(moduleURL, 500) }, errors.PhaseFetch},
		{"malformed", func(f *memFetcher) { f.serve(moduleURL, []byte("\x00asm\x01\x00\x00\x00\xff\xff"), fetch.ContentTypeWasm) }, errors.PhaseCompile},
		{"html page", func(f *memFetcher) { f.serve(moduleURL, []byte("<html></html>"), "text/html") }, errors.PhaseCompile},
		{"missing import", func(f *memFetcher) {
			f.serve(moduleURL, wasmtest.Importer("absent", "tick"), fetch.ContentTypeWasm)
		}, errors.PhaseInstantiate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newMemFetcher()
			tc.setup(f)

			l, cons := newTestLoader(t, Config{ModuleURL: moduleURL}, f)
			err := l.Start(context.Background())
			if !stderrors.Is(err, &errors.Error{Phase: tc.phase}) {
				t.Fatalf("expected %s error, got %v", tc.phase, err)
			}
			if cons.Count() != 0 || l.Runs() != 0 {
				t.Errorf("clears=%d runs=%d, want none", cons.Count(), l.Runs())
			}
			if l.State() != wasmbootstrap.StateFailed {
				t.Errorf("State = %v, want failed", l.State())
			}
			if l.Instance() != nil {
				t.Error("no instance should exist")
			}
		})
	}
}

func TestLoader_NormalReturnClearsOnce(t *testing.T) {
	f := newMemFetcher()
	f.serve(moduleURL, wasmtest.Start(), fetch.ContentTypeWasm)

	var order []string
	cons := &hookConsole{clear: func() { order = append(order, "clear") }}
	l, _ := newTestLoader(t, Config{ModuleURL: moduleURL}, f,
		WithConsole(cons),
		WithStateHook(func(from, to wasmbootstrap.State) {
			order = append(order, to.String())
		}),
	)

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"script-loaded", "module-compiled", "clear", "running", "idle"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if inst := l.Instance(); inst == nil || inst.Spent() {
		t.Error("a fresh instance should be ready")
	}
}

type hookConsole struct {
	clear func()
}

func (h *hookConsole) Clear() error {
	h.clear()
	return nil
}

func TestLoader_SkipConsoleClear(t *testing.T) {
	f := newMemFetcher()
	f.serve(moduleURL, wasmtest.Start(), fetch.ContentTypeWasm)

	l, cons := newTestLoader(t, Config{ModuleURL: moduleURL, SkipConsoleClear: true}, f)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cons.Count() != 0 {
		t.Errorf("console cleared %d times, want 0", cons.Count())
	}
}

func TestLoader_EntryFailureStillRearms(t *testing.T) {
	tests := []struct {
		name string
		bin  []byte
		kind errors.Kind
	}{
		{"trap", wasmtest.Trap(), errors.KindEntryFailed},
		{"exit code", wasmtest.Exit(2), errors.KindExitCode},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newMemFetcher()
			f.serve(moduleURL, tc.bin, fetch.ContentTypeWasm)

			l, _ := newTestLoader(t, Config{ModuleURL: moduleURL}, f)
			ctx := context.Background()

			err := l.Start(ctx)
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRun, Kind: tc.kind}) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if l.State() != wasmbootstrap.StateIdle {
				t.Errorf("State = %v, want idle", l.State())
			}
			before := l.Instance()
			if before == nil {
				t.Fatal("loader should have re-armed")
			}
			if err := l.Run(ctx); err == nil {
				t.Error("second run should fail the same way")
			}
			if l.Instance() == before {
				t.Error("second run should re-arm again")
			}
			if l.Runs() != 2 {
				t.Errorf("Runs = %d, want 2", l.Runs())
			}
		})
	}
}

func TestLoader_ConcurrentRunsSerialize(t *testing.T) {
	f := newMemFetcher()
	f.serve(moduleURL, wasmtest.Start(), fetch.ContentTypeWasm)

	l, cons := newTestLoader(t, Config{ModuleURL: moduleURL}, f)
	ctx := context.Background()
	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, _, err := l.LoadModule(ctx, moduleURL); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Run(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	}
	if l.Runs() != n || cons.Count() != n {
		t.Errorf("runs=%d clears=%d, want %d", l.Runs(), cons.Count(), n)
	}
}

func TestLoader_OrderingErrors(t *testing.T) {
	f := newMemFetcher()
	f.serve(moduleURL, wasmtest.Start(), fetch.ContentTypeWasm)

	l, _ := newTestLoader(t, Config{ModuleURL: moduleURL}, f)
	ctx := context.Background()

	if _, _, err := l.LoadModule(ctx, moduleURL); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseSupport, Kind: errors.KindNotInitialized}) {
		t.Errorf("LoadModule before Initialize: %v", err)
	}
	if err := l.Run(ctx); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindNotInitialized}) {
		t.Errorf("Run before LoadModule: %v", err)
	}
	if len(f.requests()) != 0 {
		t.Errorf("requests = %v, want none", f.requests())
	}

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := l.LoadModule(ctx, moduleURL); err == nil {
		t.Error("second LoadModule should fail")
	}
	if err := l.Start(ctx); err != nil {
		t.Errorf("Start on a loaded module should just run: %v", err)
	}
	if l.Runs() != 2 {
		t.Errorf("Runs = %d, want 2", l.Runs())
	}
}

func TestLoader_ModuleStdout(t *testing.T) {
	f := newMemFetcher()
	f.serve(moduleURL, wasmtest.Start(), fetch.ContentTypeWasm)

	var out bytes.Buffer
	l, _ := newTestLoader(t, Config{ModuleURL: moduleURL, Args: []string{"-w", "640"}, Env: map[string]string{"FX": "1"}}, f,
		WithStdio(nil, &out, &out),
	)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("module wrote %q", out.String())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"full", Config{SupportURL: supportURL, ModuleURL: moduleURL, Entry: "run"}, false},
		{"entry whitespace", Config{Entry: "_start now"}, true},
		{"same urls", Config{SupportURL: moduleURL, ModuleURL: moduleURL}, true},
		{"bad env", Config{Env: map[string]string{"A=B": "c"}}, true},
		{"empty env key", Config{Env: map[string]string{"": "c"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ModuleURL != DefaultModuleURL || cfg.Entry != DefaultEntry || cfg.SupportName != DefaultSupportName {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.SupportURL != "" {
		t.Error("support should stay optional")
	}
}
