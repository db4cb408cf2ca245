// Package wasmbootstrap loads, runs and re-arms WebAssembly effect modules.
//
// The library reproduces the browser bootstrap sequence of a Go/wasm page
// (support script, streamed module, entry point, fresh instance per run) in
// two hosts: an in-process wazero host and a browser host that serves the
// JavaScript shim next to the compiled modules.
//
// # Architecture Overview
//
//	wasmbootstrap/       Root package with State, Console and handle interfaces
//	├── loader/          Bootstrap Loader: initialize, load, run, re-arm
//	├── engine/          wazero integration: compile, instantiate, call
//	├── fetch/           HTTP and file resource retrieval
//	├── capability/      Prioritized lookup over equivalent named features
//	├── fullscreen/      Vendor-prefixed fullscreen request/cancel binding
//	├── console/         Terminal console clearing
//	├── web/             Browser host: loader.js, index page, wasm serving
//	├── config/          TOML configuration (fx.toml)
//	├── errors/          Structured error types
//	└── cmd/fx/          Command line entry point
//
// # Quick Start
//
//	ld, err := loader.New(ctx, loader.Config{
//	    SupportURL: "./../support.wasm",
//	    ModuleURL:  "./fx.wasm",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ld.Close(ctx)
//
//	if err := ld.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	// The module handle is kept; the next Run uses a fresh instance.
//	if err := ld.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Run-once Execution Model
//
// A module that exits through its entry point cannot be entered again. The
// loader therefore treats every instance as single use: after each run it
// instantiates a replacement from the compiled module, which is never
// recompiled or refetched.
//
// # Thread Safety
//
// Loader is safe for concurrent use; Run calls are serialized. Instances
// returned by accessors must not be called directly while the loader owns
// them.
package wasmbootstrap
