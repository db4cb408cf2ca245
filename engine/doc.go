// Package engine compiles, instantiates and runs core WebAssembly modules.
//
// This package wraps wazero with the run-once execution model the bootstrap
// loader relies on.
//
// # Architecture
//
// The engine package provides three main types:
//
//	Engine   - Owns a wazero runtime, its WASI host module and support modules
//	Module   - A compiled module handle; immutable, reusable, stable ID
//	Instance - A single-use instance handle; its entry point can run once
//
// # Compilation
//
// Compile takes a fully buffered binary. CompileStreaming takes an in-flight
// response: the wasm preamble is checked from the first eight bytes before
// the rest of the body is read, so a mis-served HTML error page fails fast.
// Engines configured with DisableStreaming expose only the buffered path
// through Compiler(), which makes callers take their fallback.
//
// # Run-once Instances
//
// Instances are created with start functions suppressed and are anonymous,
// so any number of successive instances of one Module can exist. Call
// invokes the entry point, then closes the instance; a spent instance
// refuses further calls. A WASI proc_exit(0) counts as a normal return.
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use.
// Instance is NOT thread-safe and should be used by a single goroutine.
package engine
