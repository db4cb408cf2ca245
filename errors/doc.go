// Package errors provides structured error types for the bootstrap pipeline.
//
// Errors are categorized by Phase (which bootstrap stage failed) and Kind
// (error category). Load and compile failures that a browser would surface
// as unhandled rejections are returned explicitly as *Error values.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseFetch, errors.KindNotFound).
//		URL("./fx.wasm").
//		Detail("unexpected status %d", 404).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.HTTPStatus("./fx.wasm", 404)
//	err := errors.ExitCode("_start", 2)
//
// Matching with the standard errors.Is compares Phase and Kind; a target
// with an empty Kind matches every error of its Phase:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseSupport}) { ... }
package errors
