package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which bootstrap stage produced the error
type Phase string

const (
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseSupport     Phase = "support"     // runtime support loading
	PhaseFetch       Phase = "fetch"       // resource retrieval
	PhaseCompile     Phase = "compile"     // module compilation
	PhaseInstantiate Phase = "instantiate" // instance creation
	PhaseRun         Phase = "run"         // entry point execution
	PhaseCapability  Phase = "capability"  // capability negotiation
	PhaseServe       Phase = "serve"       // browser host
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindUnavailable    Kind = "unavailable"
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindNotInitialized Kind = "not_initialized"
	KindBusy           Kind = "busy"
	KindEntryFailed    Kind = "entry_failed"
	KindExitCode       Kind = "exit_code"
	KindUnsupported    Kind = "unsupported"
	KindHTTPStatus     Kind = "http_status"
)

// Error is the structured error type used by every bootstrap stage
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	URL    string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.URL != "" {
		b.WriteString(" at ")
		b.WriteString(e.URL)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Kind on the target matches any kind within the phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Phase != t.Phase {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// URL sets the resource the error refers to
func (b *Builder) URL(url string) *Builder {
	b.err.URL = url
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Fetch creates a resource retrieval error
func Fetch(url string, cause error) *Error {
	return &Error{
		Phase:  PhaseFetch,
		Kind:   KindUnavailable,
		URL:    url,
		Detail: "fetch resource",
		Cause:  cause,
	}
}

// HTTPStatus creates an error for a non-success HTTP response
func HTTPStatus(url string, status int) *Error {
	kind := KindHTTPStatus
	if status == 404 {
		kind = KindNotFound
	}
	return &Error{
		Phase:  PhaseFetch,
		Kind:   kind,
		URL:    url,
		Detail: fmt.Sprintf("unexpected status %d", status),
		Value:  status,
	}
}

// Support creates a runtime support loading error
func Support(url string, cause error) *Error {
	return &Error{
		Phase:  PhaseSupport,
		Kind:   KindUnavailable,
		URL:    url,
		Detail: "load runtime support",
		Cause:  cause,
	}
}

// Compile creates a module compilation error
func Compile(url string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidData,
		URL:    url,
		Detail: "compile module",
		Cause:  cause,
	}
}

// BadPreamble creates an error for bytes that are not a wasm binary
func BadPreamble(url string, got []byte) *Error {
	preview := got
	if len(preview) > 8 {
		preview = preview[:8]
	}
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidData,
		URL:    url,
		Detail: fmt.Sprintf("invalid wasm preamble: %x", preview),
		Value:  preview,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInvalidData,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// EntryFailed creates an error for an entry point that trapped or aborted
func EntryFailed(entry string, cause error) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindEntryFailed,
		Detail: fmt.Sprintf("entry point %q failed", entry),
		Cause:  cause,
	}
}

// ExitCode creates an error for a non-zero module exit
func ExitCode(entry string, code uint32) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindExitCode,
		Detail: fmt.Sprintf("entry point %q exited with code %d", entry, code),
		Value:  code,
	}
}

// Spent creates an error for an instance that has already run
func Spent(id uint64) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindBusy,
		Detail: fmt.Sprintf("instance %d already ran", id),
		Value:  id,
	}
}

// NotInitialized creates a not-initialized error for a missing stage
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
