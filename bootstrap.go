package wasmbootstrap

// State is the position of a loader in the bootstrap pipeline.
type State int32

const (
	StateUninitialized State = iota
	StateScriptLoaded
	StateModuleCompiled
	StateRunning
	StateIdle
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateScriptLoaded:
		return "script-loaded"
	case StateModuleCompiled:
		return "module-compiled"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateFailed
}

// Console is the output surface cleared before every run.
type Console interface {
	Clear() error
}

// ModuleHandle is the compiled, reusable representation of a binary module.
type ModuleHandle interface {
	ID() uint64
	URL() string
}

// InstanceHandle is a single-use realization of a ModuleHandle.
type InstanceHandle interface {
	ID() uint64
	ModuleID() uint64
	Spent() bool
}
