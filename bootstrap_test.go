package wasmbootstrap

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateScriptLoaded, "script-loaded"},
		{StateModuleCompiled, "module-compiled"},
		{StateRunning, "running"},
		{StateIdle, "idle"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for s := StateUninitialized; s < StateFailed; s++ {
		if s.Terminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
	if !StateFailed.Terminal() {
		t.Error("failed should be terminal")
	}
}
