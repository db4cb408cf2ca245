package engine

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// Instance is a single-use instance handle.
type Instance struct {
	mod    api.Module
	parent *Module
	id     uint64
	spent  atomic.Bool
}

// ID returns the handle identity, unique within the engine.
func (i *Instance) ID() uint64 { return i.id }

// ModuleID returns the ID of the module handle this instance derives from.
func (i *Instance) ModuleID() uint64 { return i.parent.id }

// Module returns the module handle this instance derives from.
func (i *Instance) Module() *Module { return i.parent }

// Spent reports whether the entry point already ran.
func (i *Instance) Spent() bool { return i.spent.Load() }

// Call runs the exported function entry to completion and closes the
// instance. It fails without side effects when the instance is spent.
func (i *Instance) Call(ctx context.Context, entry string) error {
	if i.spent.Swap(true) {
		return errors.Spent(i.id)
	}
	defer i.mod.Close(ctx)

	fn := i.mod.ExportedFunction(entry)
	if fn == nil {
		return errors.NotFound(errors.PhaseRun, "export", entry)
	}

	Logger().Debug("call entry point",
		zap.Uint64("instance", i.id),
		zap.String("entry", entry),
	)

	_, err := fn.Call(ctx)
	return exitResult(ctx, entry, err)
}

func exitResult(ctx context.Context, entry string, err error) error {
	if err == nil {
		return nil
	}

	var exitErr *sys.ExitError
	if !stderrors.As(err, &exitErr) {
		return errors.EntryFailed(entry, err)
	}

	switch code := exitErr.ExitCode(); code {
	case 0:
		return nil
	case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return errors.EntryFailed(entry, cause)
	default:
		return errors.ExitCode(entry, code)
	}
}

// Close releases the instance without running it.
func (i *Instance) Close(ctx context.Context) error {
	i.spent.Store(true)
	return i.mod.Close(ctx)
}
