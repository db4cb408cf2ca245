// Package console implements the output surface the loader clears before
// each run.
package console

import (
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// clearSequence homes the cursor and erases the screen.
const clearSequence = "\x1b[H\x1b[2J"

type fder interface {
	Fd() uintptr
}

// Terminal clears w with ANSI escapes when w is a terminal and does
// nothing otherwise, so redirected output is never polluted.
type Terminal struct {
	w   io.Writer
	tty bool
}

// NewTerminal wraps w. *os.File values are probed for a terminal.
func NewTerminal(w io.Writer) *Terminal {
	t := &Terminal{w: w}
	if f, ok := w.(fder); ok {
		t.tty = term.IsTerminal(int(f.Fd()))
	}
	return t
}

// Stdout returns a Terminal over os.Stdout.
func Stdout() *Terminal {
	return NewTerminal(os.Stdout)
}

// IsTerminal reports whether Clear writes anything.
func (t *Terminal) IsTerminal() bool { return t.tty }

// Writer returns the wrapped writer.
func (t *Terminal) Writer() io.Writer { return t.w }

// Clear implements wasmbootstrap.Console.
func (t *Terminal) Clear() error {
	if !t.tty {
		return nil
	}
	_, err := io.WriteString(t.w, clearSequence)
	return err
}

// Nop never clears.
type Nop struct{}

func (Nop) Clear() error { return nil }

// Counting records how often Clear was called before delegating.
type Counting struct {
	next  interface{ Clear() error }
	count atomic.Int64
}

// NewCounting wraps next; a nil next behaves like Nop.
func NewCounting(next interface{ Clear() error }) *Counting {
	if next == nil {
		next = Nop{}
	}
	return &Counting{next: next}
}

func (c *Counting) Clear() error {
	c.count.Add(1)
	return c.next.Clear()
}

// Count returns the number of Clear calls.
func (c *Counting) Count() int64 {
	return c.count.Load()
}
