package engine

import (
	"bytes"
	"context"
	"io"

	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/fetch"
)

// Compiler compiles buffered module binaries.
type Compiler interface {
	Compile(ctx context.Context, url string, bin []byte) (*Module, error)
}

// StreamingCompiler additionally compiles straight from an in-flight response.
type StreamingCompiler interface {
	Compiler
	CompileStreaming(ctx context.Context, resp *fetch.Response) (*Module, error)
}

// preamble is the wasm magic number followed by binary version 1.
var preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// maxPrealloc bounds the buffer reserved from a declared Content-Length.
const maxPrealloc = 64 << 20

// CompileStreaming compiles the response body as it arrives. The response
// must be served as application/wasm; the caller keeps ownership of Body.
func (e *Engine) CompileStreaming(ctx context.Context, resp *fetch.Response) (*Module, error) {
	if !resp.Streamable() {
		return nil, errors.New(errors.PhaseCompile, errors.KindUnsupported).
			URL(resp.URL).
			Detail("streaming compilation needs %s, got %q", fetch.ContentTypeWasm, resp.ContentType).
			Build()
	}

	head := make([]byte, len(preamble))
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Fetch(resp.URL, err)
	}
	if !bytes.Equal(head[:n], preamble) {
		return nil, errors.BadPreamble(resp.URL, head[:n])
	}

	var buf bytes.Buffer
	if resp.Length > 0 && resp.Length <= maxPrealloc {
		buf.Grow(int(resp.Length))
	}
	buf.Write(head)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, errors.Fetch(resp.URL, err)
	}
	return e.Compile(ctx, resp.URL, buf.Bytes())
}

// bufferedCompiler hides the streaming capability of an engine.
type bufferedCompiler struct {
	e *Engine
}

func (b bufferedCompiler) Compile(ctx context.Context, url string, bin []byte) (*Module, error) {
	return b.e.Compile(ctx, url, bin)
}
