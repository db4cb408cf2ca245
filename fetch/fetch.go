package fetch

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// ContentTypeWasm is the media type streaming compilation requires.
const ContentTypeWasm = "application/wasm"

// Fetcher retrieves a resource by reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, ref string) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, ref string) (*Response, error) {
	return f(ctx, ref)
}

// Response is an in-flight resource body. Callers must close Body.
type Response struct {
	Body        io.ReadCloser
	URL         string
	ContentType string
	Length      int64 // -1 when unknown
}

// Close releases the body.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Streamable reports whether the response may be compiled while in flight.
func (r *Response) Streamable() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	return err == nil && mt == ContentTypeWasm
}

// Client resolves references against a base location and retrieves them
// over HTTP(S) or from the local filesystem.
type Client struct {
	http *http.Client
	base *url.URL
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for http and https references.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a Client. base is the document location relative references
// resolve against: an http(s) URL, a file:// URL or a local directory.
// Directories are treated as if they had a trailing slash.
func New(base string, opts ...Option) (*Client, error) {
	u, err := parseBase(base)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			URL(base).
			Detail("parse base location").
			Cause(err).
			Build()
	}
	c := &Client{http: http.DefaultClient, base: u}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseBase(base string) (*url.URL, error) {
	if base == "" {
		base = "."
	}
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") || strings.HasPrefix(base, "file://") {
		return url.Parse(base)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return &url.URL{Scheme: "file", Path: p}, nil
}

// Resolve returns the absolute location of ref.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.base.ResolveReference(r), nil
}

// Fetch implements Fetcher.
func (c *Client) Fetch(ctx context.Context, ref string) (*Response, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return nil, errors.New(errors.PhaseFetch, errors.KindInvalidInput).
			URL(ref).
			Detail("parse reference").
			Cause(err).
			Build()
	}

	Logger().Debug("fetch", zap.String("ref", ref), zap.String("url", u.String()))

	switch u.Scheme {
	case "http", "https":
		return c.fetchHTTP(ctx, u)
	case "file":
		return fetchFile(u)
	default:
		return nil, errors.Unsupported(errors.PhaseFetch, "scheme "+u.Scheme)
	}
}

func (c *Client) fetchHTTP(ctx context.Context, u *url.URL) (*Response, error) {
	loc := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, errors.Fetch(loc, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Fetch(loc, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.HTTPStatus(loc, resp.StatusCode)
	}
	return &Response{
		Body:        resp.Body,
		URL:         loc,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
	}, nil
}

func fetchFile(u *url.URL) (*Response, error) {
	loc := u.String()
	name := filepath.FromSlash(u.Path)
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.PhaseFetch, errors.KindNotFound).
				URL(loc).
				Detail("no such file").
				Cause(err).
				Build()
		}
		return nil, errors.Fetch(loc, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Fetch(loc, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, errors.InvalidInput(errors.PhaseFetch, loc+" is a directory")
	}
	return &Response{
		Body:        f,
		URL:         loc,
		ContentType: TypeByExtension(name),
		Length:      st.Size(),
	}, nil
}

// TypeByExtension returns the media type for a file name, with .wasm
// mapped to application/wasm regardless of the host's mime tables.
func TypeByExtension(name string) string {
	ext := strings.ToLower(path.Ext(filepath.ToSlash(name)))
	if ext == ".wasm" {
		return ContentTypeWasm
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
