package web

import (
	"bytes"
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/fetch"
)

// Options configures a Server.
type Options struct {
	Bootstrap Bootstrap

	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Root holds one directory per effect.
	Root string

	// GoRoot locates wasm_exec.js; empty uses the running toolchain.
	GoRoot string

	// WasmExec overrides the wasm_exec.js location entirely.
	WasmExec string
}

// Server is the browser host: it serves the generated shim, the Go support
// script and every effect directory under Root.
type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	loader []byte
	opts   Options
	exec   string
}

// New creates a Server. A missing wasm_exec.js is not fatal; the route
// answers 404 and pages stay inert, as they would in a browser.
func New(opts Options) (*Server, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "resolve root")
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return nil, errors.InvalidInput(errors.PhaseConfig, "root "+root+" is not a directory")
	}
	opts.Root = root
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{opts: opts, log: Logger()}

	var buf bytes.Buffer
	if err := RenderLoader(&buf, opts.Bootstrap); err != nil {
		return nil, err
	}
	s.loader = buf.Bytes()

	s.exec = opts.WasmExec
	if s.exec == "" {
		if p, err := WasmExecPath(opts.GoRoot); err == nil {
			s.exec = p
		} else {
			s.log.Warn("support script unavailable", zap.Error(err))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.log))
	s.routes(r)
	s.engine = r
	return s, nil
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "effects": len(s.Effects())})
	})
	r.GET("/loader.js", s.serveLoader)
	r.GET("/wasm_exec.js", s.serveSupport)
	r.GET("/", s.serveListing)
	r.GET("/:effect/*file", s.serveEffect)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Effects returns the names of directories under Root that hold the module.
func (s *Server) Effects() []string {
	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return nil
	}
	module := path.Base(s.moduleURL())
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if st, err := os.Stat(filepath.Join(s.opts.Root, e.Name(), module)); err == nil && !st.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func (s *Server) moduleURL() string {
	return s.opts.Bootstrap.withDefaults().ModuleURL
}

func (s *Server) serveLoader(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", s.loader)
}

func (s *Server) serveSupport(c *gin.Context) {
	if s.exec == "" {
		c.String(http.StatusNotFound, "wasm_exec.js not found")
		return
	}
	c.Header("Content-Type", "application/javascript; charset=utf-8")
	c.File(s.exec)
}

func (s *Server) serveListing(c *gin.Context) {
	var buf bytes.Buffer
	page := Page{Title: "effects", Effects: s.Effects()}
	if err := RenderIndex(&buf, page); err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) serveEffect(c *gin.Context) {
	effect := c.Param("effect")
	if effect == "" || strings.HasPrefix(effect, ".") {
		c.Status(http.StatusNotFound)
		return
	}
	dir := filepath.Join(s.opts.Root, effect)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}

	file := path.Clean("/" + c.Param("file"))
	if file == "/" || file == "/index.html" {
		if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
			c.File(filepath.Join(dir, "index.html"))
			return
		}
		var buf bytes.Buffer
		page := Page{
			Title:       effect,
			LoaderURL:   "../loader.js",
			ContainerID: s.opts.Bootstrap.Container,
		}
		if err := RenderIndex(&buf, page); err != nil {
			_ = c.Error(err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
		return
	}

	name := filepath.Join(dir, filepath.FromSlash(file))
	st, err := os.Stat(name)
	if err != nil || st.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Type", fetch.TypeByExtension(name))
	c.Header("X-Content-Type-Options", "nosniff")
	c.File(name)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrap(errors.PhaseServe, errors.KindUnavailable, err, "listen "+s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("serving effects",
		zap.String("addr", ln.Addr().String()),
		zap.String("root", s.opts.Root),
		zap.Strings("effects", s.Effects()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(errors.PhaseServe, errors.KindUnavailable, err, "shutdown")
		}
		return nil
	}
}

// RequestLogger logs one line per request at a level matching its status.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		level := zap.DebugLevel
		switch {
		case status >= 500:
			level = zap.ErrorLevel
		case status >= 400:
			level = zap.WarnLevel
		}
		if ce := log.Check(level, "http_request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", c.Writer.Size()),
			)
		}
	}
}
