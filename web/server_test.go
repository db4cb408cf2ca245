package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/wasm-bootstrap/internal/wasmtest"
)

// newTree lays out root/<effect>/fx.wasm for each effect plus a stray
// directory without a module.
func newTree(t *testing.T, effects ...string) string {
	t.Helper()
	root := t.TempDir()
	bin := wasmtest.Start()
	for _, e := range effects {
		dir := filepath.Join(root, e)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "fx.wasm"), bin, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func newTestServer(t *testing.T, root string) *Server {
	t.Helper()
	execPath := filepath.Join(t.TempDir(), "wasm_exec.js")
	if err := os.WriteFile(execPath, []byte("class Go {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := New(Options{Root: root, WasmExec: execPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New(Options{Root: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestEffects(t *testing.T) {
	s := newTestServer(t, newTree(t, "plasma", "fire"))
	got := s.Effects()
	if strings.Join(got, ",") != "fire,plasma" {
		t.Errorf("Effects() = %v, want [fire plasma]", got)
	}
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, newTree(t, "fire", "plasma"))
	h := s.Handler()

	tests := []struct {
		name        string
		target      string
		status      int
		contentType string
		contains    string
	}{
		{"loader", "/loader.js", http.StatusOK, "application/javascript", "fetch(moduleURL)"},
		{"support", "/wasm_exec.js", http.StatusOK, "application/javascript", "class Go"},
		{"listing", "/", http.StatusOK, "text/html", `href="./plasma/"`},
		{"effect index", "/fire/", http.StatusOK, "text/html", `src="../loader.js"`},
		{"module", "/fire/fx.wasm", http.StatusOK, "application/wasm", ""},
		{"other file", "/fire/notes.txt", http.StatusOK, "text/plain", "plain"},
		{"missing file", "/fire/missing.wasm", http.StatusNotFound, "", ""},
		{"missing effect", "/smoke/fx.wasm", http.StatusNotFound, "", ""},
		{"traversal", "/fire/../../etc/passwd", http.StatusNotFound, "", ""},
		{"hidden", "/.git/config", http.StatusNotFound, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, h, tc.target)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.contentType != "" && !strings.HasPrefix(rec.Header().Get("Content-Type"), tc.contentType) {
				t.Errorf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tc.contentType)
			}
			if tc.contains != "" && !strings.Contains(rec.Body.String(), tc.contains) {
				t.Errorf("body missing %q", tc.contains)
			}
		})
	}
}

func TestModuleServedForStreaming(t *testing.T) {
	s := newTestServer(t, newTree(t, "fire"))
	rec := get(t, s.Handler(), "/fire/fx.wasm")

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	body := rec.Body.Bytes()
	if len(body) < 4 || string(body[:4]) != string(wasmtest.Preamble[:4]) {
		t.Errorf("body is not a wasm binary: % x", body)
	}
}

func TestSupportMissing(t *testing.T) {
	s := newTestServer(t, newTree(t))
	s.exec = ""
	if rec := get(t, s.Handler(), "/wasm_exec.js"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, newTree(t, "fire"))
	rec := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Effects int    `json:"effects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Effects != 1 {
		t.Errorf("healthz = %+v", body)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, newTree(t, "fire"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
