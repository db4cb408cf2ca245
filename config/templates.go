package config

import (
	"os"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// Template returns the annotated starter fx.toml.
func Template() string {
	return template
}

// WriteTemplate writes the starter config to path, refusing to replace an
// existing file unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.InvalidInput(errors.PhaseConfig, "config already exists: "+path)
		}
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindUnavailable, err, "write "+path)
	}
	return nil
}

const template = `# fx bootstrap configuration

[loader]
# Optional support module instantiated before the binary module.
# support_url = "./support.wasm"
support_name = "support"
module_url = "./fx.wasm"
entry = "_start"
args = []
clear_console = true

[loader.env]
# FX_SEED = "42"

[engine]
# cache_dir = ".fx-cache"
memory_limit_pages = 0
close_on_context_done = true
disable_streaming = false

[server]
addr = ":8080"
root = "."
# goroot = "/usr/local/go"
container = "canvas-container"
support_url = "./../wasm_exec.js"
module_url = "./fx.wasm"

[log]
level = "info"
development = false
`
