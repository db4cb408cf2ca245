package loader

import (
	"strings"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// Defaults mirror the layout of a demo page: the module sits next to the
// page, the support resource one directory up.
const (
	DefaultModuleURL   = "./fx.wasm"
	DefaultEntry       = "_start"
	DefaultSupportName = "support"
)

// Config holds the fixed locations and entry point of one bootstrap.
type Config struct {
	Env map[string]string

	// SupportURL locates a support module loaded before the binary module.
	// Empty means only the built-in WASI host imports are provided.
	SupportURL string

	// SupportName is the import namespace the support module occupies.
	SupportName string

	ModuleURL string
	Entry     string
	Args      []string

	// SkipConsoleClear disables the cosmetic console clear before each run.
	SkipConsoleClear bool
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.ModuleURL == "" {
		c.ModuleURL = DefaultModuleURL
	}
	if c.Entry == "" {
		c.Entry = DefaultEntry
	}
	if c.SupportName == "" {
		c.SupportName = DefaultSupportName
	}
	return c
}

// Validate reports configuration that can never bootstrap.
func (c Config) Validate() error {
	c = c.withDefaults()
	if strings.TrimSpace(c.ModuleURL) == "" {
		return errors.InvalidInput(errors.PhaseConfig, "module url is required")
	}
	if strings.ContainsAny(c.Entry, " \t\n") {
		return errors.InvalidInput(errors.PhaseConfig, "entry point name contains whitespace")
	}
	if c.SupportURL != "" && c.SupportURL == c.ModuleURL {
		return errors.InvalidInput(errors.PhaseConfig, "support and module urls must differ")
	}
	for k := range c.Env {
		if k == "" || strings.Contains(k, "=") {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Detail("invalid environment key %q", k).
				Build()
		}
	}
	return nil
}
