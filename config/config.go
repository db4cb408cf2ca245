// Package config loads fx.toml: the bootstrap locations, engine limits,
// browser host settings and logging, overlaid on built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/loader"
	"github.com/wippyai/wasm-bootstrap/web"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "fx.toml"

// Config is the resolved configuration.
type Config struct {
	Loader LoaderSection
	Engine EngineSection
	Server ServerSection
	Log    LogSection
}

type LoaderSection struct {
	SupportURL   string
	SupportName  string
	ModuleURL    string
	Entry        string
	Args         []string
	Env          map[string]string
	ClearConsole bool
}

type EngineSection struct {
	CacheDir           string
	MemoryLimitPages   uint32
	CloseOnContextDone bool
	DisableStreaming   bool
}

type ServerSection struct {
	Addr       string
	Root       string
	GoRoot     string
	Container  string
	SupportURL string
	ModuleURL  string
}

type LogSection struct {
	Level       string
	Development bool
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Loader: LoaderSection{
			SupportName:  loader.DefaultSupportName,
			ModuleURL:    loader.DefaultModuleURL,
			Entry:        loader.DefaultEntry,
			ClearConsole: true,
		},
		Engine: EngineSection{
			CloseOnContextDone: true,
		},
		Server: ServerSection{
			Addr:       ":8080",
			Root:       ".",
			Container:  web.DefaultContainer,
			SupportURL: web.DefaultSupportURL,
			ModuleURL:  web.DefaultModuleURL,
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// fx.toml key mapping.
type fileConfig struct {
	Loader struct {
		SupportURL   string            `toml:"support_url"`
		SupportName  string            `toml:"support_name"`
		ModuleURL    string            `toml:"module_url"`
		Entry        string            `toml:"entry"`
		Args         []string          `toml:"args"`
		Env          map[string]string `toml:"env"`
		ClearConsole bool              `toml:"clear_console"`
	} `toml:"loader"`
	Engine struct {
		CacheDir           string `toml:"cache_dir"`
		MemoryLimitPages   int64  `toml:"memory_limit_pages"`
		CloseOnContextDone bool   `toml:"close_on_context_done"`
		DisableStreaming   bool   `toml:"disable_streaming"`
	} `toml:"engine"`
	Server struct {
		Addr       string `toml:"addr"`
		Root       string `toml:"root"`
		GoRoot     string `toml:"goroot"`
		Container  string `toml:"container"`
		SupportURL string `toml:"support_url"`
		ModuleURL  string `toml:"module_url"`
	} `toml:"server"`
	Log struct {
		Level       string `toml:"level"`
		Development bool   `toml:"development"`
	} `toml:"log"`
}

// Load reads path and overlays every key it defines on Default().
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			URL(path).
			Cause(err).
			Detail("decode config").
			Build()
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			URL(path).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}

	l, e, s, g := &raw.Loader, &raw.Engine, &raw.Server, &raw.Log

	if meta.IsDefined("loader", "support_url") {
		cfg.Loader.SupportURL = strings.TrimSpace(l.SupportURL)
	}
	if meta.IsDefined("loader", "support_name") {
		cfg.Loader.SupportName = strings.TrimSpace(l.SupportName)
	}
	if meta.IsDefined("loader", "module_url") {
		cfg.Loader.ModuleURL = strings.TrimSpace(l.ModuleURL)
	}
	if meta.IsDefined("loader", "entry") {
		cfg.Loader.Entry = strings.TrimSpace(l.Entry)
	}
	if meta.IsDefined("loader", "args") {
		cfg.Loader.Args = l.Args
	}
	if meta.IsDefined("loader", "env") {
		cfg.Loader.Env = l.Env
	}
	if meta.IsDefined("loader", "clear_console") {
		cfg.Loader.ClearConsole = l.ClearConsole
	}

	if meta.IsDefined("engine", "cache_dir") {
		cfg.Engine.CacheDir = strings.TrimSpace(e.CacheDir)
	}
	if meta.IsDefined("engine", "memory_limit_pages") {
		if e.MemoryLimitPages < 0 || e.MemoryLimitPages > 65536 {
			return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				URL(path).
				Detail("engine.memory_limit_pages %d out of range [0, 65536]", e.MemoryLimitPages).
				Build()
		}
		cfg.Engine.MemoryLimitPages = uint32(e.MemoryLimitPages)
	}
	if meta.IsDefined("engine", "close_on_context_done") {
		cfg.Engine.CloseOnContextDone = e.CloseOnContextDone
	}
	if meta.IsDefined("engine", "disable_streaming") {
		cfg.Engine.DisableStreaming = e.DisableStreaming
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(s.Addr)
	}
	if meta.IsDefined("server", "root") {
		cfg.Server.Root = strings.TrimSpace(s.Root)
	}
	if meta.IsDefined("server", "goroot") {
		cfg.Server.GoRoot = strings.TrimSpace(s.GoRoot)
	}
	if meta.IsDefined("server", "container") {
		cfg.Server.Container = strings.TrimSpace(s.Container)
	}
	if meta.IsDefined("server", "support_url") {
		cfg.Server.SupportURL = strings.TrimSpace(s.SupportURL)
	}
	if meta.IsDefined("server", "module_url") {
		cfg.Server.ModuleURL = strings.TrimSpace(s.ModuleURL)
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(g.Level)
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = g.Development
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that can never work.
func (c Config) Validate() error {
	if err := c.LoaderConfig().Validate(); err != nil {
		return fmt.Errorf("loader: %w", err)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.InvalidInput(errors.PhaseConfig, "server: addr is required")
	}
	if strings.TrimSpace(c.Server.ModuleURL) == "" {
		return errors.InvalidInput(errors.PhaseConfig, "server: module_url is required")
	}
	if strings.ContainsAny(c.Server.Container, " \t\n.") {
		return errors.InvalidInput(errors.PhaseConfig, "server: container must be a plain element id")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log: level")
	}
	return nil
}

// LoaderConfig converts the [loader] section.
func (c Config) LoaderConfig() loader.Config {
	return loader.Config{
		Env:              c.Loader.Env,
		SupportURL:       c.Loader.SupportURL,
		SupportName:      c.Loader.SupportName,
		ModuleURL:        c.Loader.ModuleURL,
		Entry:            c.Loader.Entry,
		Args:             c.Loader.Args,
		SkipConsoleClear: !c.Loader.ClearConsole,
	}
}

// EngineConfig converts the [engine] section.
func (c Config) EngineConfig() *engine.Config {
	return &engine.Config{
		CacheDir:           c.Engine.CacheDir,
		MemoryLimitPages:   c.Engine.MemoryLimitPages,
		CloseOnContextDone: c.Engine.CloseOnContextDone,
		DisableStreaming:   c.Engine.DisableStreaming,
	}
}

// ServerOptions converts the [server] section. The browser shim shares
// clear_console with the native loader.
func (c Config) ServerOptions() web.Options {
	return web.Options{
		Bootstrap: web.Bootstrap{
			SupportURL:       c.Server.SupportURL,
			ModuleURL:        c.Server.ModuleURL,
			Container:        c.Server.Container,
			SkipConsoleClear: !c.Loader.ClearConsole,
		},
		Addr:   c.Server.Addr,
		Root:   c.Server.Root,
		GoRoot: c.Server.GoRoot,
	}
}

// Build creates the logger described by the [log] section.
func (l LogSection) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
