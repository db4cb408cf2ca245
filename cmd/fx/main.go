package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/config"
	"github.com/wippyai/wasm-bootstrap/console"
	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/errors"
	"github.com/wippyai/wasm-bootstrap/fetch"
	"github.com/wippyai/wasm-bootstrap/loader"
	"github.com/wippyai/wasm-bootstrap/web"
)

func main() {
	root := &cobra.Command{
		Use:   "fx",
		Short: "Bootstrap and run Go-compiled wasm effects",
		Long: `fx loads the runtime support, compiles one wasm module and runs its
entry point, re-arming a fresh instance after every run. "fx serve" hosts
the same bootstrap for browsers.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Config file (default fx.toml when present)")

	root.AddCommand(runCommand(), serveCommand(), configCommand())

	if err := root.Execute(); err != nil {
		os.Exit(exitStatus(err))
	}
}

// loadConfig reads --config, falls back to fx.toml in the working
// directory and then to built-in defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err != nil {
			return config.Default(), nil
		}
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func installLogger(cfg config.Config) (*zap.Logger, error) {
	log, err := cfg.Log.Build()
	if err != nil {
		return nil, err
	}
	engine.SetLogger(log.Named("engine"))
	fetch.SetLogger(log.Named("fetch"))
	loader.SetLogger(log.Named("loader"))
	web.SetLogger(log.Named("web"))
	return log, nil
}

func runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [module-url]",
		Short: "Bootstrap a module and run its entry point",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// CLI flags override config values.
			if len(args) == 1 {
				cfg.Loader.ModuleURL = args[0]
			}
			if cmd.Flags().Changed("support") {
				cfg.Loader.SupportURL, _ = cmd.Flags().GetString("support")
			}
			if cmd.Flags().Changed("entry") {
				cfg.Loader.Entry, _ = cmd.Flags().GetString("entry")
			}
			if cmd.Flags().Changed("arg") {
				cfg.Loader.Args, _ = cmd.Flags().GetStringArray("arg")
			}
			if cmd.Flags().Changed("env") {
				env, _ := cmd.Flags().GetStringToString("env")
				if cfg.Loader.Env == nil {
					cfg.Loader.Env = make(map[string]string, len(env))
				}
				for k, v := range env {
					cfg.Loader.Env[k] = v
				}
			}
			if cmd.Flags().Changed("no-clear") {
				noClear, _ := cmd.Flags().GetBool("no-clear")
				cfg.Loader.ClearConsole = !noClear
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			base, _ := cmd.Flags().GetString("base")
			repeat, _ := cmd.Flags().GetInt("repeat")
			interactive, _ := cmd.Flags().GetBool("interactive")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if interactive {
				return runInteractive(ctx, cfg, base)
			}

			log, err := installLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return runPipeline(ctx, cfg, base, repeat)
		},
	}
	cmd.Flags().String("support", "", "Support module URL loaded before the module")
	cmd.Flags().String("entry", loader.DefaultEntry, "Entry point export")
	cmd.Flags().StringArray("arg", nil, "Module argument (repeatable)")
	cmd.Flags().StringToString("env", nil, "Module environment KEY=VALUE")
	cmd.Flags().String("base", ".", "Base URL or directory relative URLs resolve against")
	cmd.Flags().Int("repeat", 1, "Number of runs, re-arming a fresh instance between them")
	cmd.Flags().Bool("no-clear", false, "Do not clear the console before each run")
	cmd.Flags().BoolP("interactive", "i", false, "Interactive mode with TUI")
	return cmd
}

// newLoader wires a loader to an engine built from [engine]. The caller
// closes both.
func newLoader(ctx context.Context, cfg config.Config, base string, opts ...loader.Option) (*loader.Loader, *engine.Engine, error) {
	fetcher, err := fetch.New(base)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(ctx, cfg.EngineConfig())
	if err != nil {
		return nil, nil, err
	}
	opts = append([]loader.Option{loader.WithFetcher(fetcher), loader.WithEngine(eng)}, opts...)
	l, err := loader.New(ctx, cfg.LoaderConfig(), opts...)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, nil, err
	}
	return l, eng, nil
}

func runPipeline(ctx context.Context, cfg config.Config, base string, repeat int) error {
	l, eng, err := newLoader(ctx, cfg, base,
		loader.WithConsole(console.Stdout()),
		loader.WithStdio(os.Stdin, os.Stdout, os.Stderr),
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Close(context.Background())
		_ = eng.Close(context.Background())
	}()

	if repeat < 1 {
		repeat = 1
	}
	if err := l.Start(ctx); err != nil {
		return err
	}
	for i := 1; i < repeat; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve effect directories with the browser bootstrap",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			if cmd.Flags().Changed("root") {
				cfg.Server.Root, _ = cmd.Flags().GetString("root")
			}
			if cmd.Flags().Changed("goroot") {
				cfg.Server.GoRoot, _ = cmd.Flags().GetString("goroot")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := installLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			srv, err := web.New(cfg.ServerOptions())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	cmd.Flags().String("root", "", "Directory holding one directory per effect")
	cmd.Flags().String("goroot", "", "Go installation providing wasm_exec.js")
	return cmd
}

func configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check fx.toml",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a config and report problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

// exitStatus forwards a module's own exit code; every other failure is 1.
func exitStatus(err error) int {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindExitCode {
		if code, ok := e.Value.(uint32); ok && code != 0 {
			return int(code)
		}
	}
	return 1
}
