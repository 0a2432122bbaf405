// Package app wires configuration, the wasm runtime, the parser and the
// font manifest together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/internal/config"
	"github.com/woxQAQ/html-layout-parser/internal/fontpack"
	"github.com/woxQAQ/html-layout-parser/internal/wasm"
	"github.com/woxQAQ/html-layout-parser/pkg/htmllayout"
)

// ErrNoModule is returned when neither a module path nor a loader is set.
var ErrNoModule = errors.New("no layout module configured (module.path)")

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	runtime *wasm.Runtime
	parser  *htmllayout.Parser
	fonts   *fontpack.Loader
}

// Option configures New.
type Option func(*options)

type options struct {
	loader    htmllayout.Loader
	debugSink io.Writer
}

// WithLoader replaces the wasm module loader, e.g. with an in-process fake.
func WithLoader(loader htmllayout.Loader) Option {
	return func(o *options) { o.loader = loader }
}

// WithDebugSink sets where debug lines go. Defaults to stderr.
func WithDebugSink(w io.Writer) Option {
	return func(o *options) { o.debugSink = w }
}

// New starts the runtime, initializes the parser and preloads the font
// manifest. Fonts that fail to load are logged; New fails only when a
// manifest is configured and none of its fonts load.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{debugSink: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	if o.loader == nil && cfg.Module.Path == "" {
		return nil, ErrNoModule
	}

	runtime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
		MemoryPages:  cfg.Module.MemoryPages,
		CacheDir:     cfg.Module.CacheDir,
		MaxInstances: cfg.Module.MaxInstances,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "app")),
		runtime: runtime,
	}

	loader := o.loader
	if loader == nil {
		loader = a.moduleLoader(logger)
	}

	a.parser = htmllayout.New(loader,
		htmllayout.WithLogger(logger),
		htmllayout.WithDebugSink(o.debugSink),
		htmllayout.WithDebug(cfg.Debug),
	)
	if err := a.parser.Init(ctx); err != nil {
		return nil, multierr.Append(err, runtime.Close(ctx))
	}

	a.fonts = fontpack.NewLoader(a.parser, logger)
	if cfg.Fonts.Manifest != "" {
		loaded, err := a.fonts.LoadManifest(ctx, cfg.Fonts.Manifest)
		if loaded == 0 {
			return nil, multierr.Append(fmt.Errorf("failed to preload fonts: %w", err), a.Close(ctx))
		}
		if err != nil {
			a.logger.Warn("Some fonts failed to load",
				zap.Int("loaded", loaded),
				zap.Error(err),
			)
		}
	}

	a.logger.Info("Application initialized",
		zap.String("module", cfg.Module.Path),
		zap.Int("fonts", a.fonts.Registry().Count()),
		zap.Bool("debug", cfg.Debug),
	)

	return a, nil
}

// moduleLoader compiles the configured module file; its stdout is routed to
// the parser's debug channel.
func (a *App) moduleLoader(logger *zap.Logger) htmllayout.Loader {
	source := &wasm.FileModuleSource{Path: a.cfg.Module.Path}
	return htmllayout.LoaderFunc(func(ctx context.Context) (htmllayout.Module, error) {
		l := wasm.NewLoader(a.runtime, source, logger, a.parser.DebugLogger(), bridge.RequiredExports...)
		instance, err := l.Load(ctx)
		if err != nil {
			return nil, err
		}
		return instance, nil
	})
}

// Parser returns the initialized parser.
func (a *App) Parser() *htmllayout.Parser {
	return a.parser
}

// Fonts returns the fonts preloaded from the manifest.
func (a *App) Fonts() *fontpack.Registry {
	return a.fonts.Registry()
}

// Options returns parse options built from the configured defaults.
func (a *App) Options() htmllayout.Options {
	opts := htmllayout.DefaultOptions()
	opts.ViewportWidth = a.cfg.Parse.ViewportWidth
	opts.ViewportHeight = a.cfg.Parse.ViewportHeight
	opts.Mode = a.cfg.Parse.Mode
	opts.Timeout = a.cfg.Parse.Timeout
	return opts
}

// Close destroys the parser and shuts the runtime down.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down")

	err := a.parser.Destroy(ctx)
	if rerr := a.runtime.Close(ctx); rerr != nil {
		a.logger.Error("Failed to shutdown Wasm runtime", zap.Error(rerr))
		err = multierr.Append(err, rerr)
	}

	a.logger.Info("Shutdown complete")
	return err
}
