package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/html-layout-parser/internal/app"
	"github.com/woxQAQ/html-layout-parser/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	modulePath := flag.String("module", "", "Path to the layout module (.wasm)")
	manifest := flag.String("fonts", "", "Path to a font manifest (fonts.yaml or its directory)")
	mode := flag.String("mode", "", "Output mode: flat, byRow, simple or full")
	width := flag.Int("width", 0, "Viewport width in pixels")
	cssPath := flag.String("css", "", "Path to an external stylesheet")
	debug := flag.Bool("debug", false, "Enable module debug output")
	diagnostics := flag.Bool("diagnostics", false, "Print a diagnostics summary to stderr")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file.html|->\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("htmllayout %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *logLevel, *modulePath, *manifest, *mode, *width, *debug)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting htmllayout",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, flag.Arg(0), *cssPath, *diagnostics); err != nil {
		logger.Error("Layout failed", zap.Error(err))
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, logLevel, modulePath, manifest, mode string, width int, debug bool) {
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if modulePath != "" {
		cfg.Module.Path = modulePath
	}
	if manifest != "" {
		cfg.Fonts.Manifest = manifest
	}
	if mode != "" {
		cfg.Parse.Mode = mode
	}
	if width > 0 {
		cfg.Parse.ViewportWidth = width
	}
	if debug {
		cfg.Debug = true
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, input, cssPath string, diagnostics bool) (err error) {
	html, err := readInput(input)
	if err != nil {
		return err
	}

	var css *string
	if cssPath != "" {
		data, err := os.ReadFile(cssPath)
		if err != nil {
			return fmt.Errorf("failed to read stylesheet: %w", err)
		}
		s := string(data)
		css = &s
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()

	opts := a.Options()
	opts.CSS = css

	env, err := a.Parser().ParseWithDiagnostics(ctx, html, opts)
	if err != nil {
		return err
	}

	if diagnostics {
		fmt.Fprintln(os.Stderr, renderEnvelope(env))
	}
	if !env.Success {
		return fmt.Errorf("parse failed: %v", env.FirstError())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env.Data)
}

func readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}
