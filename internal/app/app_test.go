package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/html-layout-parser/internal/bridge/bridgetest"
	"github.com/woxQAQ/html-layout-parser/internal/config"
	"github.com/woxQAQ/html-layout-parser/pkg/htmllayout"
)

func fakeLoader(mod *bridgetest.Module) Option {
	return WithLoader(htmllayout.LoaderFunc(func(context.Context) (htmllayout.Module, error) {
		return mod, nil
	}))
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	return cfg
}

// writeManifest writes fonts.yaml plus one file per font; data starting
// with "BAD" is rejected by the fake module.
func writeManifest(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fonts.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNewRequiresModule(t *testing.T) {
	_, err := New(context.Background(), defaultConfig(t), zaptest.NewLogger(t))
	if !errors.Is(err, ErrNoModule) {
		t.Fatalf("err = %v, want ErrNoModule", err)
	}
}

func TestNewMissingModuleFile(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Module.Path = filepath.Join(t.TempDir(), "missing.wasm")

	if _, err := New(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("Expected error for missing module file")
	}
}

func TestNewPreloadsFonts(t *testing.T) {
	ctx := context.Background()
	mod := bridgetest.New()
	cfg := defaultConfig(t)
	cfg.Fonts.Manifest = writeManifest(t, `
fonts:
  - name: Inter
    file: inter.ttf
  - name: Mono
    file: mono.ttf
    default: true
`, map[string]string{"inter.ttf": "inter", "mono.ttf": "mono"})

	app, err := New(ctx, cfg, zaptest.NewLogger(t), fakeLoader(mod))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if app.Fonts().Count() != 2 {
		t.Errorf("Fonts().Count() = %d, want 2", app.Fonts().Count())
	}
	if len(app.Parser().Fonts()) != 2 {
		t.Errorf("Parser().Fonts() = %d records, want 2", len(app.Parser().Fonts()))
	}
	mono, _ := app.Fonts().Get("Mono")
	if mod.DefaultFont() != mono.ID {
		t.Errorf("module default = %d, want %d", mod.DefaultFont(), mono.ID)
	}

	res, err := app.Parser().Parse(ctx, "<p>hi</p>", app.Options())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := len(res.Characters()); got != 2 {
		t.Errorf("Parse returned %d characters, want 2", got)
	}

	if err := app.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !mod.Closed() {
		t.Error("Module should be closed")
	}
	mod.AssertNoLeaks(t)
}

func TestNewPartialFontFailure(t *testing.T) {
	ctx := context.Background()
	mod := bridgetest.New()
	cfg := defaultConfig(t)
	cfg.Fonts.Manifest = writeManifest(t, `
fonts:
  - name: Broken
    file: broken.ttf
  - name: Inter
    file: inter.ttf
`, map[string]string{"broken.ttf": "BAD", "inter.ttf": "inter"})

	app, err := New(ctx, cfg, zaptest.NewLogger(t), fakeLoader(mod))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer app.Close(ctx)

	if app.Fonts().Count() != 1 {
		t.Errorf("Fonts().Count() = %d, want 1", app.Fonts().Count())
	}
}

func TestNewFailsWhenNoFontLoads(t *testing.T) {
	mod := bridgetest.New()
	cfg := defaultConfig(t)
	cfg.Fonts.Manifest = writeManifest(t, `
fonts:
  - name: Broken
    file: broken.ttf
`, map[string]string{"broken.ttf": "BAD"})

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t), fakeLoader(mod))
	if err == nil {
		t.Fatal("Expected error when no font loads")
	}
	if !mod.Closed() {
		t.Error("Module should be closed after a failed start")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Parse.ViewportWidth = 640
	cfg.Parse.Mode = "byRow"

	app, err := New(context.Background(), cfg, zaptest.NewLogger(t), fakeLoader(bridgetest.New()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer app.Close(context.Background())

	opts := app.Options()
	if opts.ViewportWidth != 640 || opts.Mode != "byRow" {
		t.Errorf("Options() = %+v", opts)
	}
}

func TestDebugSink(t *testing.T) {
	ctx := context.Background()
	mod := bridgetest.New()
	cfg := defaultConfig(t)
	cfg.Debug = true

	var sink bytes.Buffer
	app, err := New(ctx, cfg, zaptest.NewLogger(t), fakeLoader(mod), WithDebugSink(&sink))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer app.Close(ctx)

	if !mod.Debug() {
		t.Error("Module debug mode should be on")
	}
	if _, err := app.Parser().Parse(ctx, "x", app.Options()); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !strings.Contains(sink.String(), "[HtmlLayoutParser]") {
		t.Errorf("Debug sink missing channel name: %q", sink.String())
	}
}
