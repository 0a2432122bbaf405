package fontpack

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

// fakeTarget hands out ids from 1 and rejects data starting with "BAD".
type fakeTarget struct {
	next     int32
	names    map[int32]string
	defaults []int32
	trap     error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{names: make(map[int32]string)}
}

func (f *fakeTarget) LoadFont(_ context.Context, data []byte, name string) (int32, error) {
	if f.trap != nil {
		return 0, f.trap
	}
	if bytes.HasPrefix(data, []byte("BAD")) {
		return 0, nil
	}
	f.next++
	f.names[f.next] = name
	return f.next, nil
}

func (f *fakeTarget) SetDefaultFont(_ context.Context, id int32) error {
	f.defaults = append(f.defaults, id)
	return nil
}

func TestPreload(t *testing.T) {
	target := newFakeTarget()
	loader := NewLoader(target, zaptest.NewLogger(t))

	loaded, err := loader.LoadManifest(context.Background(), filepath.Join("testdata", "valid"))
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if loaded != 2 {
		t.Errorf("expected 2 fonts loaded, got %d", loaded)
	}

	mono, ok := loader.Registry().Get("JetBrains Mono")
	if !ok {
		t.Fatal("JetBrains Mono not registered")
	}
	if mono.ID != 2 {
		t.Errorf("expected id 2, got %d", mono.ID)
	}
	if mono.Size != len("jetbrains-mono-glyphs") {
		t.Errorf("unexpected size %d", mono.Size)
	}

	if loader.DefaultID() != 2 {
		t.Errorf("expected default id 2, got %d", loader.DefaultID())
	}
	if len(target.defaults) != 1 || target.defaults[0] != 2 {
		t.Errorf("expected one SetDefaultFont(2), got %v", target.defaults)
	}

	fonts := loader.Registry().List()
	if len(fonts) != 2 || fonts[0].Name != "Inter" {
		t.Errorf("unexpected registry listing %v", fonts)
	}
}

func TestPreload_RejectedFontKeepsOthers(t *testing.T) {
	target := newFakeTarget()
	loader := NewLoader(target, zaptest.NewLogger(t))

	loaded, err := loader.LoadManifest(context.Background(), filepath.Join("testdata", "rejected"))
	if loaded != 1 {
		t.Fatalf("expected 1 font loaded, got %d", loaded)
	}
	if !errors.Is(err, ErrFontRejected) {
		t.Fatalf("expected ErrFontRejected, got %v", err)
	}

	var loadErr *FontLoadError
	if !errors.As(err, &loadErr) || loadErr.FontName != "Broken" {
		t.Errorf("expected FontLoadError for Broken, got %v", err)
	}

	// The marked default failed, so the module keeps its first font.
	if loader.DefaultID() != 1 {
		t.Errorf("expected default id 1, got %d", loader.DefaultID())
	}
	if len(target.defaults) != 0 {
		t.Errorf("SetDefaultFont should not be called, got %v", target.defaults)
	}
}

func TestPreload_NothingLoaded(t *testing.T) {
	loader := NewLoader(newFakeTarget(), zaptest.NewLogger(t))
	m := &Manifest{
		Fonts: []Entry{{Name: "Broken", File: "broken.ttf"}},
		path:  filepath.Join("testdata", "rejected", ManifestFile),
	}

	loaded, err := loader.Preload(context.Background(), m)
	if loaded != 0 {
		t.Errorf("expected nothing loaded, got %d", loaded)
	}

	var none *NoFontsLoadedError
	if !errors.As(err, &none) {
		t.Fatalf("expected NoFontsLoadedError, got %v", err)
	}
	if len(multierr.Errors(err)) != 2 {
		t.Errorf("expected rejection and no-fonts errors, got %v", err)
	}
}

func TestPreload_TargetErrorAborts(t *testing.T) {
	target := newFakeTarget()
	target.trap = errors.New("module trapped")
	loader := NewLoader(target, zaptest.NewLogger(t))

	loaded, err := loader.LoadManifest(context.Background(), filepath.Join("testdata", "valid"))
	if loaded != 0 {
		t.Errorf("expected nothing loaded, got %d", loaded)
	}
	if !errors.Is(err, target.trap) {
		t.Fatalf("expected trap error, got %v", err)
	}

	var loadErr *FontLoadError
	if errors.As(err, &loadErr) {
		t.Error("target failures should not be reported as per-font errors")
	}
}

func TestPreload_ManifestError(t *testing.T) {
	loader := NewLoader(newFakeTarget(), zaptest.NewLogger(t))

	_, err := loader.LoadManifest(context.Background(), filepath.Join("testdata", "missing-file"))
	var missing *FontFileNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("expected FontFileNotFoundError, got %v", err)
	}
}
