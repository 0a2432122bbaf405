package fontpack

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Target receives font data. *htmllayout.Parser satisfies it.
type Target interface {
	LoadFont(ctx context.Context, data []byte, name string) (int32, error)
	SetDefaultFont(ctx context.Context, id int32) error
}

// Loader loads manifest fonts into a Target.
type Loader struct {
	target   Target
	registry *Registry
	logger   *zap.Logger

	defaultID int32
}

// NewLoader creates a new font loader.
func NewLoader(target Target, logger *zap.Logger) *Loader {
	return &Loader{
		target:   target,
		registry: NewRegistry(logger),
		logger:   logger.With(zap.String("component", "font-loader")),
	}
}

// LoadManifest parses the manifest at path and preloads its fonts.
func (l *Loader) LoadManifest(ctx context.Context, path string) (int, error) {
	m, err := ParseManifest(path)
	if err != nil {
		return 0, err
	}
	return l.Preload(ctx, m)
}

// Preload loads every manifest font and selects the default one.
//
// A font that cannot be read or that the module rejects does not stop the
// others; the returned error combines every per-font failure and the count
// reports how many fonts were loaded. An error from the target itself, such
// as a trap, aborts immediately.
func (l *Loader) Preload(ctx context.Context, m *Manifest) (int, error) {
	l.logger.Info("Preloading fonts",
		zap.String("manifest", m.Path()),
		zap.Int("fonts", len(m.Fonts)),
	)

	var errs error
	loaded := 0
	for _, entry := range m.Fonts {
		font, err := l.load(ctx, m, entry)
		if err != nil {
			if _, ok := err.(*FontLoadError); !ok {
				return loaded, multierr.Append(errs, err)
			}
			l.logger.Warn("Failed to load font",
				zap.String("name", entry.Name),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
			continue
		}

		if err := l.registry.Register(font); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		loaded++

		// The module makes the first loaded font its default.
		if l.defaultID == 0 {
			l.defaultID = font.ID
		}
	}

	if loaded == 0 {
		return 0, multierr.Append(errs, &NoFontsLoadedError{ManifestPath: m.Path()})
	}

	if entry, ok := m.DefaultEntry(); ok {
		font, ok := l.registry.Get(entry.Name)
		if !ok {
			l.logger.Warn("Default font not loaded, keeping module default",
				zap.String("name", entry.Name),
				zap.Int32("font_id", l.defaultID),
			)
		} else if font.ID != l.defaultID {
			if err := l.target.SetDefaultFont(ctx, font.ID); err != nil {
				return loaded, multierr.Append(errs, err)
			}
			l.defaultID = font.ID
		}
	}

	l.logger.Info("Fonts preloaded",
		zap.Int("loaded", loaded),
		zap.Int("failed", len(m.Fonts)-loaded),
		zap.Int32("default_font_id", l.defaultID),
	)

	return loaded, errs
}

func (l *Loader) load(ctx context.Context, m *Manifest, entry Entry) (*Font, error) {
	data, err := os.ReadFile(m.FontPath(entry))
	if err != nil {
		return nil, &FontLoadError{FontName: entry.Name, Err: err}
	}

	id, err := l.target.LoadFont(ctx, data, entry.Name)
	if err != nil {
		return nil, fmt.Errorf("loading font %s: %w", entry.Name, err)
	}
	if id <= 0 {
		return nil, &FontLoadError{FontName: entry.Name, Err: ErrFontRejected}
	}

	return &Font{
		Entry:    entry,
		ID:       id,
		Size:     len(data),
		LoadedAt: time.Now(),
	}, nil
}

// Registry returns the fonts loaded so far.
func (l *Loader) Registry() *Registry {
	return l.registry
}

// DefaultID returns the id of the default font, or 0 before any font loaded.
func (l *Loader) DefaultID() int32 {
	return l.defaultID
}
