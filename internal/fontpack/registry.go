package fontpack

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Font is a manifest entry that the layout module accepted.
type Font struct {
	Entry
	ID       int32
	Size     int
	LoadedAt time.Time
}

// Registry maps font names to module font ids.
type Registry struct {
	sync.RWMutex
	fonts  map[string]*Font // name -> font
	byID   map[int32]*Font
	logger *zap.Logger
}

// NewRegistry creates an empty font registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		fonts:  make(map[string]*Font),
		byID:   make(map[int32]*Font),
		logger: logger.With(zap.String("component", "font-registry")),
	}
}

// Register adds a loaded font.
func (r *Registry) Register(font *Font) error {
	r.Lock()
	defer r.Unlock()

	if _, exists := r.fonts[font.Name]; exists {
		return &FontAlreadyRegisteredError{FontName: font.Name}
	}

	r.fonts[font.Name] = font
	r.byID[font.ID] = font

	r.logger.Debug("Font registered",
		zap.String("name", font.Name),
		zap.Int32("font_id", font.ID),
	)

	return nil
}

// Get retrieves a font by name.
func (r *Registry) Get(name string) (*Font, bool) {
	r.RLock()
	defer r.RUnlock()

	font, ok := r.fonts[name]
	return font, ok
}

// Lookup retrieves a font by module id.
func (r *Registry) Lookup(id int32) (*Font, bool) {
	r.RLock()
	defer r.RUnlock()

	font, ok := r.byID[id]
	return font, ok
}

// Remove forgets a font, e.g. after it was unloaded from the module.
func (r *Registry) Remove(name string) {
	r.Lock()
	defer r.Unlock()

	if font, ok := r.fonts[name]; ok {
		delete(r.byID, font.ID)
		delete(r.fonts, name)
	}
}

// List returns all registered fonts ordered by id.
func (r *Registry) List() []*Font {
	r.RLock()
	defer r.RUnlock()

	fonts := make([]*Font, 0, len(r.fonts))
	for _, f := range r.fonts {
		fonts = append(fonts, f)
	}
	sort.Slice(fonts, func(i, j int) bool { return fonts[i].ID < fonts[j].ID })
	return fonts
}

// Count returns the number of registered fonts.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.fonts)
}
