// Package fonts keeps the host-side table of fonts loaded into the layout
// module.
//
// The module owns the font memory and is the source of truth. The table is
// a mirror used for introspection and default-font bookkeeping; it is only
// accurate while every font mutation goes through it.
package fonts

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

// Record is a font known to the table.
type Record struct {
	ID       int32
	Name     string
	Size     uint64
	LoadedAt time.Time
}

// Table mirrors the module's font table.
type Table struct {
	sync.RWMutex
	bridge    *bridge.Bridge
	records   map[int32]Record
	defaultID int32
	logger    *zap.Logger
}

// NewTable creates an empty table over b.
func NewTable(b *bridge.Bridge, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		bridge:  b,
		records: make(map[int32]Record),
		logger:  logger.With(zap.String("component", "font-table")),
	}
}

// Load copies data into the module and registers it under name.
//
// The module assigns the id. An id of 0 means the module rejected the font;
// Load then returns 0 with a nil error and records nothing. Errors are
// returned only for bridge failures. Loading the same bytes twice yields two
// entries.
func (t *Table) Load(ctx context.Context, data []byte, name string) (int32, error) {
	var id int32
	err := t.bridge.WithRegions(ctx, []bridge.Source{bridge.Bytes(data), bridge.String(name)},
		func(ptrs []uint32) error {
			var err error
			id, err = t.bridge.CallI32(ctx, bridge.ExportLoadFont,
				api.EncodeU32(ptrs[0]),
				api.EncodeI32(int32(len(data))),
				api.EncodeU32(ptrs[1]),
			)
			return err
		})
	if err != nil {
		return 0, err
	}

	if id <= 0 {
		t.logger.Warn("Module rejected font",
			zap.String("name", name),
			zap.Int("size", len(data)),
		)
		return 0, nil
	}

	t.Lock()
	t.records[id] = Record{
		ID:       id,
		Name:     name,
		Size:     uint64(len(data)),
		LoadedAt: time.Now(),
	}
	// The module makes the first font the default.
	if t.defaultID == 0 {
		t.defaultID = id
	}
	t.Unlock()

	t.logger.Info("Font loaded",
		zap.Int32("font_id", id),
		zap.String("name", name),
		zap.Int("size", len(data)),
	)

	return id, nil
}

// Unload releases the font in the module and removes it from the table.
func (t *Table) Unload(ctx context.Context, id int32) error {
	if _, err := t.bridge.CallI32(ctx, bridge.ExportUnloadFont, api.EncodeI32(id)); err != nil {
		return err
	}

	t.Lock()
	delete(t.records, id)
	if t.defaultID == id {
		t.defaultID = t.lowestIDLocked()
	}
	t.Unlock()

	t.logger.Info("Font unloaded", zap.Int32("font_id", id))
	return nil
}

// SetDefault makes id the module's fallback font. The id is not validated;
// an unknown id is handled by the module.
func (t *Table) SetDefault(ctx context.Context, id int32) error {
	if _, err := t.bridge.CallI32(ctx, bridge.ExportSetDefaultFont, api.EncodeI32(id)); err != nil {
		return err
	}

	t.Lock()
	t.defaultID = id
	t.Unlock()

	t.logger.Debug("Default font set", zap.Int32("font_id", id))
	return nil
}

// Clear unloads every font in the module and empties the table.
func (t *Table) Clear(ctx context.Context) error {
	if _, err := t.bridge.CallI32(ctx, bridge.ExportClearAllFonts); err != nil {
		return err
	}

	t.Reset()
	t.logger.Info("All fonts cleared")
	return nil
}

// List returns the fonts as reported by the module. Output the host cannot
// decode yields an empty list.
func (t *Table) List(ctx context.Context) ([]protocol.FontInfo, error) {
	raw, err := t.bridge.CallString(ctx, bridge.ExportGetLoadedFonts)
	if err != nil {
		var decodeErr *bridge.DecodeError
		if errors.Is(err, bridge.ErrNullPointer) || errors.As(err, &decodeErr) {
			return []protocol.FontInfo{}, nil
		}
		return nil, err
	}

	infos := []protocol.FontInfo{}
	if err := json.Unmarshal([]byte(raw), &infos); err != nil {
		t.logger.Warn("Undecodable font list", zap.Error(err))
		return []protocol.FontInfo{}, nil
	}
	return infos, nil
}

// WithDefault points the module's default font at id while fn runs and then
// restores the previous default. The table's own default is not changed.
// An id of 0 runs fn unchanged.
func (t *Table) WithDefault(ctx context.Context, id int32, fn func() error) (err error) {
	if id == 0 {
		return fn()
	}

	prev := t.moduleDefault(ctx)
	if prev == id {
		return fn()
	}

	if _, err := t.bridge.CallI32(ctx, bridge.ExportSetDefaultFont, api.EncodeI32(id)); err != nil {
		return err
	}
	defer func() {
		if prev == 0 {
			return
		}
		if _, rerr := t.bridge.CallI32(ctx, bridge.ExportSetDefaultFont, api.EncodeI32(prev)); rerr != nil {
			t.logger.Warn("Failed to restore default font",
				zap.Int32("font_id", prev),
				zap.Error(rerr),
			)
			err = multierr.Append(err, rerr)
		}
	}()

	return fn()
}

// moduleDefault asks the module for its current default, falling back to the
// table's view when the list is unavailable.
func (t *Table) moduleDefault(ctx context.Context) int32 {
	infos, err := t.List(ctx)
	if err == nil {
		for _, info := range infos {
			if info.IsDefault {
				return info.ID
			}
		}
	}
	return t.Default()
}

// Get returns the record for id.
func (t *Table) Get(id int32) (Record, bool) {
	t.RLock()
	defer t.RUnlock()

	r, ok := t.records[id]
	return r, ok
}

// Records returns the table contents sorted by id.
func (t *Table) Records() []Record {
	t.RLock()
	defer t.RUnlock()

	result := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Default returns the default font id, or 0 if none is set.
func (t *Table) Default() int32 {
	t.RLock()
	defer t.RUnlock()

	return t.defaultID
}

// Count returns the number of fonts in the table.
func (t *Table) Count() int {
	t.RLock()
	defer t.RUnlock()

	return len(t.records)
}

// TotalSize returns the sum of the recorded font sizes.
func (t *Table) TotalSize() uint64 {
	t.RLock()
	defer t.RUnlock()

	var total uint64
	for _, r := range t.records {
		total += r.Size
	}
	return total
}

// Reset empties the table without touching the module.
func (t *Table) Reset() {
	t.Lock()
	defer t.Unlock()

	t.records = make(map[int32]Record)
	t.defaultID = 0
}

func (t *Table) lowestIDLocked() int32 {
	var lowest int32
	for id := range t.records {
		if lowest == 0 || id < lowest {
			lowest = id
		}
	}
	return lowest
}
