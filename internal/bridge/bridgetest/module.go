// Package bridgetest provides an in-process fake of the layout module.
//
// The fake implements every export with the module's calling convention
// and JSON formats, tracks every allocation crossing the boundary, and can
// inject allocation failures, traps and malformed responses.
package bridgetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

const (
	// Version is what getVersion returns.
	Version = "2.0.0"

	// CharWidth and LineHeight are the fixed metrics of the fake layout.
	CharWidth  = 8
	LineHeight = 16

	defaultMemorySize = 4 << 20
	defaultThreshold  = 50 * 1024 * 1024
)

// ErrClosed is returned by calls on a closed module.
var ErrClosed = errors.New("bridgetest: module closed")

type font struct {
	id   int32
	name string
	size uint64
}

// Module is a fake layout module. It is safe for concurrent use.
type Module struct {
	mu sync.Mutex

	mem  []byte
	next uint32

	hostAllocs    map[uint32]uint32
	moduleStrings map[uint32]struct{}
	freed         []uint32
	badFrees      int
	mallocCalls   int
	calls         map[string]int

	failAllocAt int
	trapAllocAt int
	traps       map[string]error
	responses   map[string]string
	nullResults map[string]bool
	disabled    map[string]bool

	fonts       map[int32]font
	nextFont    int32
	defaultFont int32
	threshold   uint64

	debug     bool
	destroyed bool
	closed    bool

	lastEnvelope string
	lastMetrics  protocol.PerformanceMetrics
	lastCSS      *string
	lastMode     string

	cacheEntries map[string]struct{}
	cacheHits    uint64
	cacheMisses  uint64
}

// New creates a fake module with no fonts loaded.
func New() *Module {
	return &Module{
		mem:           make([]byte, defaultMemorySize),
		next:          8,
		hostAllocs:    make(map[uint32]uint32),
		moduleStrings: make(map[uint32]struct{}),
		calls:         make(map[string]int),
		traps:         make(map[string]error),
		responses:     make(map[string]string),
		nullResults:   make(map[string]bool),
		disabled:      make(map[string]bool),
		fonts:         make(map[int32]font),
		nextFont:      1,
		threshold:     defaultThreshold,
		cacheEntries:  make(map[string]struct{}),
	}
}

// FailAllocAt makes the n-th and every later malloc call return 0.
// n <= 0 disables the failure.
func (m *Module) FailAllocAt(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAllocAt = n
}

// TrapAllocAt makes the n-th and every later malloc call trap.
func (m *Module) TrapAllocAt(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trapAllocAt = n
}

// Trap makes every call to export fail with err. A nil err clears it.
func (m *Module) Trap(export string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.traps, export)
		return
	}
	m.traps[export] = err
}

// Respond replaces the string returned by export with raw.
func (m *Module) Respond(export, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[export] = raw
}

// ReturnNull makes a string-returning export return pointer 0.
func (m *Module) ReturnNull(export string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nullResults[export] = true
}

// Disable makes export behave as if the module did not provide it.
func (m *Module) Disable(export string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[export] = true
}

// SetThreshold sets the font memory threshold reported by the module.
func (m *Module) SetThreshold(bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = bytes
}

// Calls returns how often export was called.
func (m *Module) Calls(export string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[export]
}

// TotalCalls returns the number of calls to any export.
func (m *Module) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// LiveAllocations returns host allocations not yet freed.
func (m *Module) LiveAllocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hostAllocs)
}

// Freed returns the pointers passed to free, in call order.
func (m *Module) Freed() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.freed...)
}

// MallocCalls returns how often malloc was called, including failed calls.
func (m *Module) MallocCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mallocCalls
}

// LiveStrings returns module strings not yet handed back with freeString.
func (m *Module) LiveStrings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moduleStrings)
}

// BadFrees returns how many free or freeString calls named an unknown pointer.
func (m *Module) BadFrees() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.badFrees
}

// DefaultFont returns the module's current default font id.
func (m *Module) DefaultFont() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultFont
}

// FontCount returns the number of fonts the module holds.
func (m *Module) FontCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fonts)
}

// LastCSS returns the CSS of the most recent parse, or nil when none was passed.
func (m *Module) LastCSS() *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCSS
}

// LastMode returns the mode string of the most recent parse.
func (m *Module) LastMode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMode
}

// Debug reports the module's debug flag.
func (m *Module) Debug() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debug
}

// Destroyed reports whether destroy was called.
func (m *Module) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// AssertNoLeaks fails t if any allocation crossing the boundary is still live.
func (m *Module) AssertNoLeaks(t testing.TB) {
	t.Helper()
	if n := m.LiveAllocations(); n != 0 {
		t.Errorf("%d host allocations leaked", n)
	}
	if n := m.LiveStrings(); n != 0 {
		t.Errorf("%d module strings leaked", n)
	}
	if n := m.BadFrees(); n != 0 {
		t.Errorf("%d frees of unknown pointers", n)
	}
}

// Close marks the module closed. Later calls fail with ErrClosed.
func (m *Module) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Memory returns the module memory.
func (m *Module) Memory() bridge.Memory {
	return memory{m: m}
}

// Call implements bridge.Handle.
func (m *Module) Call(_ context.Context, export string, params ...uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.disabled[export] {
		return nil, fmt.Errorf("bridgetest: export %q not found", export)
	}
	m.calls[export]++
	if err, ok := m.traps[export]; ok {
		return nil, err
	}

	switch export {
	case bridge.ExportMalloc:
		return m.malloc(u32(params, 0))
	case bridge.ExportFree:
		ptr := u32(params, 0)
		if _, ok := m.hostAllocs[ptr]; !ok {
			m.badFrees++
		}
		delete(m.hostAllocs, ptr)
		m.freed = append(m.freed, ptr)
		return nil, nil
	case bridge.ExportFreeString:
		ptr := u32(params, 0)
		if _, ok := m.moduleStrings[ptr]; !ok {
			m.badFrees++
		}
		delete(m.moduleStrings, ptr)
		return nil, nil

	case bridge.ExportLoadFont:
		return i32(m.loadFont(u32(params, 0), u32(params, 1), u32(params, 2))), nil
	case bridge.ExportUnloadFont:
		m.unloadFont(api.DecodeI32(param(params, 0)))
		return nil, nil
	case bridge.ExportSetDefaultFont:
		if id := api.DecodeI32(param(params, 0)); m.fonts[id].id != 0 {
			m.defaultFont = id
		}
		return nil, nil
	case bridge.ExportGetLoadedFonts:
		return m.returnString(export, mustJSON(m.fontInfos(true)))
	case bridge.ExportClearAllFonts:
		m.fonts = make(map[int32]font)
		m.defaultFont = 0
		return nil, nil

	case bridge.ExportParseHTML:
		data := m.parse(params)
		return m.returnString(export, data)
	case bridge.ExportParseHTMLWithDiagnostics:
		m.parse(params)
		return m.returnString(export, m.lastEnvelope)
	case bridge.ExportGetLastParseResult:
		return m.returnString(export, m.lastEnvelopeOrDefault())

	case bridge.ExportDestroy:
		m.fonts = make(map[int32]font)
		m.defaultFont = 0
		m.cacheEntries = make(map[string]struct{})
		m.lastEnvelope = ""
		m.destroyed = true
		return nil, nil
	case bridge.ExportGetTotalMemoryUsage:
		return []uint64{api.EncodeU32(uint32(m.totalFontMemory()))}, nil
	case bridge.ExportCheckMemoryThreshold:
		return boolResult(m.totalFontMemory() > m.threshold), nil
	case bridge.ExportGetMemoryMetrics:
		return m.returnString(export, mustJSON(m.memoryMetrics()))
	case bridge.ExportGetVersion:
		return m.returnString(export, Version)
	case bridge.ExportSetDebugMode:
		m.debug = api.DecodeI32(param(params, 0)) != 0
		return nil, nil
	case bridge.ExportGetDebugMode:
		return boolResult(m.debug), nil

	case bridge.ExportGetMetrics:
		var metrics protocol.ModuleMetrics
		metrics.PerformanceMetrics = m.lastMetrics
		metrics.Memory.TotalFontMemory = m.totalFontMemory()
		metrics.Memory.FontCount = len(m.fonts)
		metrics.Memory.ExceedsThreshold = metrics.Memory.TotalFontMemory > m.threshold
		return m.returnString(export, mustJSON(metrics))
	case bridge.ExportGetCacheStats:
		return m.returnString(export, mustJSON(m.cacheStats()))
	case bridge.ExportResetCacheStats:
		m.cacheHits, m.cacheMisses = 0, 0
		return nil, nil
	case bridge.ExportClearCache:
		m.cacheEntries = make(map[string]struct{})
		return nil, nil
	}

	return nil, fmt.Errorf("bridgetest: export %q not found", export)
}

func (m *Module) malloc(size uint32) ([]uint64, error) {
	m.mallocCalls++
	if m.trapAllocAt > 0 && m.mallocCalls >= m.trapAllocAt {
		return nil, errors.New("bridgetest: malloc trapped")
	}
	if m.failAllocAt > 0 && m.mallocCalls >= m.failAllocAt {
		return []uint64{0}, nil
	}
	ptr := m.allocate(size)
	if ptr != 0 {
		m.hostAllocs[ptr] = size
	}
	return []uint64{api.EncodeU32(ptr)}, nil
}

// allocate bumps the heap pointer. Freed memory is never reused, so a stale
// pointer can never alias a newer allocation.
func (m *Module) allocate(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	aligned := (size + 7) &^ 7
	if uint64(m.next)+uint64(aligned) > uint64(len(m.mem)) {
		return 0
	}
	ptr := m.next
	m.next += aligned
	return ptr
}

func (m *Module) returnString(export, s string) ([]uint64, error) {
	if m.nullResults[export] {
		return []uint64{0}, nil
	}
	if raw, ok := m.responses[export]; ok {
		s = raw
	}
	ptr := m.allocate(uint32(len(s)) + 1)
	if ptr == 0 {
		return []uint64{0}, nil
	}
	copy(m.mem[ptr:], s)
	m.mem[ptr+uint32(len(s))] = 0
	m.moduleStrings[ptr] = struct{}{}
	return []uint64{api.EncodeU32(ptr)}, nil
}

func (m *Module) readCString(ptr uint32) (string, bool) {
	if ptr == 0 || ptr >= uint32(len(m.mem)) {
		return "", false
	}
	end := ptr
	for end < uint32(len(m.mem)) && m.mem[end] != 0 {
		end++
	}
	return string(m.mem[ptr:end]), true
}

func (m *Module) loadFont(dataPtr, dataLen, namePtr uint32) int32 {
	if dataPtr == 0 || dataLen == 0 || uint64(dataPtr)+uint64(dataLen) > uint64(len(m.mem)) {
		return 0
	}
	data := m.mem[dataPtr : dataPtr+dataLen]
	if strings.HasPrefix(string(data), "BAD") {
		return 0
	}
	name, _ := m.readCString(namePtr)

	id := m.nextFont
	m.nextFont++
	if name == "" {
		name = fmt.Sprintf("font-%d", id)
	}
	m.fonts[id] = font{id: id, name: name, size: uint64(dataLen)}
	if m.defaultFont == 0 {
		m.defaultFont = id
	}
	return id
}

func (m *Module) unloadFont(id int32) {
	if _, ok := m.fonts[id]; !ok {
		return
	}
	delete(m.fonts, id)
	if m.defaultFont == id {
		m.defaultFont = 0
		if ids := m.sortedFontIDs(); len(ids) > 0 {
			m.defaultFont = ids[0]
		}
	}
}

func (m *Module) sortedFontIDs() []int32 {
	ids := make([]int32, 0, len(m.fonts))
	for id := range m.fonts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Module) fontInfos(withDefault bool) []protocol.FontInfo {
	infos := make([]protocol.FontInfo, 0, len(m.fonts))
	for _, id := range m.sortedFontIDs() {
		f := m.fonts[id]
		info := protocol.FontInfo{ID: f.id, Name: f.name, MemoryUsage: f.size}
		if withDefault {
			info.IsDefault = f.id == m.defaultFont
		}
		infos = append(infos, info)
	}
	return infos
}

func (m *Module) totalFontMemory() uint64 {
	var total uint64
	for _, f := range m.fonts {
		total += f.size
	}
	return total
}

func (m *Module) memoryMetrics() protocol.MemoryMetrics {
	total := m.totalFontMemory()
	return protocol.MemoryMetrics{
		TotalBytes:       total,
		FontCount:        len(m.fonts),
		FontHandleCount:  len(m.fonts),
		MemoryThreshold:  m.threshold,
		ExceedsThreshold: total > m.threshold,
		Fonts:            m.fontInfos(false),
	}
}

func (m *Module) cacheStats() protocol.CacheStats {
	stats := protocol.CacheStats{
		Hits:    m.cacheHits,
		Misses:  m.cacheMisses,
		Entries: uint64(len(m.cacheEntries)),
	}
	if total := m.cacheHits + m.cacheMisses; total > 0 {
		rate := float64(m.cacheHits) / float64(total)
		stats.HitRate = &rate
	}
	stats.MemoryUsage = stats.Entries * 64
	return stats
}

func (m *Module) lastEnvelopeOrDefault() string {
	if m.lastEnvelope != "" {
		return m.lastEnvelope
	}
	return mustJSON(protocol.FailureEnvelope(protocol.CodeParseFailed, "no parse result available"))
}

type memory struct {
	m *Module
}

func (v memory) Read(offset, byteCount uint32) ([]byte, bool) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if uint64(offset)+uint64(byteCount) > uint64(len(v.m.mem)) {
		return nil, false
	}
	return v.m.mem[offset : offset+byteCount], true
}

func (v memory) Write(offset uint32, data []byte) bool {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if uint64(offset)+uint64(len(data)) > uint64(len(v.m.mem)) {
		return false
	}
	copy(v.m.mem[offset:], data)
	return true
}

func (v memory) Size() uint32 {
	return uint32(len(v.m.mem))
}

func param(params []uint64, i int) uint64 {
	if i < len(params) {
		return params[i]
	}
	return 0
}

func u32(params []uint64, i int) uint32 {
	return api.DecodeU32(param(params, i))
}

func i32(v int32) []uint64 {
	return []uint64{api.EncodeI32(v)}
}

func boolResult(b bool) []uint64 {
	if b {
		return i32(1)
	}
	return i32(0)
}
