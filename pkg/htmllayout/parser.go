// Package htmllayout is the Go host binding for the html layout module.
//
// A Parser owns one module instance. It places HTML and CSS in module
// memory, asks the module for character-level layout in one of four result
// shapes, and keeps a mirror of the fonts loaded into the module.
//
// The module's font table and default font are process-wide inside the
// module. Parsers sharing one module instance must not mutate fonts
// concurrently.
package htmllayout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/internal/debuglog"
	"github.com/woxQAQ/html-layout-parser/internal/fonts"
	"github.com/woxQAQ/html-layout-parser/internal/parse"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

var (
	// ErrNotInitialized is returned by every operation before Init.
	ErrNotInitialized = errors.New("htmllayout: parser not initialized")

	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("htmllayout: parser destroyed")
)

// Memory is a byte-addressable view of module memory.
type Memory = bridge.Memory

// FontRecord is a font known to the parser.
type FontRecord = fonts.Record

// AllocationStats are the host-side allocation counters of a parser.
type AllocationStats = bridge.Stats

// Module is an initialized layout module.
type Module interface {
	Call(ctx context.Context, export string, params ...uint64) ([]uint64, error)
	Memory() Memory
	Close(ctx context.Context) error
}

// Loader produces a ready module.
type Loader interface {
	Load(ctx context.Context) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Module, error)

func (f LoaderFunc) Load(ctx context.Context) (Module, error) {
	return f(ctx)
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateDestroyed
)

// Parser is the caller-facing layout parser. It is safe for concurrent use;
// module calls are serialized.
type Parser struct {
	mu    sync.Mutex
	state lifecycle

	loader Loader
	module Module

	bridge  *bridge.Bridge
	fonts   *fonts.Table
	invoker *parse.Invoker

	logger    *zap.Logger
	debug     *debuglog.Channel
	debugMode bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the operational logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDebugSink sends debug channel output to w.
func WithDebugSink(w io.Writer) Option {
	return func(p *Parser) {
		p.debug = debuglog.New(w)
	}
}

// WithDebug enables debug mode at Init.
func WithDebug(enabled bool) Option {
	return func(p *Parser) {
		p.debugMode = enabled
	}
}

// New creates a parser. No module is loaded until Init.
func New(loader Loader, opts ...Option) *Parser {
	p := &Parser{
		loader: loader,
		logger: zap.NewNop(),
		debug:  debuglog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "htmllayout"))
	return p
}

// Init loads the module. Calling Init again is a no-op; calling it after
// Destroy returns ErrDestroyed.
func (p *Parser) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateReady:
		return nil
	case stateDestroyed:
		return ErrDestroyed
	}

	start := time.Now()
	module, err := p.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load layout module: %w", err)
	}

	p.module = module
	p.bridge = bridge.New(module, p.logger)
	p.fonts = fonts.NewTable(p.bridge, p.logger)
	p.invoker = parse.NewInvoker(p.bridge, p.fonts, p.logger, p.debug.Logger())

	if p.debugMode {
		if err := p.setDebugLocked(ctx, true); err != nil {
			return multierr.Append(fmt.Errorf("enable debug mode: %w", err), p.teardownLocked(ctx))
		}
	}

	p.state = stateReady
	p.logger.Info("Layout module initialized", zap.Duration("elapsed", time.Since(start)))
	p.debug.Printf("Parser initialized in %s", debuglog.FormatDuration(time.Since(start)))
	return nil
}

func (p *Parser) ready() error {
	switch p.state {
	case stateNew:
		return ErrNotInitialized
	case stateDestroyed:
		return ErrDestroyed
	}
	return nil
}

// LoadFont loads font data under name. It returns 0 with a nil error when
// the module rejects the font.
func (p *Parser) LoadFont(ctx context.Context, data []byte, name string) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return 0, err
	}

	id, err := p.fonts.Load(ctx, data, name)
	if err == nil && id > 0 {
		p.debug.Printf("Font loaded: %s (id=%d, size=%s)", name, id, debuglog.FormatBytes(uint64(len(data))))
	}
	return id, err
}

// UnloadFont releases a font.
func (p *Parser) UnloadFont(ctx context.Context, id int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.fonts.Unload(ctx, id); err != nil {
		return err
	}
	p.debug.Printf("Font unloaded: id=%d", id)
	return nil
}

// SetDefaultFont sets the fallback font. The id is not validated.
func (p *Parser) SetDefaultFont(ctx context.Context, id int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	return p.fonts.SetDefault(ctx, id)
}

// GetLoadedFonts returns the fonts as reported by the module.
func (p *Parser) GetLoadedFonts(ctx context.Context) ([]protocol.FontInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.fonts.List(ctx)
}

// ClearAllFonts unloads every font.
func (p *Parser) ClearAllFonts(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	n := p.fonts.Count()
	if err := p.fonts.Clear(ctx); err != nil {
		return err
	}
	p.debug.Printf("All fonts cleared (%d unloaded)", n)
	return nil
}

// Fonts returns the parser's view of the loaded fonts.
func (p *Parser) Fonts() []FontRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fonts == nil {
		return []FontRecord{}
	}
	return p.fonts.Records()
}

// Parse lays out html and returns a result of opts.Mode's shape.
func (p *Parser) Parse(ctx context.Context, html string, opts Options) (protocol.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}

	if opts.Debug {
		defer p.debug.Enable()()
	}

	res, err := p.invoker.Parse(ctx, opts.request(html))
	if err == nil && p.debug.Enabled() {
		p.debug.Printf("Parse finished: %d characters (mode=%s)", len(res.Characters()), res.Shape())
	}
	return res, err
}

// ParseWithCSS is Parse with an external stylesheet.
func (p *Parser) ParseWithCSS(ctx context.Context, html, css string, opts Options) (protocol.Result, error) {
	opts.CSS = &css
	return p.Parse(ctx, html, opts)
}

// ParseWithDiagnostics lays out html and reports the outcome as an
// envelope. The error is non-nil only when the parser is not ready.
func (p *Parser) ParseWithDiagnostics(ctx context.Context, html string, opts Options) (*protocol.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}
	if opts.Debug {
		defer p.debug.Enable()()
	}
	return p.invoker.ParseWithDiagnostics(ctx, opts.request(html)), nil
}

// GetLastParseResult returns the module's envelope for the most recent parse.
func (p *Parser) GetLastParseResult(ctx context.Context) (*protocol.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.invoker.LastResult(ctx), nil
}

// GetVersion returns the module version.
func (p *Parser) GetVersion(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return "", err
	}
	return p.bridge.CallString(ctx, bridge.ExportGetVersion)
}

// GetMemoryMetrics returns the module's font memory snapshot, or nil when
// the module's answer cannot be decoded.
func (p *Parser) GetMemoryMetrics(ctx context.Context) (*protocol.MemoryMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}

	var metrics protocol.MemoryMetrics
	ok, err := p.callJSON(ctx, bridge.ExportGetMemoryMetrics, &metrics)
	if err != nil || !ok {
		return nil, err
	}
	return &metrics, nil
}

// CheckMemoryThreshold reports whether font memory exceeds the module's
// threshold.
func (p *Parser) CheckMemoryThreshold(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return false, err
	}

	v, err := p.bridge.CallI32(ctx, bridge.ExportCheckMemoryThreshold)
	return v != 0, err
}

// GetTotalMemoryUsage returns the bytes held by loaded fonts.
func (p *Parser) GetTotalMemoryUsage(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return 0, err
	}

	v, err := p.bridge.CallU32(ctx, bridge.ExportGetTotalMemoryUsage)
	return uint64(v), err
}

// SetDebugMode switches module debug output and the debug channel.
func (p *Parser) SetDebugMode(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	return p.setDebugLocked(ctx, enabled)
}

func (p *Parser) setDebugLocked(ctx context.Context, enabled bool) error {
	flag := int32(0)
	if enabled {
		flag = 1
	}
	if _, err := p.bridge.CallI32(ctx, bridge.ExportSetDebugMode, api.EncodeI32(flag)); err != nil {
		return err
	}
	p.debugMode = enabled
	p.debug.SetEnabled(enabled)
	return nil
}

// GetDebugMode returns the module's debug flag.
func (p *Parser) GetDebugMode(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return false, err
	}

	v, err := p.bridge.CallI32(ctx, bridge.ExportGetDebugMode)
	return v != 0, err
}

// DebugLogger returns the debug channel's logger. Entries reach the sink only
// while debug mode is on. It does not lock and may be called from a Loader.
func (p *Parser) DebugLogger() *zap.Logger {
	return p.debug.Logger()
}

// GetMetrics returns the performance metrics of the last parse, or nil when
// the module's answer cannot be decoded.
func (p *Parser) GetMetrics(ctx context.Context) (*protocol.ModuleMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}

	var metrics protocol.ModuleMetrics
	ok, err := p.callJSON(ctx, bridge.ExportGetMetrics, &metrics)
	if err != nil || !ok {
		return nil, err
	}
	return &metrics, nil
}

// GetCacheStats returns the module's font metrics cache counters, or nil
// when the module's answer cannot be decoded.
func (p *Parser) GetCacheStats(ctx context.Context) (*protocol.CacheStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return nil, err
	}

	var stats protocol.CacheStats
	ok, err := p.callJSON(ctx, bridge.ExportGetCacheStats, &stats)
	if err != nil || !ok {
		return nil, err
	}
	return &stats, nil
}

// ResetCacheStats zeroes the cache hit and miss counters.
func (p *Parser) ResetCacheStats(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	_, err := p.bridge.CallI32(ctx, bridge.ExportResetCacheStats)
	return err
}

// ClearCache drops the module's font metrics cache.
func (p *Parser) ClearCache(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	_, err := p.bridge.CallI32(ctx, bridge.ExportClearCache)
	return err
}

// Stats returns the host-side allocation counters.
func (p *Parser) Stats() AllocationStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bridge == nil {
		return AllocationStats{}
	}
	return p.bridge.Stats()
}

// Destroy releases the module. It is safe to call more than once; later
// calls do nothing.
func (p *Parser) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateDestroyed:
		return nil
	case stateNew:
		p.state = stateDestroyed
		return nil
	}

	p.debug.Printf("Destroying parser and releasing all resources")
	err := p.teardownLocked(ctx)
	p.state = stateDestroyed

	if err != nil {
		p.logger.Warn("Parser destroyed with errors", zap.Error(err))
	} else {
		p.logger.Info("Parser destroyed")
	}
	return err
}

func (p *Parser) teardownLocked(ctx context.Context) error {
	var err error
	if _, derr := p.bridge.CallI32(ctx, bridge.ExportDestroy); derr != nil {
		err = multierr.Append(err, fmt.Errorf("destroy module: %w", derr))
	}
	if cerr := p.module.Close(ctx); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close module: %w", cerr))
	}
	p.fonts.Reset()
	p.debug.SetEnabled(false)
	return err
}

// callJSON decodes the JSON string returned by export into v. It reports
// false when the answer is missing or undecodable.
func (p *Parser) callJSON(ctx context.Context, export string, v any) (bool, error) {
	raw, err := p.bridge.CallString(ctx, export)
	if err != nil {
		var decodeErr *bridge.DecodeError
		if errors.Is(err, bridge.ErrNullPointer) || errors.As(err, &decodeErr) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		p.logger.Debug("Undecodable module answer", zap.String("export", export), zap.Error(err))
		return false, nil
	}
	return true, nil
}
