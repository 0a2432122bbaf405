package htmllayout

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/internal/bridge/bridgetest"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

func fakeLoader(mod *bridgetest.Module) Loader {
	return LoaderFunc(func(context.Context) (Module, error) {
		return mod, nil
	})
}

func newParser(t *testing.T, opts ...Option) (*Parser, *bridgetest.Module) {
	t.Helper()
	mod := bridgetest.New()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	p := New(fakeLoader(mod), opts...)
	require.NoError(t, p.Init(context.Background()))
	return p, mod
}

func TestInitIdempotent(t *testing.T) {
	loads := 0
	mod := bridgetest.New()
	p := New(LoaderFunc(func(context.Context) (Module, error) {
		loads++
		return mod, nil
	}))
	ctx := context.Background()

	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Init(ctx))
	assert.Equal(t, 1, loads)
}

func TestInitLoaderError(t *testing.T) {
	want := errors.New("no such file")
	p := New(LoaderFunc(func(context.Context) (Module, error) { return nil, want }))

	err := p.Init(context.Background())
	require.ErrorIs(t, err, want)

	_, err = p.GetVersion(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestNotInitialized(t *testing.T) {
	p := New(fakeLoader(bridgetest.New()))
	ctx := context.Background()

	_, err := p.Parse(ctx, "x", DefaultOptions())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = p.LoadFont(ctx, []byte("f"), "F")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = p.ParseWithDiagnostics(ctx, "x", DefaultOptions())
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, p.Fonts())
}

func TestGetVersion(t *testing.T) {
	p, mod := newParser(t)

	v, err := p.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)
	mod.AssertNoLeaks(t)
}

func TestParseThroughParser(t *testing.T) {
	p, mod := newParser(t)
	ctx := context.Background()

	_, err := p.LoadFont(ctx, []byte("inter"), "Inter")
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Mode = "simple"
	res, err := p.Parse(ctx, "<h1>Title</h1>", opts)
	require.NoError(t, err)
	assert.Equal(t, protocol.ShapeSimple, res.Shape())
	assert.Len(t, res.Characters(), 5)

	res, err = p.ParseWithCSS(ctx, "<p>x</p>", "p { color: red }", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "#FF0000FF", res.Characters()[0].Color)

	env, err := p.ParseWithDiagnostics(ctx, "", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Equal(t, protocol.CodeEmptyHTML, env.FirstError().CodeNum)

	last, err := p.GetLastParseResult(ctx)
	require.NoError(t, err)
	assert.False(t, last.Success)

	mod.AssertNoLeaks(t)
	assert.Zero(t, p.Stats().Outstanding())
}

func TestFontTableConsistency(t *testing.T) {
	p, mod := newParser(t)
	ctx := context.Background()

	a, err := p.LoadFont(ctx, []byte("aaaa"), "A")
	require.NoError(t, err)
	b, err := p.LoadFont(ctx, []byte("bb"), "B")
	require.NoError(t, err)
	bad, err := p.LoadFont(ctx, []byte("BAD"), "Bad")
	require.NoError(t, err)
	assert.Zero(t, bad)

	require.NoError(t, p.SetDefaultFont(ctx, b))

	listed, err := p.GetLoadedFonts(ctx)
	require.NoError(t, err)
	records := p.Fonts()
	require.Len(t, listed, 2)
	require.Len(t, records, 2)
	for i := range listed {
		assert.Equal(t, listed[i].ID, records[i].ID)
		assert.Equal(t, listed[i].Name, records[i].Name)
		assert.Equal(t, listed[i].MemoryUsage, records[i].Size)
	}
	assert.True(t, listed[1].IsDefault)

	total, err := p.GetTotalMemoryUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), total)

	require.NoError(t, p.UnloadFont(ctx, a))
	assert.Len(t, p.Fonts(), 1)
	assert.Equal(t, 1, mod.FontCount())

	require.NoError(t, p.ClearAllFonts(ctx))
	assert.Empty(t, p.Fonts())
	assert.Zero(t, mod.FontCount())
	mod.AssertNoLeaks(t)
}

func TestMemoryMetrics(t *testing.T) {
	p, mod := newParser(t)
	ctx := context.Background()

	_, err := p.LoadFont(ctx, make([]byte, 2048), "Big")
	require.NoError(t, err)

	metrics, err := p.GetMemoryMetrics(ctx)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	assert.Equal(t, uint64(2048), metrics.TotalBytes)
	assert.Equal(t, 1, metrics.FontCount)
	require.Len(t, metrics.Fonts, 1)
	assert.Equal(t, "Big", metrics.Fonts[0].Name)

	exceeds, err := p.CheckMemoryThreshold(ctx)
	require.NoError(t, err)
	assert.False(t, exceeds)

	mod.SetThreshold(1024)
	exceeds, err = p.CheckMemoryThreshold(ctx)
	require.NoError(t, err)
	assert.True(t, exceeds)

	mod.Respond(bridge.ExportGetMemoryMetrics, "not json")
	metrics, err = p.GetMemoryMetrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, metrics)
	mod.AssertNoLeaks(t)
}

func TestMetricsAndCache(t *testing.T) {
	p, mod := newParser(t)
	ctx := context.Background()

	stats, err := p.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats.HitRate)

	_, err = p.Parse(ctx, "aaa", DefaultOptions())
	require.NoError(t, err)

	metrics, err := p.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.CharacterCount)

	stats, err = p.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	require.NotNil(t, stats.HitRate)

	require.NoError(t, p.ResetCacheStats(ctx))
	stats, err = p.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Hits)
	assert.Equal(t, uint64(1), stats.Entries)

	require.NoError(t, p.ClearCache(ctx))
	stats, err = p.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
	mod.AssertNoLeaks(t)
}

func TestOptionalExportMissing(t *testing.T) {
	p, mod := newParser(t)
	mod.Disable(bridge.ExportGetCacheStats)

	_, err := p.GetCacheStats(context.Background())
	assert.Error(t, err)
}

func TestDebugMode(t *testing.T) {
	var sink bytes.Buffer
	p, mod := newParser(t, WithDebugSink(&sink))
	ctx := context.Background()

	require.NoError(t, p.SetDebugMode(ctx, true))
	on, err := p.GetDebugMode(ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, mod.Debug())

	_, err = p.Parse(ctx, "hi", DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, sink.String(), "[HtmlLayoutParser]")
	assert.Contains(t, sink.String(), "Parse finished: 2 characters")

	require.NoError(t, p.SetDebugMode(ctx, false))
	sink.Reset()
	_, err = p.Parse(ctx, "hi", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, sink.String())
}

func TestParseDebugRequestWritesChannel(t *testing.T) {
	var sink bytes.Buffer
	p, mod := newParser(t, WithDebugSink(&sink))
	ctx := context.Background()

	opts := DefaultOptions()
	opts.Debug = true
	_, err := p.Parse(ctx, "hi", opts)
	require.NoError(t, err)
	assert.Equal(t, 2, mod.Calls(bridge.ExportSetDebugMode))
	assert.Contains(t, sink.String(), "[HtmlLayoutParser]")
	assert.Contains(t, sink.String(), "Parse state")
	assert.Contains(t, sink.String(), "Parse finished: 2 characters")

	// Only the flagged request is logged.
	sink.Reset()
	_, err = p.Parse(ctx, "hi", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, sink.String())

	_, err = p.ParseWithDiagnostics(ctx, "hi", opts)
	require.NoError(t, err)
	assert.Contains(t, sink.String(), "Parse state")

	sink.Reset()
	_, err = p.ParseWithDiagnostics(ctx, "hi", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, sink.String())
}

func TestDebugFontLines(t *testing.T) {
	var sink bytes.Buffer
	p, _ := newParser(t, WithDebugSink(&sink))
	ctx := context.Background()
	require.NoError(t, p.SetDebugMode(ctx, true))

	a, err := p.LoadFont(ctx, []byte("font-a"), "A")
	require.NoError(t, err)
	_, err = p.LoadFont(ctx, []byte("font-b"), "B")
	require.NoError(t, err)

	require.NoError(t, p.UnloadFont(ctx, a))
	require.NoError(t, p.ClearAllFonts(ctx))

	out := sink.String()
	assert.Contains(t, out, "Font loaded: A")
	assert.Contains(t, out, "Font unloaded: id=")
	assert.Contains(t, out, "All fonts cleared (1 unloaded)")
}

func TestWithDebugAtInit(t *testing.T) {
	_, mod := newParser(t, WithDebug(true))
	assert.True(t, mod.Debug())
}

func TestDestroy(t *testing.T) {
	p, mod := newParser(t)
	ctx := context.Background()

	_, err := p.LoadFont(ctx, []byte("font"), "F")
	require.NoError(t, err)

	require.NoError(t, p.Destroy(ctx))
	assert.True(t, mod.Destroyed())
	assert.True(t, mod.Closed())
	assert.Empty(t, p.Fonts())

	calls := mod.TotalCalls()
	require.NoError(t, p.Destroy(ctx), "second Destroy must be a no-op")
	assert.Equal(t, calls, mod.TotalCalls())
	mod.AssertNoLeaks(t)
}

func TestUseAfterDestroy(t *testing.T) {
	p, mod := newParser(t)
	ctx := context.Background()
	require.NoError(t, p.Destroy(ctx))
	calls := mod.TotalCalls()

	_, err := p.Parse(ctx, "x", DefaultOptions())
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = p.LoadFont(ctx, []byte("f"), "F")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, p.SetDefaultFont(ctx, 1), ErrDestroyed)
	_, err = p.GetMemoryMetrics(ctx)
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, p.Init(ctx), ErrDestroyed)

	assert.Equal(t, calls, mod.TotalCalls(), "no module interaction after Destroy")
}

func TestDestroyBeforeInit(t *testing.T) {
	mod := bridgetest.New()
	p := New(fakeLoader(mod))

	require.NoError(t, p.Destroy(context.Background()))
	assert.Zero(t, mod.TotalCalls())
	assert.ErrorIs(t, p.Init(context.Background()), ErrDestroyed)
}

func TestDestroyCombinesErrors(t *testing.T) {
	p, mod := newParser(t)
	trap := errors.New("destroy trapped")
	mod.Trap(bridge.ExportDestroy, trap)

	err := p.Destroy(context.Background())
	require.ErrorIs(t, err, trap)
	assert.True(t, mod.Closed(), "module is closed even when destroy fails")

	_, err = p.GetVersion(context.Background())
	assert.ErrorIs(t, err, ErrDestroyed)
}
