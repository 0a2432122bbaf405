package parse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

func TestParseWithDiagnosticsSuccess(t *testing.T) {
	f := newFixture(t)
	f.loadFont(t, "Inter")

	env := f.inv.ParseWithDiagnostics(context.Background(), Request{HTML: "<p>ok</p>", ViewportWidth: 800, Shape: protocol.ShapeSimple})
	require.True(t, env.Success, "errors: %v", env.Errors)
	require.NotNil(t, env.Data)
	assert.Equal(t, protocol.ShapeSimple, env.Data.Shape())
	assert.Len(t, env.Data.Characters(), 2)
	require.NotNil(t, env.Metrics)
	assert.Equal(t, 2, env.Metrics.CharacterCount)
	f.mod.AssertNoLeaks(t)
}

func TestParseWithDiagnosticsWarnings(t *testing.T) {
	f := newFixture(t)

	env := f.inv.ParseWithDiagnostics(context.Background(), Request{HTML: "x", ViewportWidth: 800})
	require.True(t, env.Success)
	assert.True(t, env.HasCode(protocol.CodeNoDefaultFont))
}

func TestParseWithDiagnosticsModuleErrors(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		code protocol.ErrorCode
	}{
		{"empty html", Request{HTML: "", ViewportWidth: 800}, protocol.CodeEmptyHTML},
		{"zero width", Request{HTML: "x", ViewportWidth: 0}, protocol.CodeInvalidViewportWidth},
		{"negative width", Request{HTML: "x", ViewportWidth: -5, Shape: protocol.ShapeFull}, protocol.CodeInvalidViewportWidth},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			env := f.inv.ParseWithDiagnostics(context.Background(), tc.req)
			assert.False(t, env.Success)
			assert.Nil(t, env.Data)
			require.NotNil(t, env.FirstError())
			assert.Equal(t, tc.code, env.FirstError().CodeNum)
			f.mod.AssertNoLeaks(t)
		})
	}
}

func TestParseWithDiagnosticsHostErrors(t *testing.T) {
	cases := []struct {
		name  string
		req   Request
		setup func(f *fixture)
		code  protocol.ErrorCode
	}{
		{
			name:  "invalid shape",
			req:   Request{HTML: "x", ViewportWidth: 100, Shape: "tree"},
			setup: func(*fixture) {},
			code:  protocol.CodeInvalidMode,
		},
		{
			name:  "allocation failure",
			req:   Request{HTML: "x", ViewportWidth: 100},
			setup: func(f *fixture) { f.mod.FailAllocAt(2) },
			code:  protocol.CodeMemoryAllocationFailed,
		},
		{
			name:  "null result",
			req:   Request{HTML: "x", ViewportWidth: 100},
			setup: func(f *fixture) { f.mod.ReturnNull(bridge.ExportParseHTMLWithDiagnostics) },
			code:  protocol.CodeInternalError,
		},
		{
			name:  "trap",
			req:   Request{HTML: "x", ViewportWidth: 100},
			setup: func(f *fixture) { f.mod.Trap(bridge.ExportParseHTMLWithDiagnostics, errors.New("trap")) },
			code:  protocol.CodeInternalError,
		},
		{
			name:  "malformed envelope",
			req:   Request{HTML: "x", ViewportWidth: 100},
			setup: func(f *fixture) { f.mod.Respond(bridge.ExportParseHTMLWithDiagnostics, `{"success":tru`) },
			code:  protocol.CodeSerializationFailed,
		},
		{
			name: "data of another shape",
			req:  Request{HTML: "x", ViewportWidth: 100, Shape: protocol.ShapeFull},
			setup: func(f *fixture) {
				f.mod.Respond(bridge.ExportParseHTMLWithDiagnostics, `{"success":true,"data":{"version":"2.0","viewport":{"width":1,"height":1},"lines":[]}}`)
			},
			code: protocol.CodeSerializationFailed,
		},
		{
			name:  "invalid utf-8",
			req:   Request{HTML: "x", ViewportWidth: 100},
			setup: func(f *fixture) { f.mod.Respond(bridge.ExportParseHTMLWithDiagnostics, "\xfe") },
			code:  protocol.CodeSerializationFailed,
		},
		{
			name:  "success without data",
			req:   Request{HTML: "x", ViewportWidth: 100},
			setup: func(f *fixture) { f.mod.Respond(bridge.ExportParseHTMLWithDiagnostics, `{"success":true}`) },
			code:  protocol.CodeInternalError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)

			env := f.inv.ParseWithDiagnostics(context.Background(), tc.req)
			require.NotNil(t, env)
			assert.False(t, env.Success)
			assert.Nil(t, env.Data)
			assert.True(t, env.HasCode(tc.code), "errors: %v", env.Errors)
			f.mod.AssertNoLeaks(t)
		})
	}
}

func TestLastResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inv.Parse(ctx, Request{HTML: "<b>hey</b>", ViewportWidth: 800, Shape: protocol.ShapeByRow})
	require.NoError(t, err)

	env := f.inv.LastResult(ctx)
	require.True(t, env.Success, "errors: %v", env.Errors)
	assert.Equal(t, protocol.ShapeByRow, env.Data.Shape())
	assert.Len(t, env.Data.Characters(), 3)
	f.mod.AssertNoLeaks(t)
}

func TestLastResultBeforeParse(t *testing.T) {
	f := newFixture(t)

	env := f.inv.LastResult(context.Background())
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Errors)
	assert.Equal(t, protocol.ShapeFlat, f.inv.LastShape())
}
