package main

import (
	"strings"
	"testing"

	"github.com/woxQAQ/html-layout-parser/internal/config"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

func TestRenderEnvelopeSuccess(t *testing.T) {
	env := &protocol.Envelope{
		Success: true,
		Data:    protocol.FlatResult{{Character: "a"}, {Character: "b"}},
		Warnings: []protocol.Diagnostic{{
			Code:     protocol.CodeNoDefaultFont.String(),
			CodeNum:  protocol.CodeNoDefaultFont,
			Message:  "no fonts loaded",
			Severity: protocol.SeverityWarning,
		}},
		Metrics: &protocol.PerformanceMetrics{TotalTime: 1.5},
	}

	out := renderEnvelope(env)
	for _, want := range []string{"HtmlLayoutParser", "ok: 2 characters", "no fonts loaded", "total 1.50ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEnvelopeFailure(t *testing.T) {
	env := protocol.FailureEnvelope(protocol.CodeEmptyHTML, "HTML input is empty")

	out := renderEnvelope(env)
	if !strings.Contains(out, "failed") {
		t.Errorf("output missing failure marker:\n%s", out)
	}
	if !strings.Contains(out, "HTML input is empty") {
		t.Errorf("output missing error message:\n%s", out)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}

	applyFlags(cfg, "debug", "layout.wasm", "fonts", "simple", 320, true)

	if cfg.LogLevel != "debug" || cfg.Module.Path != "layout.wasm" || cfg.Fonts.Manifest != "fonts" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Parse.Mode != "simple" || cfg.Parse.ViewportWidth != 320 || !cfg.Debug {
		t.Errorf("parse flags not applied: %+v", cfg.Parse)
	}

	applyFlags(cfg, "", "", "", "", 0, false)
	if cfg.Parse.ViewportWidth != 320 || !cfg.Debug {
		t.Error("empty flags should keep existing values")
	}
}
