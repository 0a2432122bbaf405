package bridgetest

import (
	"encoding/json"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

const maxHTMLSize = 10 * 1024 * 1024

// parse runs the fake layout for parseHTML(html, css, width, mode, options),
// records the diagnostics envelope and returns the data string. Failures
// return "[]" whatever the mode, like the real module.
func (m *Module) parse(params []uint64) string {
	html, htmlOK := m.readCString(u32(params, 0))
	css, cssOK := m.readCString(u32(params, 1))
	width := api.DecodeI32(param(params, 2))
	mode, _ := m.readCString(u32(params, 3))

	m.lastMode = mode
	m.lastCSS = nil
	if cssOK {
		m.lastCSS = &css
	}

	fail := func(code protocol.ErrorCode, msg string) string {
		m.lastEnvelope = mustJSON(protocol.FailureEnvelope(code, msg))
		m.lastMetrics = protocol.PerformanceMetrics{}
		return "[]"
	}

	switch {
	case !htmlOK && u32(params, 0) == 0:
		return fail(protocol.CodeInvalidInput, "HTML string is null")
	case html == "":
		return fail(protocol.CodeEmptyHTML, "HTML input is empty")
	case len(html) > maxHTMLSize:
		return fail(protocol.CodeHTMLTooLarge, "HTML input exceeds maximum size")
	case width <= 0:
		return fail(protocol.CodeInvalidViewportWidth, "Viewport width must be positive")
	}

	chars := m.layout(html, css, cssOK, int(width))

	var data string
	switch mode {
	case "byRow", "byrow":
		data = mustJSON(rows(chars))
	case "simple":
		data = mustJSON(simpleDoc(chars, int(width)))
	case "full":
		data = mustJSON(fullDoc(chars, int(width)))
	default:
		data = mustJSON(chars)
	}

	m.lastMetrics = protocol.PerformanceMetrics{
		ParseTime:      0.1,
		LayoutTime:     0.2,
		SerializeTime:  0.1,
		TotalTime:      0.4,
		CharacterCount: len(chars),
		InputSize:      uint64(len(html) + len(css)),
	}

	var warnings []protocol.Diagnostic
	if len(m.fonts) == 0 {
		warnings = append(warnings, protocol.Diagnostic{
			Code:     protocol.CodeNoDefaultFont.String(),
			CodeNum:  protocol.CodeNoDefaultFont,
			Message:  "No font loaded, using fallback metrics",
			Severity: protocol.SeverityWarning,
		})
	}

	metrics := m.lastMetrics
	m.lastEnvelope = mustJSON(struct {
		Success  bool                         `json:"success"`
		Data     json.RawMessage              `json:"data"`
		Warnings []protocol.Diagnostic        `json:"warnings,omitempty"`
		Metrics  *protocol.PerformanceMetrics `json:"metrics"`
	}{true, json.RawMessage(data), warnings, &metrics})

	return data
}

// layout places one fixed-width cell per character of the text content,
// wrapping at the viewport width.
func (m *Module) layout(html, css string, hasCSS bool, width int) []protocol.CharLayout {
	family := "sans-serif"
	if f, ok := m.fonts[m.defaultFont]; ok {
		family = f.name
	}
	color := "#000000FF"
	if hasCSS && strings.Contains(css, "red") {
		color = "#FF0000FF"
	}

	chars := []protocol.CharLayout{}
	x, y := 0, 0
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			continue
		case r == '>':
			inTag = false
			continue
		case inTag || r == '\n' || r == '\r':
			continue
		}

		if x > 0 && x+CharWidth > width {
			x = 0
			y += LineHeight
		}

		ch := string(r)
		key := family + "/" + ch
		if _, ok := m.cacheEntries[key]; ok {
			m.cacheHits++
		} else {
			m.cacheMisses++
			m.cacheEntries[key] = struct{}{}
		}

		chars = append(chars, protocol.CharLayout{
			Character:       ch,
			X:               x,
			Y:               y,
			Width:           CharWidth,
			Height:          LineHeight,
			FontFamily:      family,
			FontSize:        16,
			FontWeight:      400,
			FontStyle:       "normal",
			Color:           color,
			BackgroundColor: "#00000000",
			Opacity:         1,
			TextDecoration:  protocol.TextDecoration{Color: color, Style: "solid", Thickness: 1},
			Transform:       protocol.Transform{ScaleX: 1, ScaleY: 1},
			Baseline:        y + 12,
			Direction:       "ltr",
			FontID:          m.defaultFont,
		})
		x += CharWidth
	}
	return chars
}

func rows(chars []protocol.CharLayout) protocol.RowsResult {
	out := protocol.RowsResult{}
	for _, c := range chars {
		if n := len(out); n == 0 || out[n-1].Y != c.Y {
			out = append(out, protocol.Row{RowIndex: n, Y: c.Y, Children: []protocol.CharLayout{}})
		}
		last := &out[len(out)-1]
		last.Children = append(last.Children, c)
	}
	return out
}

func lineWidth(chars []protocol.CharLayout) int {
	if len(chars) == 0 {
		return 0
	}
	last := chars[len(chars)-1]
	return last.X + last.Width
}

func simpleDoc(chars []protocol.CharLayout, width int) *protocol.SimpleDocument {
	doc := &protocol.SimpleDocument{
		Version:  "2.0",
		Viewport: protocol.Viewport{Width: width},
		Lines:    []protocol.SimpleLine{},
	}
	for i, row := range rows(chars) {
		doc.Lines = append(doc.Lines, protocol.SimpleLine{
			LineIndex:  i,
			Y:          row.Y,
			Baseline:   row.Y + 12,
			Height:     LineHeight,
			Width:      lineWidth(row.Children),
			TextAlign:  "left",
			Characters: row.Children,
		})
	}
	doc.Viewport.Height = len(doc.Lines) * LineHeight
	return doc
}

func fullDoc(chars []protocol.CharLayout, width int) *protocol.FullDocument {
	block := protocol.Block{Type: "block", Width: width, Lines: []protocol.Line{}}
	for i, row := range rows(chars) {
		first := row.Children[0]
		block.Lines = append(block.Lines, protocol.Line{
			LineIndex: i,
			Y:         row.Y,
			Baseline:  row.Y + 12,
			Height:    LineHeight,
			Width:     lineWidth(row.Children),
			TextAlign: "left",
			Runs: []protocol.Run{{
				X:               first.X,
				FontFamily:      first.FontFamily,
				FontSize:        first.FontSize,
				FontWeight:      first.FontWeight,
				FontStyle:       first.FontStyle,
				Color:           first.Color,
				BackgroundColor: first.BackgroundColor,
				TextDecoration:  first.TextDecoration,
				Characters:      row.Children,
			}},
		})
	}
	block.Height = len(block.Lines) * LineHeight

	return &protocol.FullDocument{
		Version:       "2.0",
		ParserVersion: Version,
		Viewport:      protocol.Viewport{Width: width, Height: block.Height},
		Pages: []protocol.Page{{
			Width:  width,
			Height: block.Height,
			Blocks: []protocol.Block{block},
		}},
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
