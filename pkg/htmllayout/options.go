package htmllayout

import (
	"time"

	"github.com/woxQAQ/html-layout-parser/internal/parse"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

// Options control a single parse.
type Options struct {
	ViewportWidth  int
	ViewportHeight int

	// Mode is one of "flat", "byRow", "simple" or "full". Empty selects flat.
	Mode string

	// CSS is an optional external stylesheet.
	CSS *string

	// DefaultFontID overrides the fallback font for this parse only.
	DefaultFontID int32

	Debug   bool
	Timeout time.Duration
}

// DefaultOptions returns an 800px wide flat layout.
func DefaultOptions() Options {
	return Options{
		ViewportWidth: 800,
		Mode:          string(protocol.ShapeFlat),
	}
}

func (o Options) request(html string) parse.Request {
	return parse.Request{
		HTML:           html,
		CSS:            o.CSS,
		ViewportWidth:  o.ViewportWidth,
		ViewportHeight: o.ViewportHeight,
		Shape:          protocol.OutputShape(o.Mode),
		DefaultFontID:  o.DefaultFontID,
		Debug:          o.Debug,
		Timeout:        o.Timeout,
	}
}
