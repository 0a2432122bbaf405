package parse

import (
	"time"

	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

// Request is a single parse invocation.
type Request struct {
	HTML string

	// CSS is optional. nil passes no stylesheet; a pointer to "" passes an
	// empty one.
	CSS *string

	ViewportWidth int

	// ViewportHeight is informational; the module lays out against its own
	// page height.
	ViewportHeight int

	// Shape selects the result structure. Empty selects ShapeFlat.
	Shape protocol.OutputShape

	// DefaultFontID, when non-zero, is used as the fallback font for this
	// request only.
	DefaultFontID int32

	// Debug enables module debug output for this request only.
	Debug bool

	// Timeout is advisory: module calls cannot be interrupted, so a request
	// that overruns it is logged rather than aborted.
	Timeout time.Duration
}

// Validate checks the parts of the request the host is responsible for.
// Empty HTML and the viewport width are validated by the module.
func (r Request) Validate() error {
	_, err := r.shape()
	return err
}

func (r Request) shape() (protocol.OutputShape, error) {
	return protocol.ParseShape(string(r.Shape))
}

// State is the progress of a parse invocation.
type State int32

const (
	StateIdle State = iota
	StateMarshaling
	StateInvoked
	StateDecoding
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMarshaling:
		return "marshaling"
	case StateInvoked:
		return "invoked"
	case StateDecoding:
		return "decoding"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
