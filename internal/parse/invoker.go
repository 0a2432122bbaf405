// Package parse drives parse calls into the layout module and decodes their
// results.
package parse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/internal/fonts"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

// Invoker runs parse requests against a module.
type Invoker struct {
	bridge *bridge.Bridge
	fonts  *fonts.Table
	logger *zap.Logger
	debug  *zap.Logger

	state atomic.Int32

	mu        sync.Mutex
	lastShape protocol.OutputShape
}

// NewInvoker creates an invoker. table may be nil, in which case per-request
// default fonts are ignored. debug receives state transitions and may be nil.
func NewInvoker(b *bridge.Bridge, table *fonts.Table, logger, debug *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debug == nil {
		debug = zap.NewNop()
	}
	return &Invoker{
		bridge:    b,
		fonts:     table,
		logger:    logger.With(zap.String("component", "parse")),
		debug:     debug.With(zap.String("component", "parse")),
		lastShape: protocol.ShapeFlat,
	}
}

// State returns the state of the most recent invocation.
func (inv *Invoker) State() State {
	return State(inv.state.Load())
}

// Parse lays out req.HTML and returns a result of the requested shape.
//
// A module that returns no result, or a result that does not decode as the
// requested shape, yields the empty result of that shape. Errors are
// returned only for an invalid shape, allocation failures and traps.
func (inv *Invoker) Parse(ctx context.Context, req Request) (protocol.Result, error) {
	shape, err := req.shape()
	if err != nil {
		inv.transition(StateFailed)
		return nil, err
	}
	inv.setLastShape(shape)

	raw, err := inv.call(ctx, req, shape, bridge.ExportParseHTML)
	if err != nil {
		var decodeErr *bridge.DecodeError
		if errors.Is(err, bridge.ErrNullPointer) || errors.As(err, &decodeErr) {
			inv.logger.Debug("Module returned no usable result", zap.Error(err))
			inv.transition(StateDone)
			return protocol.EmptyResult(shape), nil
		}
		inv.transition(StateFailed)
		return nil, err
	}

	res, err := protocol.DecodeResult(shape, []byte(raw))
	if err != nil {
		inv.logger.Debug("Result does not decode as requested shape",
			zap.Stringer("shape", shape),
			zap.Int("bytes", len(raw)),
			zap.Error(err),
		)
		inv.transition(StateDone)
		return protocol.EmptyResult(shape), nil
	}

	inv.transition(StateDone)
	return res, nil
}

// ParseWithCSS is Parse with an external stylesheet.
func (inv *Invoker) ParseWithCSS(ctx context.Context, req Request, css string) (protocol.Result, error) {
	req.CSS = &css
	return inv.Parse(ctx, req)
}

// call places the request in module memory, invokes export and reads back
// its string result. All regions and the result string are released before
// call returns.
func (inv *Invoker) call(ctx context.Context, req Request, shape protocol.OutputShape, export string) (raw string, err error) {
	start := time.Now()
	inv.transition(StateMarshaling)

	restore, err := inv.enableDebug(ctx, req.Debug)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Append(err, restore())
	}()

	run := func() error {
		return inv.bridge.WithRegions(ctx,
			[]bridge.Source{
				bridge.String(req.HTML),
				bridge.OptionalString(req.CSS),
				bridge.String(shape.String()),
			},
			func(ptrs []uint32) error {
				inv.transition(StateInvoked)
				var err error
				raw, err = inv.bridge.CallString(ctx, export,
					api.EncodeU32(ptrs[0]),
					api.EncodeU32(ptrs[1]),
					api.EncodeI32(int32(req.ViewportWidth)),
					api.EncodeU32(ptrs[2]),
					0,
				)
				if err == nil {
					inv.transition(StateDecoding)
				}
				return err
			})
	}

	if inv.fonts != nil {
		err = inv.fonts.WithDefault(ctx, req.DefaultFontID, run)
	} else {
		err = run()
	}

	elapsed := time.Since(start)
	if req.Timeout > 0 && elapsed > req.Timeout {
		inv.logger.Warn("Parse exceeded timeout",
			zap.Duration("timeout", req.Timeout),
			zap.Duration("elapsed", elapsed),
		)
	}
	inv.debug.Debug("Module call finished",
		zap.String("export", export),
		zap.Int("html_bytes", len(req.HTML)),
		zap.Bool("css", req.CSS != nil),
		zap.Duration("elapsed", elapsed),
	)

	return raw, err
}

// enableDebug turns module debug output on for one request if it is off.
func (inv *Invoker) enableDebug(ctx context.Context, want bool) (func() error, error) {
	noop := func() error { return nil }
	if !want {
		return noop, nil
	}

	on, err := inv.bridge.CallI32(ctx, bridge.ExportGetDebugMode)
	if err != nil {
		return nil, err
	}
	if on != 0 {
		return noop, nil
	}
	if _, err := inv.bridge.CallI32(ctx, bridge.ExportSetDebugMode, api.EncodeI32(1)); err != nil {
		return nil, err
	}
	return func() error {
		_, err := inv.bridge.CallI32(ctx, bridge.ExportSetDebugMode, api.EncodeI32(0))
		return err
	}, nil
}

func (inv *Invoker) transition(s State) {
	inv.state.Store(int32(s))
	inv.debug.Debug("Parse state", zap.Stringer("state", s))
}

func (inv *Invoker) setLastShape(shape protocol.OutputShape) {
	inv.mu.Lock()
	inv.lastShape = shape
	inv.mu.Unlock()
}

// LastShape returns the shape of the most recent request.
func (inv *Invoker) LastShape() protocol.OutputShape {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.lastShape
}
