package parse

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

// ParseWithDiagnostics is Parse returning a diagnostics envelope. It never
// fails: host-side problems are reported as envelope errors.
func (inv *Invoker) ParseWithDiagnostics(ctx context.Context, req Request) *protocol.Envelope {
	shape, err := req.shape()
	if err != nil {
		inv.transition(StateFailed)
		return protocol.FailureEnvelope(protocol.CodeInvalidMode, err.Error())
	}
	inv.setLastShape(shape)

	raw, err := inv.call(ctx, req, shape, bridge.ExportParseHTMLWithDiagnostics)
	return inv.envelope(shape, raw, err)
}

// LastResult fetches the module's envelope for the most recent parse. Its
// data is decoded as the shape of the most recent request made through inv.
func (inv *Invoker) LastResult(ctx context.Context) *protocol.Envelope {
	raw, err := inv.bridge.CallString(ctx, bridge.ExportGetLastParseResult)
	return inv.envelope(inv.LastShape(), raw, err)
}

func (inv *Invoker) envelope(shape protocol.OutputShape, raw string, err error) *protocol.Envelope {
	if err != nil {
		inv.transition(StateFailed)

		var decodeErr *bridge.DecodeError
		switch {
		case errors.Is(err, bridge.ErrAllocationFailed):
			return protocol.FailureEnvelope(protocol.CodeMemoryAllocationFailed, err.Error())
		case errors.Is(err, bridge.ErrNullPointer):
			return protocol.FailureEnvelope(protocol.CodeInternalError, "module returned no result")
		case errors.As(err, &decodeErr):
			return protocol.FailureEnvelope(protocol.CodeSerializationFailed, err.Error())
		default:
			inv.logger.Error("Module call failed", zap.Error(err))
			return protocol.FailureEnvelope(protocol.CodeInternalError, err.Error())
		}
	}

	env, err := protocol.DecodeEnvelope(shape, []byte(raw))
	if err != nil {
		inv.logger.Debug("Undecodable diagnostics envelope",
			zap.Stringer("shape", shape),
			zap.Error(err),
		)
		inv.transition(StateFailed)
		return protocol.FailureEnvelope(protocol.CodeSerializationFailed, err.Error())
	}

	if env.Success {
		inv.transition(StateDone)
	} else {
		inv.transition(StateFailed)
	}
	return env
}
