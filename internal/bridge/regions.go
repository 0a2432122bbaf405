package bridge

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type sourceKind int

const (
	sourceNull sourceKind = iota
	sourceString
	sourceBytes
)

// Source describes one argument to place in module memory.
type Source struct {
	kind sourceKind
	str  string
	data []byte
}

// String places s as a NUL-terminated string.
func String(s string) Source {
	return Source{kind: sourceString, str: s}
}

// Bytes places a raw buffer.
func Bytes(data []byte) Source {
	return Source{kind: sourceBytes, data: data}
}

// OptionalString places *s, or passes pointer 0 without allocating when s is nil.
func OptionalString(s *string) Source {
	if s == nil {
		return Null()
	}
	return String(*s)
}

// Null passes pointer 0.
func Null() Source {
	return Source{kind: sourceNull}
}

// WithRegions places every source in module memory, calls fn with their
// pointers in order, and releases the regions in reverse order afterwards.
//
// If any placement fails the regions placed so far are released and fn is
// not called. Regions are released on every exit path, including a panic in
// fn. Release failures are logged and combined with the returned error.
func (b *Bridge) WithRegions(ctx context.Context, sources []Source, fn func(ptrs []uint32) error) (err error) {
	regions := make([]Region, 0, len(sources))

	defer func() {
		for i := len(regions) - 1; i >= 0; i-- {
			if rerr := b.Release(ctx, regions[i]); rerr != nil {
				err = multierr.Append(err, rerr)
			}
		}
	}()

	ptrs := make([]uint32, len(sources))
	for i, src := range sources {
		var r Region
		switch src.kind {
		case sourceString:
			r, err = b.WriteString(ctx, src.str)
		case sourceBytes:
			r, err = b.WriteBytes(ctx, src.data)
		default:
			continue
		}
		if err != nil {
			b.logger.Debug("Region placement failed",
				zap.Int("index", i),
				zap.Int("placed", len(regions)),
				zap.Error(err),
			)
			return err
		}
		regions = append(regions, r)
		ptrs[i] = r.Ptr
	}

	return fn(ptrs)
}
