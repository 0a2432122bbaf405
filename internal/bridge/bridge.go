// Package bridge moves strings and byte buffers across the boundary between
// the host and the layout module.
//
// Host-written data lives in regions obtained from the module's malloc and
// is returned with free. Strings produced by the module are owned by the
// module until they are handed back through freeString; ReadString copies
// them out and always hands them back.
package bridge

import (
	"bytes"
	"context"
	"sync/atomic"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Memory is a byte-addressable view of module memory.
// wazero's api.Memory satisfies it.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	Size() uint32
}

// Handle is an initialized module.
type Handle interface {
	// Call invokes an exported function. A trap is returned as an error.
	Call(ctx context.Context, export string, params ...uint64) ([]uint64, error)

	// Memory returns the module's linear memory.
	Memory() Memory
}

// Region is a block of module memory allocated by the host.
// Len is the payload length; string regions carry one extra NUL byte.
type Region struct {
	Ptr uint32
	Len uint32
}

// IsZero reports whether r refers to no allocation.
func (r Region) IsZero() bool {
	return r.Ptr == 0
}

// Stats are host-side allocation counters.
type Stats struct {
	Allocations  uint64
	Releases     uint64
	StringsFreed uint64
}

// Outstanding returns the number of host allocations not yet released.
func (s Stats) Outstanding() int64 {
	return int64(s.Allocations) - int64(s.Releases)
}

// Bridge marshals data into and out of a module.
type Bridge struct {
	handle Handle
	logger *zap.Logger

	allocations  atomic.Uint64
	releases     atomic.Uint64
	stringsFreed atomic.Uint64
}

// New creates a bridge over handle.
func New(handle Handle, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		handle: handle,
		logger: logger.With(zap.String("component", "bridge")),
	}
}

// Handle returns the underlying module handle.
func (b *Bridge) Handle() Handle {
	return b.handle
}

// Stats returns a snapshot of the allocation counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Allocations:  b.allocations.Load(),
		Releases:     b.releases.Load(),
		StringsFreed: b.stringsFreed.Load(),
	}
}

// WriteString copies s into module memory as a NUL-terminated string.
func (b *Bridge) WriteString(ctx context.Context, s string) (Region, error) {
	size := uint32(len(s)) + 1
	ptr, err := b.alloc(ctx, size)
	if err != nil {
		return Region{}, err
	}

	buf := make([]byte, size)
	copy(buf, s)
	if !b.handle.Memory().Write(ptr, buf) {
		werr := &MemoryAccessError{Operation: "write", Address: ptr, Length: size}
		return Region{}, multierr.Append(werr, b.Release(ctx, Region{Ptr: ptr, Len: size - 1}))
	}

	return Region{Ptr: ptr, Len: size - 1}, nil
}

// WriteBytes copies data into module memory. An empty buffer still gets a
// one-byte allocation so the region has a valid pointer.
func (b *Bridge) WriteBytes(ctx context.Context, data []byte) (Region, error) {
	size := uint32(len(data))
	if size == 0 {
		size = 1
	}
	ptr, err := b.alloc(ctx, size)
	if err != nil {
		return Region{}, err
	}

	if len(data) > 0 && !b.handle.Memory().Write(ptr, data) {
		werr := &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(data))}
		return Region{}, multierr.Append(werr, b.Release(ctx, Region{Ptr: ptr, Len: uint32(len(data))}))
	}

	return Region{Ptr: ptr, Len: uint32(len(data))}, nil
}

// Release returns r to the module. Releasing a zero region is a no-op.
func (b *Bridge) Release(ctx context.Context, r Region) error {
	if r.IsZero() {
		return nil
	}
	if _, err := b.handle.Call(ctx, ExportFree, api.EncodeU32(r.Ptr)); err != nil {
		b.logger.Warn("Failed to release module memory",
			zap.Uint32("ptr", r.Ptr),
			zap.Uint32("len", r.Len),
			zap.Error(err),
		)
		return err
	}
	b.releases.Add(1)
	return nil
}

// ReadString copies the module-owned string at ptr and hands it back to the
// module with freeString. The string is freed even if reading it fails.
func (b *Bridge) ReadString(ctx context.Context, ptr uint32) (s string, err error) {
	if ptr == 0 {
		return "", ErrNullPointer
	}

	defer func() {
		if _, ferr := b.handle.Call(ctx, ExportFreeString, api.EncodeU32(ptr)); ferr != nil {
			b.logger.Warn("Failed to free module string", zap.Uint32("ptr", ptr), zap.Error(ferr))
			err = multierr.Append(err, ferr)
			return
		}
		b.stringsFreed.Add(1)
	}()

	mem := b.handle.Memory()
	size := mem.Size()
	if ptr >= size {
		return "", &MemoryAccessError{Operation: "read", Address: ptr, Length: 1}
	}

	view, ok := mem.Read(ptr, size-ptr)
	if !ok {
		return "", &MemoryAccessError{Operation: "read", Address: ptr, Length: size - ptr}
	}
	end := bytes.IndexByte(view, 0)
	if end < 0 {
		return "", &MemoryAccessError{Operation: "read", Address: ptr, Length: size - ptr}
	}

	raw := view[:end]
	if !utf8.Valid(raw) {
		return "", &DecodeError{Ptr: ptr, Offset: invalidOffset(raw)}
	}

	return string(raw), nil
}

// CallString calls an export that returns a module-owned string and reads it.
func (b *Bridge) CallString(ctx context.Context, export string, params ...uint64) (string, error) {
	results, err := b.handle.Call(ctx, export, params...)
	if err != nil {
		return "", err
	}
	return b.ReadString(ctx, resultU32(results))
}

// CallI32 calls an export returning a single i32. Exports without results
// yield 0.
func (b *Bridge) CallI32(ctx context.Context, export string, params ...uint64) (int32, error) {
	results, err := b.handle.Call(ctx, export, params...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return api.DecodeI32(results[0]), nil
}

// CallU32 calls an export returning a single unsigned i32 (size_t).
func (b *Bridge) CallU32(ctx context.Context, export string, params ...uint64) (uint32, error) {
	results, err := b.handle.Call(ctx, export, params...)
	if err != nil {
		return 0, err
	}
	return resultU32(results), nil
}

func (b *Bridge) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.handle.Call(ctx, ExportMalloc, api.EncodeU32(size))
	if err != nil {
		return 0, &AllocationError{Size: size, Err: err}
	}
	ptr := resultU32(results)
	if ptr == 0 {
		return 0, &AllocationError{Size: size}
	}
	b.allocations.Add(1)
	return ptr, nil
}

func resultU32(results []uint64) uint32 {
	if len(results) == 0 {
		return 0
	}
	return api.DecodeU32(results[0])
}

func invalidOffset(raw []byte) int {
	for i := 0; i < len(raw); {
		r, n := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && n <= 1 {
			return i
		}
		i += n
	}
	return len(raw)
}
