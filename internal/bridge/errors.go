package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailed matches every *AllocationError.
	ErrAllocationFailed = errors.New("module allocation failed")

	// ErrNullPointer is returned when the module hands back pointer 0.
	ErrNullPointer = errors.New("module returned a null pointer")
)

// AllocationError occurs when the module's malloc returns 0 or traps.
type AllocationError struct {
	Size uint32
	Err  error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to allocate %d bytes in module memory: %v", e.Size, e.Err)
	}
	return fmt.Sprintf("failed to allocate %d bytes in module memory", e.Size)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocationFailed
}

// MemoryAccessError occurs when a read or write falls outside module memory.
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access out of range (op=%s, addr=%d, len=%d)",
		e.Operation, e.Address, e.Length)
}

// DecodeError occurs when a module string is not valid UTF-8.
type DecodeError struct {
	Ptr    uint32
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("module string at %d is not valid UTF-8 (byte %d)", e.Ptr, e.Offset)
}
