package wasm

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
)

// memoryExport is the name emscripten gives the module's linear memory.
const memoryExport = "memory"

// exportedMemory returns the module's exported linear memory, or nil.
// api.Module.Memory wraps a nil instance for memory-less modules, so the
// exports are consulted instead.
func exportedMemory(module api.Module) api.Memory {
	if mem := module.ExportedMemory(memoryExport); mem != nil {
		return mem
	}
	for name := range module.ExportedMemoryDefinitions() {
		return module.ExportedMemory(name)
	}
	return nil
}

// memoryOf returns the linear memory of module, or an empty view when the
// module exports none. Every access to the empty view fails bounds checks.
func memoryOf(module api.Module) bridge.Memory {
	if mem := exportedMemory(module); mem != nil {
		return mem
	}
	return noMemory{}
}

type noMemory struct{}

func (noMemory) Read(uint32, uint32) ([]byte, bool) { return nil, false }
func (noMemory) Write(uint32, []byte) bool          { return false }
func (noMemory) Size() uint32                       { return 0 }

// readCString reads a NUL-terminated string of at most maxLen bytes.
// The read is clamped to the end of memory.
func readCString(mem api.Memory, ptr uint32, maxLen uint32) (string, bool) {
	if ptr == 0 || ptr >= mem.Size() {
		return "", false
	}
	if avail := mem.Size() - ptr; maxLen > avail {
		maxLen = avail
	}

	buf, ok := mem.Read(ptr, maxLen)
	if !ok {
		return "", false
	}
	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		return "", false
	}
	return string(buf[:end]), true
}
