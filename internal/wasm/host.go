package wasm

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/debuglog"
)

// HostModuleName is the import module the layout module links against.
const HostModuleName = "env"

// HostFunctionsImpl implements the env imports of the layout module.
type HostFunctionsImpl struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(runtime *Runtime, logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-host")),
	}
}

// Instantiate registers the env module in r.
func (h *HostFunctionsImpl) Instantiate(ctx context.Context, r wazero.Runtime) error {
	builder := r.NewHostModuleBuilder(HostModuleName)

	// Called by the module's allocator after memory.grow.
	builder.NewFunctionBuilder().
		WithFunc(h.notifyMemoryGrowth).
		WithParameterNames("memory_index").
		Export("emscripten_notify_memory_growth")

	// EM_ASM blocks; the module uses them only to print debug lines.
	builder.NewFunctionBuilder().
		WithFunc(h.asmConst).
		WithParameterNames("code", "sig", "argbuf").
		Export("emscripten_asm_const_int")

	if _, err := builder.Instantiate(ctx); err != nil {
		return &HostFunctionError{FunctionName: HostModuleName, Err: err}
	}
	return nil
}

func (h *HostFunctionsImpl) notifyMemoryGrowth(ctx context.Context, mod api.Module, index uint32) {
	if mem := exportedMemory(mod); mem != nil {
		h.logger.Debug("Module memory grew",
			zap.String("instance_id", mod.Name()),
			zap.Uint32("memory_index", index),
			zap.Uint32("size_bytes", mem.Size()),
		)
	}
}

// asmConst forwards the string argument of an EM_ASM console.log call to
// the calling instance's debug output.
func (h *HostFunctionsImpl) asmConst(ctx context.Context, mod api.Module, code, sig, argbuf uint32) int32 {
	mem := exportedMemory(mod)
	if mem == nil {
		return 0
	}

	kinds, ok := readCString(mem, sig, 16)
	if !ok || kinds == "" || (kinds[0] != 'p' && kinds[0] != 'i') {
		return 0
	}
	ptr, ok := mem.ReadUint32Le(argbuf)
	if !ok {
		return 0
	}
	msg, ok := readCString(mem, ptr, 64*1024)
	if !ok {
		h.logger.Warn("Failed to read debug message from module memory",
			zap.String("instance_id", mod.Name()),
			zap.Uint32("ptr", ptr),
		)
		return 0
	}

	if inst, ok := h.runtime.GetInstance(mod.Name()); ok {
		fmt.Fprintln(inst.stdout, msg)
	}
	return 0
}

// lineWriter turns module stdout/stderr into debug log entries, one per line.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	logger *zap.Logger
}

func newLineWriter(logger *zap.Logger) *lineWriter {
	return &lineWriter{logger: logger}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = stripModulePrefix(strings.TrimRight(line, "\r\n"))
	if line == "" {
		return
	}
	w.logger.Debug(line, zap.String("source", "module"))
}

// moduleTag follows the timestamp the module puts on its own debug lines.
const moduleTag = "] [" + debuglog.Name + "] "

// stripModulePrefix removes the module's "[timestamp] [HtmlLayoutParser] "
// prefix; the debug channel adds its own.
func stripModulePrefix(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	if i := strings.Index(line, moduleTag); i > 0 {
		return line[i+len(moduleTag):]
	}
	return line
}
