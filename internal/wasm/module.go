package wasm

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ModuleLoader handles loading and compiling Wasm modules.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger

	// Exports a compiled module must provide. Empty skips the check.
	required []string
}

// NewModuleLoader creates a new module loader that rejects modules missing
// any of the required exports.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger, required ...string) *ModuleLoader {
	return &ModuleLoader{
		runtime:  runtime,
		logger:   logger.With(zap.String("component", "wasm-loader")),
		required: required,
	}
}

// ModuleSource represents a source for Wasm bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes() ([]byte, error)

	// Name returns a name/identifier for this module.
	Name() string

	// Size returns the size in bytes.
	Size() int64
}

// FileModuleSource loads Wasm from a file.
type FileModuleSource struct {
	Path string
}

// Bytes reads the Wasm file.
func (f *FileModuleSource) Bytes() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Name returns the file path as the module name.
func (f *FileModuleSource) Name() string {
	return f.Path
}

// Size returns the file size.
func (f *FileModuleSource) Size() int64 {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// MemoryModuleSource loads Wasm from memory.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

// Bytes returns the Wasm bytecode.
func (m *MemoryModuleSource) Bytes() ([]byte, error) {
	return m.Data, nil
}

// Name returns the module name.
func (m *MemoryModuleSource) Name() string {
	return m.ModuleName
}

// Size returns the data size.
func (m *MemoryModuleSource) Size() int64 {
	return int64(len(m.Data))
}

// LoadModule compiles source, or returns the cached compilation.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	if l.runtime.IsClosed() {
		return nil, ErrRuntimeClosed
	}

	if cached, ok := l.runtime.GetCompiledModule(source.Name()); ok {
		l.logger.Debug("Module cache hit",
			zap.String("module", source.Name()),
		)
		return cached, nil
	}

	wasmBytes, err := source.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}

	l.logger.Info("Compiling Wasm module",
		zap.String("module", source.Name()),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	startTime := time.Now()

	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{
			ModuleName: source.Name(),
			Err:        err,
		}
	}

	if missing := missingExports(compiled.ExportedFunctions(), l.required); len(missing) > 0 {
		_ = compiled.Close(ctx)
		return nil, &MissingExportsError{ModuleName: source.Name(), Missing: missing}
	}

	compiledModule := &CompiledModule{
		Module:     compiled,
		Name:       source.Name(),
		Source:     source.Name(),
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}

	l.runtime.StoreCompiledModule(compiledModule)

	l.logger.Info("Module compiled successfully",
		zap.String("module", source.Name()),
		zap.Int("exported_functions", len(compiled.ExportedFunctions())),
		zap.Duration("duration", time.Since(startTime)),
	)

	return compiledModule, nil
}

// LoadModuleFromFile is a convenience function for loading from a file path.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) (*CompiledModule, error) {
	return l.LoadModule(ctx, &FileModuleSource{Path: path})
}

// LoadModuleFromMemory loads from a byte slice.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	return l.LoadModule(ctx, &MemoryModuleSource{ModuleName: name, Data: data})
}

func missingExports[V any](exported map[string]V, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := exported[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
