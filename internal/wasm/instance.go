package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/html-layout-parser/internal/bridge"
)

// initializeExport is the reactor entry point emitted by emscripten for
// modules built without a main.
const initializeExport = "_initialize"

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger

	// Receives module stdout/stderr lines. Nop when unset.
	output *zap.Logger
}

// NewInstanceManager creates a new instance manager. Module output is
// written to output, one log entry per line.
func NewInstanceManager(runtime *Runtime, logger, output *zap.Logger) *InstanceManager {
	if output == nil {
		output = zap.NewNop()
	}
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
		output:  output,
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	// wazero module instance.
	module api.Module

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	runtime *Runtime
	stdout  *lineWriter

	mu sync.Mutex
	// Exported functions, resolved on first call.
	exports map[string]api.Function

	closeOnce sync.Once
	closeErr  error
}

// Instantiate creates a new instance from a compiled module and runs its
// reactor initializer.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, ErrRuntimeClosed
	}

	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &InstanceLimitError{Limit: limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	stdout := newLineWriter(m.output.With(zap.String("instance_id", instanceID)))

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStdout(stdout).
		WithStderr(stdout).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions() // _initialize is called explicitly below

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		runtime:   m.runtime,
		stdout:    stdout,
		exports:   make(map[string]api.Function),
	}

	// Track before initializing so host calls made during _initialize can
	// find the instance.
	m.runtime.StoreInstance(instance)

	if init := module.ExportedFunction(initializeExport); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = instance.Close(ctx)
			return nil, &InstantiationError{
				ModuleName: config.ModuleName,
				InstanceID: instanceID,
				Err:        fmt.Errorf("%s: %w", initializeExport, err),
			}
		}
	}

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(compiled.Module.ExportedFunctions())),
	)

	return instance, nil
}

// Call invokes an exported function.
func (i *Instance) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	fn, err := i.function(export)
	if err != nil {
		return nil, err
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, &CallError{InstanceID: i.ID, FunctionName: export, Err: err}
	}
	return results, nil
}

func (i *Instance) function(name string) (api.Function, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if fn, ok := i.exports[name]; ok {
		return fn, nil
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}
	i.exports[name] = fn
	return fn, nil
}

// Memory returns the instance's linear memory.
func (i *Instance) Memory() bridge.Memory {
	return memoryOf(i.module)
}

// Close closes the instance and releases resources.
// Safe to call multiple times.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.stdout.Flush()
		i.runtime.DeleteInstance(i.ID)
		i.closeErr = i.module.Close(ctx)
	})
	return i.closeErr
}

var instanceSeq atomic.Uint64

// generateInstanceID generates a process-unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}
