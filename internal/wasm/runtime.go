package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runtime manages the wazero runtime lifecycle.
// One Runtime is shared by every layout module instance of the process.
type Runtime struct {
	// wazero runtime
	runtime wazero.Runtime

	// Persistent compilation cache, nil when CacheDir is empty.
	cache wazero.CompilationCache

	// Compiled module cache (key: module name/path -> value: compiled module)
	modules sync.Map // map[string]*CompiledModule

	// Active instances (for cleanup on shutdown)
	// key: instance ID -> value: *Instance
	instances sync.Map

	host *HostFunctionsImpl

	config *RuntimeConfig
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit per module instance (in pages, 64KB each).
	// Default: 256 pages = 16MB.
	MemoryPages uint32

	// Compilation cache directory. Empty keeps compiled code in memory only.
	CacheDir string

	// Maximum number of live instances.
	MaxInstances int
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name      string
	Source    string
	SizeBytes int64

	CompiledAt int64
}

// NewRuntime creates a wazero runtime with WASI and the env host module
// instantiated.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.MemoryPages == 0 || config.MemoryPages > 65536 {
		return nil, fmt.Errorf("memory pages must be between 1 and 65536, got %d", config.MemoryPages)
	}

	runtimeConfig := wazero.NewRuntimeConfig().WithMemoryLimitPages(config.MemoryPages)

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		runtimeConfig = runtimeConfig.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	runtime := &Runtime{
		runtime: r,
		cache:   cache,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		closed:  make(chan struct{}),
	}
	runtime.host = NewHostFunctions(runtime, logger)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to instantiate WASI: %w", err), runtime.closeRuntime(ctx))
	}
	if err := runtime.host.Instantiate(ctx, r); err != nil {
		return nil, multierr.Append(err, runtime.closeRuntime(ctx))
	}

	runtime.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  256, // 16MB
		CacheDir:     "",
		MaxInstances: 100,
	}
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		// Close all active instances first
		r.instances.Range(func(key, value any) bool {
			if inst, ok := value.(*Instance); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		err = r.closeRuntime(ctx)

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

func (r *Runtime) closeRuntime(ctx context.Context) error {
	err := r.runtime.Close(ctx)
	if r.cache != nil {
		err = multierr.Append(err, r.cache.Close(ctx))
	}
	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves an active instance.
func (r *Runtime) GetInstance(instanceID string) (*Instance, bool) {
	if val, ok := r.instances.Load(instanceID); ok {
		inst, ok := val.(*Instance)
		return inst, ok
	}
	return nil, false
}

// StoreInstance stores an active instance.
func (r *Runtime) StoreInstance(instance *Instance) {
	r.instances.Store(instance.ID, instance)
}

// DeleteInstance removes an instance from tracking.
func (r *Runtime) DeleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	n := 0
	r.instances.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
