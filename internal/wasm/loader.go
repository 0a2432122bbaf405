package wasm

import (
	"context"

	"go.uber.org/zap"
)

// Loader compiles a layout module once and hands out fresh instances of it.
type Loader struct {
	modules   *ModuleLoader
	instances *InstanceManager
	source    ModuleSource
	logger    *zap.Logger
}

// NewLoader creates a loader for source. Compilation rejects modules that
// lack any of the required exports; module stdout goes to output.
func NewLoader(runtime *Runtime, source ModuleSource, logger, output *zap.Logger, required ...string) *Loader {
	return &Loader{
		modules:   NewModuleLoader(runtime, logger, required...),
		instances: NewInstanceManager(runtime, logger, output),
		source:    source,
		logger:    logger,
	}
}

// Load compiles the module on first use and instantiates it.
func (l *Loader) Load(ctx context.Context) (*Instance, error) {
	compiled, err := l.modules.LoadModule(ctx, l.source)
	if err != nil {
		return nil, err
	}
	return l.instances.Instantiate(ctx, &InstanceConfig{ModuleName: compiled.Name})
}
