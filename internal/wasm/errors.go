package wasm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRuntimeClosed is returned for work submitted after Runtime.Close.
var ErrRuntimeClosed = errors.New("wasm runtime is closed")

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// MissingExportsError occurs when a module lacks functions the host needs.
type MissingExportsError struct {
	ModuleName string
	Missing    []string
}

func (e *MissingExportsError) Error() string {
	return fmt.Sprintf("module '%s' is missing exports: %s",
		e.ModuleName, strings.Join(e.Missing, ", "))
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// InstanceLimitError occurs when MaxInstances instances are already live.
type InstanceLimitError struct {
	Limit int
}

func (e *InstanceLimitError) Error() string {
	return fmt.Sprintf("instance limit reached (%d)", e.Limit)
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

// FunctionNotFoundError occurs when an exported function is missing
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not found in module '%s'",
		e.FunctionName, e.ModuleName)
}

// CallError occurs when an exported function traps.
type CallError struct {
	InstanceID   string
	FunctionName string
	Err          error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to '%s' failed (instance: %s): %v",
		e.FunctionName, e.InstanceID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// HostFunctionError occurs when host function registration fails
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}
