package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the structured result of a diagnostics parse.
//
// Invariants (kept by Normalize): Success implies Data != nil and no
// error-severity entries in Errors; !Success implies Data == nil.
type Envelope struct {
	Success  bool
	Data     Result
	Errors   []Diagnostic
	Warnings []Diagnostic
	Metrics  *PerformanceMetrics
}

type wireEnvelope struct {
	Success  bool                `json:"success"`
	Data     json.RawMessage     `json:"data,omitempty"`
	Errors   []Diagnostic        `json:"errors,omitempty"`
	Warnings []Diagnostic        `json:"warnings,omitempty"`
	Metrics  *PerformanceMetrics `json:"metrics,omitempty"`
}

// FailureEnvelope builds a failed envelope carrying a single error.
func FailureEnvelope(code ErrorCode, message string) *Envelope {
	return &Envelope{
		Success: false,
		Errors:  []Diagnostic{NewDiagnostic(code, message)},
	}
}

// DecodeEnvelope decodes the module's diagnostics JSON. The data member is
// decoded against shape; any decode failure is returned as an error and the
// caller decides how to report it.
func DecodeEnvelope(shape OutputShape, raw []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	env := &Envelope{
		Success:  wire.Success,
		Errors:   wire.Errors,
		Warnings: wire.Warnings,
		Metrics:  wire.Metrics,
	}

	if wire.Success && len(wire.Data) > 0 && string(wire.Data) != "null" {
		data, err := DecodeResult(shape, wire.Data)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}

	return env.Normalize(), nil
}

// Normalize enforces the envelope invariants in place and returns e.
func (e *Envelope) Normalize() *Envelope {
	if e.Success {
		if e.Data == nil {
			e.Success = false
			e.Errors = append(e.Errors, NewDiagnostic(CodeInternalError, "module reported success without data"))
		} else if e.hasErrorSeverity() {
			e.Success = false
		}
	}
	if !e.Success {
		e.Data = nil
		if len(e.Errors) == 0 {
			e.Errors = []Diagnostic{NewDiagnostic(CodeUnknownError, "module reported failure without errors")}
		}
	}
	return e
}

func (e *Envelope) hasErrorSeverity() bool {
	for _, d := range e.Errors {
		if d.IsError() {
			return true
		}
	}
	return false
}

// FirstError returns the first error entry, or nil.
func (e *Envelope) FirstError() *Diagnostic {
	if len(e.Errors) == 0 {
		return nil
	}
	return &e.Errors[0]
}

// HasCode reports whether any error or warning carries code.
func (e *Envelope) HasCode(code ErrorCode) bool {
	for _, d := range e.Errors {
		if d.CodeNum == code {
			return true
		}
	}
	for _, d := range e.Warnings {
		if d.CodeNum == code {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the envelope in the module's wire layout.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	wire := wireEnvelope{
		Success:  e.Success,
		Errors:   e.Errors,
		Warnings: e.Warnings,
		Metrics:  e.Metrics,
	}
	if e.Data != nil {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		wire.Data = data
	}
	return json.Marshal(wire)
}
