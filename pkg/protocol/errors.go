package protocol

import (
	"fmt"
)

// ErrorCode is the module's numeric error code.
// Codes are grouped by category: 1xxx input, 2xxx font, 3xxx parse,
// 4xxx memory, 5xxx internal.
type ErrorCode int

const (
	CodeSuccess ErrorCode = 0

	CodeInvalidInput         ErrorCode = 1001
	CodeEmptyHTML            ErrorCode = 1002
	CodeInvalidViewportWidth ErrorCode = 1003
	CodeInvalidMode          ErrorCode = 1004
	CodeInvalidOptions       ErrorCode = 1005
	CodeHTMLTooLarge         ErrorCode = 1006

	CodeFontNotLoaded      ErrorCode = 2001
	CodeFontLoadFailed     ErrorCode = 2002
	CodeFontDataInvalid    ErrorCode = 2003
	CodeFontNameEmpty      ErrorCode = 2004
	CodeFontIDNotFound     ErrorCode = 2005
	CodeNoDefaultFont      ErrorCode = 2006
	CodeFontMemoryExceeded ErrorCode = 2007

	CodeParseFailed            ErrorCode = 3001
	CodeDocumentCreationFailed ErrorCode = 3002
	CodeRenderFailed           ErrorCode = 3003
	CodeLayoutFailed           ErrorCode = 3004
	CodeCSSParseError          ErrorCode = 3005

	CodeMemoryAllocationFailed ErrorCode = 4001
	CodeMemoryLimitExceeded    ErrorCode = 4002

	CodeInternalError       ErrorCode = 5001
	CodeSerializationFailed ErrorCode = 5002
	CodeUnknownError        ErrorCode = 5999
)

var codeNames = map[ErrorCode]string{
	CodeSuccess:                "SUCCESS",
	CodeInvalidInput:           "INVALID_INPUT",
	CodeEmptyHTML:              "EMPTY_HTML",
	CodeInvalidViewportWidth:   "INVALID_VIEWPORT_WIDTH",
	CodeInvalidMode:            "INVALID_MODE",
	CodeInvalidOptions:         "INVALID_OPTIONS",
	CodeHTMLTooLarge:           "HTML_TOO_LARGE",
	CodeFontNotLoaded:          "FONT_NOT_LOADED",
	CodeFontLoadFailed:         "FONT_LOAD_FAILED",
	CodeFontDataInvalid:        "FONT_DATA_INVALID",
	CodeFontNameEmpty:          "FONT_NAME_EMPTY",
	CodeFontIDNotFound:         "FONT_ID_NOT_FOUND",
	CodeNoDefaultFont:          "NO_DEFAULT_FONT",
	CodeFontMemoryExceeded:     "FONT_MEMORY_EXCEEDED",
	CodeParseFailed:            "PARSE_FAILED",
	CodeDocumentCreationFailed: "DOCUMENT_CREATION_FAILED",
	CodeRenderFailed:           "RENDER_FAILED",
	CodeLayoutFailed:           "LAYOUT_FAILED",
	CodeCSSParseError:          "CSS_PARSE_ERROR",
	CodeMemoryAllocationFailed: "MEMORY_ALLOCATION_FAILED",
	CodeMemoryLimitExceeded:    "MEMORY_LIMIT_EXCEEDED",
	CodeInternalError:          "INTERNAL_ERROR",
	CodeSerializationFailed:    "SERIALIZATION_FAILED",
	CodeUnknownError:           "UNKNOWN_ERROR",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[CodeUnknownError]
}

// Category returns the category name of the code.
func (c ErrorCode) Category() string {
	switch c / 1000 {
	case 0:
		return "success"
	case 1:
		return "input"
	case 2:
		return "font"
	case 3:
		return "parse"
	case 4:
		return "memory"
	default:
		return "internal"
	}
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a single error or warning entry of an Envelope.
// Line and Column are nil when the module did not report a location.
type Diagnostic struct {
	Code     string    `json:"code"`
	CodeNum  ErrorCode `json:"codeNum"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Line     *int      `json:"line,omitempty"`
	Column   *int      `json:"column,omitempty"`
	Context  string    `json:"context,omitempty"`
}

// NewDiagnostic creates an error-severity diagnostic for code.
func NewDiagnostic(code ErrorCode, message string) Diagnostic {
	return Diagnostic{
		Code:     code.String(),
		CodeNum:  code,
		Message:  message,
		Severity: SeverityError,
	}
}

// IsError reports whether the diagnostic has error severity.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

func (d Diagnostic) String() string {
	loc := ""
	if d.Line != nil {
		loc = fmt.Sprintf(" at %d", *d.Line)
		if d.Column != nil {
			loc += fmt.Sprintf(":%d", *d.Column)
		}
	}
	return fmt.Sprintf("[%s] %s (%d)%s: %s", d.Severity, d.Code, d.CodeNum, loc, d.Message)
}

// InvalidShapeError occurs when an output shape is not one of the known shapes.
type InvalidShapeError struct {
	Shape string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid output shape '%s' (must be one of: flat, byRow, simple, full)", e.Shape)
}

// ShapeMismatchError occurs when module output does not decode as the requested shape.
type ShapeMismatchError struct {
	Shape OutputShape
	Err   error
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("module output is not a valid '%s' result: %v", e.Shape, e.Err)
}

func (e *ShapeMismatchError) Unwrap() error {
	return e.Err
}
