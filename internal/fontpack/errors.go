package fontpack

import (
	"errors"
	"fmt"
)

// ErrFontRejected is returned when the layout module refuses font data.
var ErrFontRejected = errors.New("font rejected by layout module")

// ManifestNotFoundError occurs when the manifest file cannot be read.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when the manifest is not valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when the manifest fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// FontFileNotFoundError occurs when a font file referenced in the manifest
// doesn't exist.
type FontFileNotFoundError struct {
	ManifestPath string
	FontFile     string
}

func (e *FontFileNotFoundError) Error() string {
	return fmt.Sprintf("font file '%s' not found (referenced in manifest '%s')",
		e.FontFile, e.ManifestPath)
}

// FontLoadError occurs when a single font fails to load.
type FontLoadError struct {
	FontName string
	Err      error
}

func (e *FontLoadError) Error() string {
	return fmt.Sprintf("failed to load font '%s': %v", e.FontName, e.Err)
}

func (e *FontLoadError) Unwrap() error {
	return e.Err
}

// FontAlreadyRegisteredError occurs when two loaded fonts share a name.
type FontAlreadyRegisteredError struct {
	FontName string
}

func (e *FontAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("font '%s' is already registered", e.FontName)
}

// NoFontsLoadedError occurs when every font in a manifest failed to load.
type NoFontsLoadedError struct {
	ManifestPath string
}

func (e *NoFontsLoadedError) Error() string {
	return fmt.Sprintf("no fonts loaded from manifest '%s'", e.ManifestPath)
}
