// Package fontpack preloads a set of fonts described by a YAML manifest:
//
//	fonts:
//	  - name: Inter
//	    file: Inter-Regular.ttf
//	    default: true
//	  - name: JetBrains Mono
//	    file: JetBrainsMono-Regular.ttf
//
// File paths are relative to the manifest's directory.
package fontpack

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name looked up when a directory is given.
const ManifestFile = "fonts.yaml"

// Manifest represents the fonts.yaml structure.
type Manifest struct {
	Fonts []Entry `yaml:"fonts"`

	// Internal fields
	path string
}

// Entry describes one font file.
type Entry struct {
	Name    string `yaml:"name"`
	File    string `yaml:"file"`
	Default bool   `yaml:"default"`
}

// ParseManifest reads and validates a manifest. path may name the manifest
// itself or the directory holding fonts.yaml.
func ParseManifest(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ManifestFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: path,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: path,
			Err:  err,
		}
	}

	m.path = path

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields and that every font file exists.
func (m *Manifest) Validate() error {
	if len(m.Fonts) == 0 {
		return &ManifestValidationError{
			Path:    m.path,
			Field:   "fonts",
			Message: "at least one font is required",
		}
	}

	seen := make(map[string]bool, len(m.Fonts))
	defaults := 0
	for i, f := range m.Fonts {
		field := fmt.Sprintf("fonts[%d]", i)

		if f.Name == "" {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   field + ".name",
				Message: "name is required",
			}
		}
		if seen[f.Name] {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate font name: %s", f.Name),
			}
		}
		seen[f.Name] = true

		if f.File == "" {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   field + ".file",
				Message: "file is required",
			}
		}

		if f.Default {
			defaults++
		}

		if _, err := os.Stat(m.FontPath(f)); os.IsNotExist(err) {
			return &FontFileNotFoundError{
				ManifestPath: m.path,
				FontFile:     f.File,
			}
		}
	}

	if defaults > 1 {
		return &ManifestValidationError{
			Path:    m.path,
			Field:   "fonts",
			Message: fmt.Sprintf("at most one default font is allowed, got %d", defaults),
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.path)
}

// FontPath resolves an entry's file against the manifest directory.
func (m *Manifest) FontPath(e Entry) string {
	if filepath.IsAbs(e.File) {
		return e.File
	}
	return filepath.Join(m.Dir(), e.File)
}

// DefaultEntry returns the entry marked default, if any.
func (m *Manifest) DefaultEntry() (Entry, bool) {
	for _, f := range m.Fonts {
		if f.Default {
			return f, true
		}
	}
	return Entry{}, false
}
