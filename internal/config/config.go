// Package config holds toolchain constants and the optional fugue.yaml
// project file read from beside the source.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/apoch/fugue/internal/diagnostics"
)

const (
	// SourceFileExt is the canonical source extension.
	SourceFileExt = ".epoch"

	// BytecodeFileExt is the compiled binary extension.
	BytecodeFileExt = ".fugue"

	// AssemblyFileExt is the textual serialization extension.
	AssemblyFileExt = ".easm"

	// ProjectFileName names the optional per-project configuration file.
	ProjectFileName = "fugue.yaml"
)

// ProjectConfig is the fugue.yaml schema.
type ProjectConfig struct {
	// UsesConsole forces the uses-console flag even when no console
	// operation appears in the source.
	UsesConsole bool `yaml:"uses_console"`

	// Extensions lists hosted libraries the program references.
	Extensions []string `yaml:"extensions"`

	// Output overrides the derived output path for compile and serialize.
	Output string `yaml:"output"`
}

// LoadProject reads the project file next to the given source path. A
// missing file yields the zero config.
func LoadProject(sourcePath string) (*ProjectConfig, error) {
	path := filepath.Join(filepath.Dir(sourcePath), ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ProjectConfig{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", diagnostics.ErrFileIO, path, err)
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", diagnostics.ErrFileIO, path, err)
	}
	return &cfg, nil
}

// DerivedOutputPath swaps the source extension for the target one.
func DerivedOutputPath(sourcePath, ext string) string {
	base := sourcePath[:len(sourcePath)-len(filepath.Ext(sourcePath))]
	return base + ext
}
