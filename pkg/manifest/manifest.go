// pkg/manifest/manifest.go
package manifest

import (
	"fmt"
	"os"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/arc-language/reloc/pkg/elfpatch"
)

// FormatVersion is bumped when the bundle layout changes incompatibly
const FormatVersion = 1

// File names inside a bundle
const (
	FileName         = "manifest.yaml"
	RegistrationFile = "registration"
	InstallFile      = "install"
	ReadmeFile       = "README"
	StoreDir         = "store"
)

// Manifest describes a bundle
type Manifest struct {
	Version      int            `yaml:"version"`
	Name         string         `yaml:"name"`
	Arch         string         `yaml:"arch"`
	System       string         `yaml:"system"`
	SourcePrefix string         `yaml:"source_prefix"`
	DestPrefix   string         `yaml:"dest_prefix"`
	Roots        []string       `yaml:"roots"`
	Artifacts    int            `yaml:"artifacts"`
	NarSize      int64          `yaml:"nar_size"`
	Compression  string         `yaml:"compression"`
	Created      time.Time      `yaml:"created"`
	Tool         string         `yaml:"tool,omitempty"`
	Rewrite      elfpatch.Stats `yaml:"rewrite"`
}

// Parse decodes and checks a manifest
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported manifest version %d (want %d)", m.Version, FormatVersion)
	}
	if m.Arch == "" || m.DestPrefix == "" {
		return nil, fmt.Errorf("manifest lacks arch or dest_prefix")
	}
	return &m, nil
}

// Read loads a manifest file
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Marshal encodes the manifest as YAML
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Write stores the manifest atomically
func Write(path string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return renameio.WriteFile(path, data, 0644)
}
