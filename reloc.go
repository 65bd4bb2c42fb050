// reloc.go
package reloc

import (
	"context"

	"github.com/arc-language/reloc/pkg/assemble"
	"github.com/arc-language/reloc/pkg/closure"
	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/install"
	"github.com/arc-language/reloc/pkg/pipeline"
	"github.com/arc-language/reloc/pkg/platform"
)

// Re-export core types for convenience
type (
	Config        = core.Config
	ArchConfig    = core.ArchConfig
	StageConfig   = core.StageConfig
	StoreConfig   = core.StoreConfig
	Compression   = core.Compression
	ArtifactID    = core.ArtifactID
	Arch          = platform.Arch
	Closure       = closure.Closure
	Result        = assemble.Result
	Report        = pipeline.Report
	InstallReport = install.Report
)

// Re-export compression constants
const (
	CompressionXZ   = core.CompressionXZ
	CompressionZstd = core.CompressionZstd
	CompressionGzip = core.CompressionGzip
	CompressionLZ4  = core.CompressionLZ4
	CompressionNone = core.CompressionNone
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return core.DefaultConfig()
}

// LoadConfig reads a YAML or TOML configuration file
func LoadConfig(path string) (*Config, error) {
	return core.LoadConfig(path)
}

// ParseArch converts an architecture name or alias
func ParseArch(s string) (Arch, error) {
	return platform.ParseArch(s)
}

// Builder builds relocated archives from a configuration
type Builder struct {
	pipeline *pipeline.Pipeline
	store    core.Store
}

// NewBuilder validates config and opens the store it names
func NewBuilder(config *Config) (*Builder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	store, err := pipeline.OpenStore(config)
	if err != nil {
		return nil, err
	}
	return &Builder{pipeline: pipeline.New(config, store), store: store}, nil
}

// Closure computes the dependency closure of roots
func (b *Builder) Closure(ctx context.Context, roots ...ArtifactID) (*Closure, error) {
	return b.pipeline.Closure(ctx, roots)
}

// Build writes the archive of one architecture
func (b *Builder) Build(ctx context.Context, arch Arch, extra ...ArtifactID) (*Result, error) {
	return b.pipeline.Build(ctx, arch, extra...)
}

// BuildAll builds archs, or every configured architecture when archs is
// empty, continuing past failures
func (b *Builder) BuildAll(ctx context.Context, archs []Arch, extra ...ArtifactID) (*Report, error) {
	return b.pipeline.BuildAll(ctx, archs, extra...)
}

// Store returns the name of the store kind in use
func (b *Builder) Store() string {
	return b.store.Name()
}

// Install installs an archive or extracted directory under prefix, or under
// the prefix it was built for when prefix is empty
func Install(ctx context.Context, path, prefix string) (*InstallReport, error) {
	bundle, err := install.OpenBundle(ctx, path)
	if err != nil {
		return nil, err
	}
	defer bundle.Close()

	in := &install.Installer{Prefix: prefix}
	return in.Install(ctx, bundle)
}
