// pkg/core/config.go
package core

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Compression selects the archive compression
type Compression string

const (
	CompressionXZ   Compression = "xz"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
	CompressionLZ4  Compression = "lz4"
	CompressionNone Compression = "none"
)

// Store kinds
const (
	StoreTypeLocal = "local"
	StoreTypeCache = "cache"
)

const (
	// DefaultSourcePrefix is the prefix artifacts are built for
	DefaultSourcePrefix = "/nix"

	// DefaultDestPrefix is the prefix of the relocated store on the device
	DefaultDestPrefix = "/data/data/com.termux.nix/files/nix"

	// DefaultName is used for archive file names
	DefaultName = "nix-bootstrap"

	// DefaultOutputDir is where archives are written
	DefaultOutputDir = "out"
)

// Config holds reloc configuration
type Config struct {
	Name          string                 `yaml:"name" toml:"name"`
	SourcePrefix  string                 `yaml:"source_prefix" toml:"source_prefix"`
	DestPrefix    string                 `yaml:"dest_prefix" toml:"dest_prefix"`
	OutputDir     string                 `yaml:"output_dir" toml:"output_dir"`
	StagingDir    string                 `yaml:"staging_dir,omitempty" toml:"staging_dir"`
	Compression   Compression            `yaml:"compression" toml:"compression"`
	Jobs          int                    `yaml:"jobs" toml:"jobs"`
	Debug         bool                   `yaml:"debug" toml:"debug"`
	LogLevel      string                 `yaml:"log_level,omitempty" toml:"log_level"`
	Store         StoreConfig            `yaml:"store" toml:"store"`
	Architectures map[string]*ArchConfig `yaml:"architectures" toml:"architectures"`
}

// StoreConfig selects where artifacts are read from
type StoreConfig struct {
	Type       string `yaml:"type" toml:"type"`                                   // local or cache
	Path       string `yaml:"path" toml:"path"`                                   // store dir, or cache dir for type=cache
	NixBinary  string `yaml:"nix_binary,omitempty" toml:"nix_binary"`             // override for the nix CLI
	VerifyHash *bool  `yaml:"verify_hash,omitempty" toml:"verify_hash,omitempty"` // cache only, default true
}

// ArchConfig describes what goes into one architecture's archive.
// Roots are either listed directly or collected from a chain of stages
// starting at Stage.
type ArchConfig struct {
	Roots  []string                `yaml:"roots,omitempty" toml:"roots"`
	Stage  string                  `yaml:"stage,omitempty" toml:"stage"`
	Stages map[string]*StageConfig `yaml:"stages,omitempty" toml:"stages"`
}

// StageConfig is one bootstrap stage. From names the stage it was built
// with; Raw marks the terminal stage that was not built from another.
type StageConfig struct {
	From  string   `yaml:"from,omitempty" toml:"from"`
	Raw   bool     `yaml:"raw,omitempty" toml:"raw"`
	Roots []string `yaml:"roots" toml:"roots"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:          DefaultName,
		SourcePrefix:  DefaultSourcePrefix,
		DestPrefix:    DefaultDestPrefix,
		OutputDir:     DefaultOutputDir,
		Compression:   CompressionXZ,
		Jobs:          runtime.NumCPU(),
		Store:         StoreConfig{Type: StoreTypeLocal, Path: StoreDir(DefaultSourcePrefix)},
		Architectures: make(map[string]*ArchConfig),
	}
}

// DefaultConfigPath returns $HOME/.config/reloc/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reloc.yaml"
	}
	return filepath.Join(home, ".config", "reloc", "config.yaml")
}

// LoadConfig loads configuration from file. Files ending in .toml are
// decoded as TOML, everything else as YAML. A missing file at the default
// location yields the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigPath()
	}

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves configuration to file as YAML
func SaveConfig(cfg *Config, configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Compression == "" {
		c.Compression = CompressionXZ
	}
	if c.Jobs <= 0 {
		c.Jobs = 1
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreTypeLocal
	}
	if c.Store.Path == "" && c.Store.Type == StoreTypeLocal {
		c.Store.Path = StoreDir(c.SourcePrefix)
	}
	if c.Architectures == nil {
		c.Architectures = make(map[string]*ArchConfig)
	}

	if err := checkPrefix("source_prefix", c.SourcePrefix); err != nil {
		return err
	}
	if err := checkPrefix("dest_prefix", c.DestPrefix); err != nil {
		return err
	}
	if c.SourcePrefix == c.DestPrefix {
		return fmt.Errorf("%w: source and destination prefix are both %s", ErrInvalidConfig, c.SourcePrefix)
	}
	if strings.ContainsAny(c.Name, "/ ") {
		return fmt.Errorf("%w: name %q must not contain slashes or spaces", ErrInvalidConfig, c.Name)
	}

	switch c.Compression {
	case CompressionXZ, CompressionZstd, CompressionGzip, CompressionLZ4, CompressionNone:
	default:
		return fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, c.Compression)
	}

	switch c.Store.Type {
	case StoreTypeLocal:
	case StoreTypeCache:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for a binary cache", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported store type %q", ErrInvalidConfig, c.Store.Type)
	}

	for name, arch := range c.Architectures {
		if arch == nil {
			return fmt.Errorf("%w: architecture %s has no settings", ErrInvalidConfig, name)
		}
		if arch.Stage != "" {
			if _, ok := arch.Stages[arch.Stage]; !ok {
				return fmt.Errorf("%w: architecture %s starts at unknown stage %q", ErrInvalidConfig, name, arch.Stage)
			}
		}
		for stageName, stage := range arch.Stages {
			if stage == nil {
				return fmt.Errorf("%w: stage %s/%s has no settings", ErrInvalidConfig, name, stageName)
			}
			if !stage.Raw && stage.From == "" {
				return fmt.Errorf("%w: stage %s/%s is neither raw nor built from another stage", ErrInvalidConfig, name, stageName)
			}
		}
	}

	return nil
}

// VerifyCacheHash reports whether NAR file hashes are checked (default true)
func (s StoreConfig) VerifyCacheHash() bool {
	if s.VerifyHash == nil {
		return true
	}
	return *s.VerifyHash
}

func checkPrefix(field, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	}
	if !path.IsAbs(prefix) || path.Clean(prefix) != prefix || prefix == "/" {
		return fmt.Errorf("%w: %s must be a clean absolute path other than /, got %q", ErrInvalidConfig, field, prefix)
	}
	return nil
}
