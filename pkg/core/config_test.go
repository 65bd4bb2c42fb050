package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: boot
dest_prefix: /data/nix
compression: zstd
jobs: 3
store:
  type: cache
  path: /srv/cache
  verify_hash: false
architectures:
  aarch64:
    stage: final
    stages:
      final: {from: bootstrap, roots: [/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1]}
      bootstrap: {raw: true, roots: []}
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "boot", cfg.Name)
	require.Equal(t, DefaultSourcePrefix, cfg.SourcePrefix)
	require.Equal(t, "/data/nix", cfg.DestPrefix)
	require.Equal(t, CompressionZstd, cfg.Compression)
	require.Equal(t, 3, cfg.Jobs)
	require.Equal(t, StoreTypeCache, cfg.Store.Type)
	require.False(t, cfg.Store.VerifyCacheHash())
	require.Equal(t, "bootstrap", cfg.Architectures["aarch64"].Stages["final"].From)
}

func TestLoadConfigTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
dest_prefix = "/data/nix"
compression = "lz4"

[store]
path = "/nix/store"

[architectures.x86_64]
roots = ["/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1"]
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, CompressionLZ4, cfg.Compression)
	require.Equal(t, StoreTypeLocal, cfg.Store.Type)
	require.True(t, cfg.Store.VerifyCacheHash())
	require.Len(t, cfg.Architectures["x86_64"].Roots, 1)
}

func TestLoadConfigMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Architectures["aarch64"] = &ArchConfig{Roots: []string{"/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1"}}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"relative source", func(c *Config) { c.SourcePrefix = "nix" }},
		{"unclean dest", func(c *Config) { c.DestPrefix = "/data//nix/" }},
		{"root dest", func(c *Config) { c.DestPrefix = "/" }},
		{"same prefixes", func(c *Config) { c.DestPrefix = c.SourcePrefix }},
		{"name with slash", func(c *Config) { c.Name = "a/b" }},
		{"unknown compression", func(c *Config) { c.Compression = "brotli" }},
		{"unknown store", func(c *Config) { c.Store.Type = "s3" }},
		{"cache without path", func(c *Config) { c.Store = StoreConfig{Type: StoreTypeCache} }},
		{"nil architecture", func(c *Config) { c.Architectures["aarch64"] = nil }},
		{"unknown start stage", func(c *Config) { c.Architectures["aarch64"] = &ArchConfig{Stage: "x"} }},
		{"stage without origin", func(c *Config) {
			c.Architectures["aarch64"] = &ArchConfig{Stage: "x", Stages: map[string]*StageConfig{"x": {}}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.modify(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := DefaultConfig()
	cfg.Jobs = 0
	cfg.Compression = ""
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1, cfg.Jobs)
	require.Equal(t, CompressionXZ, cfg.Compression)
}

func TestParseArtifactID(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1",
		"/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1",
		"/data/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1/",
	} {
		id, err := ParseArtifactID(in)
		require.NoError(t, err, in)
		require.Equal(t, ArtifactID("s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1"), id)
		require.Equal(t, "hello-2.12.1", id.Name())
		require.Equal(t, "/data/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1", id.Path(StoreDir("/data/nix")))
	}

	for _, in := range []string{"", "hello", "/nix/store/short-hello"} {
		_, err := ParseArtifactID(in)
		require.Error(t, err, in)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &Error{Op: "stage", Artifact: "s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1", Err: ErrSourceUnavailable}
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.Equal(t, "stage s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1: source artifact unavailable", err.Error())
	require.Equal(t, "resolve: unresolved dependency", (&Error{Op: "resolve", Err: ErrUnresolvedDependency}).Error())
}
