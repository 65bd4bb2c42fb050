package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/reloc/internal/fsutil"
	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/nix"
	"github.com/arc-language/reloc/pkg/platform"
)

// fakeStore serves artifacts from a directory and metadata from a table
type fakeStore struct {
	dir   string
	infos map[core.ArtifactID]*core.ArtifactInfo

	mu       sync.Mutex
	prefetch int
	unstaged map[core.ArtifactID]bool
}

func (s *fakeStore) Name() string { return "fake" }

func (s *fakeStore) Resolve(_ context.Context, id core.ArtifactID) (*core.ArtifactInfo, error) {
	info, ok := s.infos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnresolvedDependency, id)
	}
	return info, nil
}

func (s *fakeStore) Materialize(ctx context.Context, id core.ArtifactID, dest string) error {
	if s.unstaged[id] {
		return fmt.Errorf("%w: %s", core.ErrSourceUnavailable, id)
	}
	return fsutil.CopyTree(ctx, filepath.Join(s.dir, string(id)), dest)
}

func (s *fakeStore) Prefetch(context.Context, []core.ArtifactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefetch++
	return nil
}

func newFakeStore(t *testing.T, prefix string) *fakeStore {
	t.Helper()
	s := &fakeStore{
		dir:      core.StoreDir(prefix),
		infos:    make(map[core.ArtifactID]*core.ArtifactInfo),
		unstaged: make(map[core.ArtifactID]bool),
	}
	add := func(id core.ArtifactID, refs ...core.ArtifactID) {
		p := filepath.Join(s.dir, string(id), "share", "name")
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(id.Name()), 0644))
		s.infos[id] = &core.ArtifactInfo{ID: id, Size: 1, References: refs}
	}
	add(glibc)
	add(bash, glibc)
	add(hello, glibc)
	return s
}

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	root := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.SourcePrefix = filepath.Join(root, "nix")
	cfg.DestPrefix = "/data/nix"
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.Jobs = 2
	cfg.Architectures = map[string]*core.ArchConfig{
		"arm64": {
			Stage: "final",
			Stages: map[string]*core.StageConfig{
				"final":     {From: "bootstrap", Roots: []string{string(hello)}},
				"bootstrap": {Raw: true, Roots: []string{string(bash)}},
			},
		},
		"x86_64": {Roots: []string{string(hello)}},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildWalksStagesAndAssembles(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	store := newFakeStore(t, cfg.SourcePrefix)

	res, err := New(cfg, store).Build(context.Background(), platform.ArchAarch64)
	require.NoError(t, err)
	require.Equal(t, 1, store.prefetch)
	require.Equal(t, filepath.Join(cfg.OutputDir, "nix-bootstrap-aarch64.tar.xz"), res.Archive.Path)
	require.ElementsMatch(t, []string{string(hello), string(bash)}, res.Manifest.Roots)
	require.Equal(t, 3, res.Manifest.Artifacts)
	require.Equal(t, glibc, res.Registration[0].ID)
}

func TestBuildExtraRootsWithoutConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	p := New(cfg, newFakeStore(t, cfg.SourcePrefix))

	_, err := p.Build(context.Background(), platform.ArchI686)
	require.ErrorIs(t, err, core.ErrUnknownArchitecture)

	res, err := p.Build(context.Background(), platform.ArchI686, glibc)
	require.NoError(t, err)
	require.Equal(t, 1, res.Manifest.Artifacts)
}

func TestBuildAllContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	store := newFakeStore(t, cfg.SourcePrefix)
	cfg.Architectures["x86_64"].Roots = []string{"2b3c4d5f6g7h8i9j0k1l2m3n4p5q6r7s-zlib-1.3.1"}

	report, err := New(cfg, store).BuildAll(context.Background(), nil)
	require.ErrorIs(t, err, core.ErrUnresolvedDependency)
	require.Len(t, report.Results, 2)
	require.Equal(t, []platform.Arch{platform.ArchAarch64}, report.Succeeded())

	failed := report.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, platform.ArchX8664, failed[0].Arch)
	require.Contains(t, err.Error(), "1 of 2 architectures failed")

	require.FileExists(t, filepath.Join(cfg.OutputDir, "nix-bootstrap-aarch64.tar.xz"))
}

func TestBuildAllSeparateStaging(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.StagingDir = filepath.Join(t.TempDir(), "staging")
	p := New(cfg, newFakeStore(t, cfg.SourcePrefix))
	p.KeepStaging = true

	report, err := p.BuildAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	require.Equal(t, filepath.Join(cfg.StagingDir, "aarch64"), report.Results[0].Result.StagingDir)
	require.Equal(t, filepath.Join(cfg.StagingDir, "x86_64"), report.Results[1].Result.StagingDir)
}

func TestArchitectures(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	archs, err := Architectures(cfg)
	require.NoError(t, err)
	require.Equal(t, []platform.Arch{platform.ArchAarch64, platform.ArchX8664}, archs)

	cfg.Architectures["sparc"] = &core.ArchConfig{}
	_, err = Architectures(cfg)
	require.ErrorIs(t, err, core.ErrUnknownArchitecture)
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	cfg := core.DefaultConfig()
	s, err := OpenStore(cfg)
	require.NoError(t, err)
	require.Equal(t, core.StoreTypeLocal, s.Name())
	require.IsType(t, &nix.LocalStore{}, s)

	cfg.Store = core.StoreConfig{Type: core.StoreTypeCache, Path: t.TempDir()}
	_, err = OpenStore(cfg)
	require.Error(t, err, "cache directory without nix-cache-info")

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Store.Path, "nix-cache-info"), []byte("StoreDir: /nix/store\n"), 0644))
	s, err = OpenStore(cfg)
	require.NoError(t, err)
	require.Equal(t, core.StoreTypeCache, s.Name())
}
