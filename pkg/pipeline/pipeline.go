// pkg/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/pkg/assemble"
	"github.com/arc-language/reloc/pkg/closure"
	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/nix"
	"github.com/arc-language/reloc/pkg/platform"
)

// prefetcher is implemented by stores that can answer a whole closure in
// one query
type prefetcher interface {
	Prefetch(ctx context.Context, roots []core.ArtifactID) error
}

// Pipeline builds relocated archives for the configured architectures
type Pipeline struct {
	cfg   *core.Config
	store core.Store

	// KeepStaging leaves staging trees on disk after a successful build
	KeepStaging bool
}

// New creates a pipeline reading artifacts from store
func New(cfg *core.Config, store core.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: store}
}

// OpenStore creates the store named by the configuration
func OpenStore(cfg *core.Config) (core.Store, error) {
	switch cfg.Store.Type {
	case core.StoreTypeLocal, "":
		dir := cfg.Store.Path
		if dir == "" {
			dir = core.StoreDir(cfg.SourcePrefix)
		}
		return nix.NewLocalStore(dir, cfg.Store.NixBinary), nil
	case core.StoreTypeCache:
		cache, err := nix.NewBinaryCache(cfg.Store.Path, cfg.Store.VerifyCacheHash())
		if err != nil {
			return nil, err
		}
		return cache, nil
	default:
		return nil, fmt.Errorf("%w: unsupported store type %q", core.ErrInvalidConfig, cfg.Store.Type)
	}
}

// Architectures returns the configured architectures in sorted order
func Architectures(cfg *core.Config) ([]platform.Arch, error) {
	archs := make([]platform.Arch, 0, len(cfg.Architectures))
	for name := range cfg.Architectures {
		a, err := platform.ParseArch(name)
		if err != nil {
			return nil, err
		}
		archs = append(archs, a)
	}
	return platform.SortArchs(archs), nil
}

// Roots returns the roots configured for arch followed by extra
func (p *Pipeline) Roots(arch platform.Arch, extra []core.ArtifactID) ([]core.ArtifactID, error) {
	var roots []core.ArtifactID
	if ac := p.archConfig(arch); ac != nil {
		var err error
		if roots, err = StageRoots(ac); err != nil {
			return nil, fmt.Errorf("%s: %w", arch, err)
		}
	} else if len(extra) == 0 {
		return nil, fmt.Errorf("%w: %s is not configured", core.ErrUnknownArchitecture, arch)
	}

	seen := make(map[core.ArtifactID]bool, len(roots))
	for _, id := range roots {
		seen[id] = true
	}
	for _, id := range extra {
		if !seen[id] {
			seen[id] = true
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return nil, &core.Error{Op: "collect roots", Err: fmt.Errorf("%w: no roots for %s", core.ErrEmptyClosure, arch)}
	}
	return roots, nil
}

// archConfig finds the settings for arch; keys may use any alias ParseArch
// accepts
func (p *Pipeline) archConfig(arch platform.Arch) *core.ArchConfig {
	if ac, ok := p.cfg.Architectures[arch.String()]; ok {
		return ac
	}
	for name, ac := range p.cfg.Architectures {
		if a, err := platform.ParseArch(name); err == nil && a == arch {
			return ac
		}
	}
	return nil
}

// Closure computes the dependency closure of roots against the store
func (p *Pipeline) Closure(ctx context.Context, roots []core.ArtifactID) (*closure.Closure, error) {
	if pf, ok := p.store.(prefetcher); ok {
		if err := pf.Prefetch(ctx, roots); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WarnKV(ctx, "prefetching closure metadata failed, querying one by one", "error", err)
		}
	}
	return closure.Compute(ctx, p.store, roots)
}

// Build produces the archive for one architecture
func (p *Pipeline) Build(ctx context.Context, arch platform.Arch, extra ...core.ArtifactID) (*assemble.Result, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "pipeline"), "arch", arch)

	roots, err := p.Roots(arch, extra)
	if err != nil {
		return nil, err
	}
	logger.InfoKV(ctx, "computing closure", "roots", len(roots), "store", p.store.Name())

	c, err := p.Closure(ctx, roots)
	if err != nil {
		return nil, err
	}
	logger.InfoKV(ctx, "closure computed", "artifacts", c.Len())

	return assemble.New(p.store, p.assembleOptions(arch)).Assemble(ctx, c)
}

func (p *Pipeline) assembleOptions(arch platform.Arch) assemble.Options {
	opts := assemble.Options{
		Name:         p.cfg.Name,
		Arch:         arch,
		SourcePrefix: p.cfg.SourcePrefix,
		DestPrefix:   p.cfg.DestPrefix,
		OutputDir:    p.cfg.OutputDir,
		Compression:  p.cfg.Compression,
		Jobs:         p.cfg.Jobs,
		KeepStaging:  p.KeepStaging,
	}
	if p.cfg.StagingDir != "" {
		opts.StagingDir = filepath.Join(p.cfg.StagingDir, arch.String())
	}
	return opts
}

// ArchResult is the outcome of building one architecture
type ArchResult struct {
	Arch     platform.Arch
	Result   *assemble.Result
	Err      error
	Duration time.Duration
}

// Report lists the outcome of every architecture of a BuildAll run
type Report struct {
	Results []ArchResult
}

// Succeeded returns the architectures that produced an archive
func (r *Report) Succeeded() []platform.Arch {
	var out []platform.Arch
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Arch)
		}
	}
	return out
}

// Failed returns the results of architectures that did not build
func (r *Report) Failed() []ArchResult {
	var out []ArchResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// BuildAll builds every architecture in archs, or every configured one when
// archs is empty. A failing architecture does not stop the others; the
// returned error joins all failures.
func (p *Pipeline) BuildAll(ctx context.Context, archs []platform.Arch, extra ...core.ArtifactID) (*Report, error) {
	if len(archs) == 0 {
		var err error
		if archs, err = Architectures(p.cfg); err != nil {
			return nil, err
		}
	}
	archs = platform.SortArchs(archs)
	if len(archs) == 0 {
		return nil, fmt.Errorf("%w: no architectures configured", core.ErrInvalidConfig)
	}

	report := &Report{}
	var errs []error
	for _, arch := range archs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		res, err := p.Build(ctx, arch, extra...)
		report.Results = append(report.Results, ArchResult{Arch: arch, Result: res, Err: err, Duration: time.Since(start)})
		if err != nil {
			logger.ErrorKV(ctx, "build failed", "arch", arch, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", arch, err))
		}
	}

	if len(errs) > 0 {
		return report, fmt.Errorf("%d of %d architectures failed: %w", len(errs), len(archs), errors.Join(errs...))
	}
	return report, nil
}
