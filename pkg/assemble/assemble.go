// pkg/assemble/assemble.go
package assemble

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"

	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/internal/version"
	"github.com/arc-language/reloc/pkg/archive"
	"github.com/arc-language/reloc/pkg/closure"
	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/elfpatch"
	"github.com/arc-language/reloc/pkg/install"
	"github.com/arc-language/reloc/pkg/manifest"
	"github.com/arc-language/reloc/pkg/nix"
	"github.com/arc-language/reloc/pkg/platform"
	"github.com/arc-language/reloc/pkg/registration"
)

// Options configures an assembly run
type Options struct {
	Name         string
	Arch         platform.Arch
	SourcePrefix string
	DestPrefix   string
	StagingDir   string // defaults to <OutputDir>/.staging-<arch>
	OutputDir    string
	Compression  core.Compression
	Jobs         int
	KeepStaging  bool             // leave the staging tree after success
	Now          func() time.Time // defaults to time.Now
}

// Result describes the produced archive
type Result struct {
	Archive          *archive.Info
	RegistrationPath string // uncompressed sidecar copy
	ManifestPath     string // uncompressed sidecar copy
	Manifest         *manifest.Manifest
	Registration     []registration.Entry
	Links            LinkStats
	StagingDir       string
}

// Assembler turns a closure into an installable archive
type Assembler struct {
	source core.Source
	opts   Options
}

// New creates an assembler reading artifact payloads from source
func New(source core.Source, opts Options) *Assembler {
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}
	if opts.Name == "" {
		opts.Name = core.DefaultName
	}
	if opts.Compression == "" {
		opts.Compression = core.CompressionXZ
	}
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(opts.OutputDir, ".staging-"+opts.Arch.String())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{source: source, opts: opts}
}

// BaseName is the archive file name without extension
func (a *Assembler) BaseName() string {
	return a.opts.Name + "-" + a.opts.Arch.String()
}

// Assemble stages the closure, relocates interpreters and writes the
// archive. Copy failures abort the run; rewrite refusals only warn.
func (a *Assembler) Assemble(ctx context.Context, c *closure.Closure) (*Result, error) {
	if c == nil || c.Len() == 0 {
		return nil, &core.Error{Op: "assemble", Err: core.ErrEmptyClosure}
	}
	ctx = logger.WithKV(ctx, "arch", a.opts.Arch)

	staging, err := filepath.Abs(a.opts.StagingDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(staging), 0755); err != nil {
		return nil, err
	}
	lock, err := lockStaging(staging)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("cleaning staging directory: %w", err)
	}
	storeRoot := filepath.Join(staging, manifest.StoreDir)
	if err := os.MkdirAll(storeRoot, 0755); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "staging closure", "artifacts", c.Len(), "jobs", a.opts.Jobs)
	if err := a.stageArtifacts(ctx, storeRoot, c.Artifacts); err != nil {
		return nil, err
	}

	links, err := a.fixLinks(ctx, storeRoot)
	if err != nil {
		return nil, err
	}
	if links.Dangling > 0 {
		logger.WarnKV(ctx, "dangling links left in staged tree", "count", links.Dangling)
	}

	rw := &elfpatch.Rewriter{SourcePrefix: a.opts.SourcePrefix, DestPrefix: a.opts.DestPrefix, StagingRoot: staging}
	stats, err := rw.Walk(ctx, storeRoot)
	if err != nil {
		return nil, fmt.Errorf("rewriting interpreters: %w", err)
	}
	logger.InfoKV(ctx, "interpreters rewritten",
		"patched", stats.Patched, "already", stats.AlreadyPatched,
		"not_applicable", stats.NotApplicable, "refused", stats.Refused)
	for reason, n := range stats.RefusedByReason() {
		logger.WarnKV(ctx, "interpreter rewrite refused", "reason", reason, "files", n)
	}

	entries, err := a.rehash(ctx, storeRoot, c.Registration)
	if err != nil {
		return nil, err
	}
	if err := registration.Validate(entries); err != nil {
		return nil, err
	}

	m := a.manifest(c, entries, stats)
	regData, err := a.writeMetadata(staging, c, m, entries)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(a.opts.OutputDir, a.BaseName())
	info, err := archive.Create(ctx, base+archive.Ext(a.opts.Compression), staging, a.opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}

	res := &Result{
		Archive:          info,
		RegistrationPath: base + ".registration",
		ManifestPath:     base + ".manifest.yaml",
		Manifest:         m,
		Registration:     entries,
		Links:            links,
		StagingDir:       staging,
	}
	if err := renameio.WriteFile(res.RegistrationPath, regData, 0644); err != nil {
		return nil, err
	}
	if err := manifest.Write(res.ManifestPath, m); err != nil {
		return nil, err
	}

	if !a.opts.KeepStaging {
		if err := os.RemoveAll(staging); err != nil {
			logger.WarnKV(ctx, "could not remove staging directory", "dir", staging, "error", err)
		}
		res.StagingDir = ""
	}

	logger.InfoKV(ctx, "archive written", "path", info.Path, "size", info.Size, "sha256", info.SHA256)
	return res, nil
}

// rehash recomputes the NAR hash and size of every staged artifact, since
// rewriting and link handling change the serialisation
func (a *Assembler) rehash(ctx context.Context, storeRoot string, in []registration.Entry) ([]registration.Entry, error) {
	out := make([]registration.Entry, len(in))
	copy(out, in)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Jobs)
	for i := range out {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, size, err := nix.HashPath(filepath.Join(storeRoot, string(out[i].ID)))
			if err != nil {
				return &core.Error{Op: "hash", Artifact: out[i].ID, Err: err}
			}
			out[i].NarHash = hash
			out[i].NarSize = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) manifest(c *closure.Closure, entries []registration.Entry, stats *elfpatch.Stats) *manifest.Manifest {
	roots := make([]string, len(c.Roots))
	for i, r := range c.Roots {
		roots[i] = r.String()
	}
	var narSize int64
	for _, e := range entries {
		narSize += e.NarSize
	}
	return &manifest.Manifest{
		Version:      manifest.FormatVersion,
		Name:         a.opts.Name,
		Arch:         a.opts.Arch.String(),
		System:       a.opts.Arch.System(),
		SourcePrefix: a.opts.SourcePrefix,
		DestPrefix:   a.opts.DestPrefix,
		Roots:        roots,
		Artifacts:    len(entries),
		NarSize:      narSize,
		Compression:  string(a.opts.Compression),
		Created:      a.opts.Now().UTC().Truncate(time.Second),
		Tool:         version.Short(),
		Rewrite:      *stats,
	}
}

// writeMetadata writes registration, install, README and manifest.yaml
// into the staging root and returns the registration bytes
func (a *Assembler) writeMetadata(staging string, c *closure.Closure, m *manifest.Manifest, entries []registration.Entry) ([]byte, error) {
	var reg bytes.Buffer
	if err := registration.Write(&reg, core.StoreDir(a.opts.DestPrefix), entries); err != nil {
		return nil, err
	}

	paths := install.PathsFor(a.opts.DestPrefix, "")
	envPaths := paths
	envPaths.Profile = "$NIX_STATE_DIR/profiles/per-user/$(id -un)/profile"

	data := templateData{
		Name:         a.opts.Name,
		Arch:         a.opts.Arch.String(),
		System:       a.opts.Arch.System(),
		Tool:         version.Short(),
		SourcePrefix: a.opts.SourcePrefix,
		Paths:        paths,
		FirstRoot:    c.Roots[0].String(),
		Roots:        m.Roots,
		Artifacts:    len(entries),
		NixConf:      install.NixConf(paths),
		EnvScript:    install.EnvScript(envPaths),
		Machines:     machineCases(),
	}
	data.Rewrite.Refused = m.Rewrite.Refused

	script, err := execute(installScript, data)
	if err != nil {
		return nil, fmt.Errorf("rendering install script: %w", err)
	}
	text, err := execute(readme, data)
	if err != nil {
		return nil, fmt.Errorf("rendering README: %w", err)
	}

	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{manifest.RegistrationFile, reg.Bytes(), 0644},
		{manifest.InstallFile, script, 0755},
		{manifest.ReadmeFile, text, 0644},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(staging, f.name), f.data, f.perm); err != nil {
			return nil, err
		}
	}
	if err := manifest.Write(filepath.Join(staging, manifest.FileName), m); err != nil {
		return nil, err
	}
	return reg.Bytes(), nil
}
