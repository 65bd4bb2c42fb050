// pkg/assemble/stage.go
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/arc-language/reloc/internal/fsutil"
	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/pkg/core"
)

// maxLinkPasses bounds how often dereferenced trees are rescanned for
// links they brought along
const maxLinkPasses = 8

// LinkStats counts how symbolic links in the staged tree were handled
type LinkStats struct {
	Kept         int `yaml:"kept"`
	Relinked     int `yaml:"relinked"`
	Dereferenced int `yaml:"dereferenced"`
	Dangling     int `yaml:"dangling"`
}

// stageArtifacts materialises every artifact under storeRoot with at most
// jobs copies in flight. Each artifact is written to a hidden partial
// directory and renamed into place once complete.
func (a *Assembler) stageArtifacts(ctx context.Context, storeRoot string, ids []core.ArtifactID) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Jobs)

	for _, id := range ids {
		g.Go(func() error {
			return a.stageOne(gctx, storeRoot, id)
		})
	}
	return g.Wait()
}

func (a *Assembler) stageOne(ctx context.Context, storeRoot string, id core.ArtifactID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partial := filepath.Join(storeRoot, "."+string(id)+".partial")
	final := filepath.Join(storeRoot, string(id))
	if err := os.RemoveAll(partial); err != nil {
		return err
	}

	err := a.source.Materialize(ctx, id, partial)
	if err == nil {
		err = os.Rename(partial, final)
	}
	if err != nil {
		os.RemoveAll(partial)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, core.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
		}
		return &core.Error{Op: "stage", Artifact: id, Err: err}
	}

	logger.DebugKV(ctx, "artifact staged", "artifact", id)
	return nil
}

// fixLinks makes every symbolic link below storeRoot resolve inside the
// staged tree. Links into another staged artifact are rewritten as
// relative links; links to anything else on the build host are replaced
// by a copy of their target. Relative links that already stay inside the
// store are kept. Kept and dangling links are counted once, on the first
// pass that sees them, so links copied in by a dereferenced directory
// are reported too.
func (a *Assembler) fixLinks(ctx context.Context, storeRoot string) (LinkStats, error) {
	var stats LinkStats
	sourceStore := core.StoreDir(a.opts.SourcePrefix)
	seen := make(map[string]bool)

	for pass := 0; pass < maxLinkPasses; pass++ {
		changed := false

		err := filepath.WalkDir(storeRoot, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			action, err := a.fixLink(ctx, storeRoot, sourceStore, p, !seen[p])
			seen[p] = true
			if err != nil {
				return err
			}
			switch action {
			case linkKept:
				stats.Kept++
			case linkRelinked:
				stats.Relinked++
				changed = true
			case linkDereferenced:
				stats.Dereferenced++
				changed = true
			case linkDangling:
				stats.Dangling++
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
		if !changed {
			return stats, nil
		}
	}

	return stats, fmt.Errorf("symbolic links still unresolved after %d passes", maxLinkPasses)
}

type linkAction int

const (
	linkUnchanged linkAction = iota
	linkKept
	linkRelinked
	linkDereferenced
	linkDangling
)

func (a *Assembler) fixLink(ctx context.Context, storeRoot, sourceStore, p string, count bool) (linkAction, error) {
	target, err := os.Readlink(p)
	if err != nil {
		return linkUnchanged, err
	}

	// where the link points, as a path on the build host
	var hostTarget string
	if filepath.IsAbs(target) {
		hostTarget = filepath.Clean(target)
	} else {
		resolved := filepath.Join(filepath.Dir(p), target)
		if _, err := os.Lstat(resolved); err == nil && within(storeRoot, resolved) {
			if count {
				return linkKept, nil
			}
			return linkUnchanged, nil
		}
		rel, _ := filepath.Rel(storeRoot, resolved)
		hostTarget = filepath.Join(sourceStore, rel)
	}

	// a link into the staged closure becomes relative
	if within(sourceStore, hostTarget) {
		rel, _ := filepath.Rel(sourceStore, hostTarget)
		staged := filepath.Join(storeRoot, rel)
		if _, err := os.Lstat(staged); err == nil {
			relTarget, err := filepath.Rel(filepath.Dir(p), staged)
			if err != nil {
				return linkUnchanged, err
			}
			if err := replaceLink(p, relTarget); err != nil {
				return linkUnchanged, err
			}
			return linkRelinked, nil
		}
	}

	// otherwise copy what the host has there
	fi, err := os.Stat(hostTarget)
	if err != nil {
		if count {
			logger.DebugKV(ctx, "dangling link left in place", "link", p, "target", target)
			return linkDangling, nil
		}
		return linkUnchanged, nil
	}
	if err := os.Remove(p); err != nil {
		return linkUnchanged, err
	}
	if fi.IsDir() {
		real, err := filepath.EvalSymlinks(hostTarget)
		if err != nil {
			return linkUnchanged, err
		}
		err = fsutil.CopyTree(ctx, real, p)
	} else {
		err = fsutil.CopyFile(hostTarget, p, fsutil.NormalizedPerm(fi.Mode()))
	}
	if err != nil {
		return linkUnchanged, fmt.Errorf("dereferencing %s: %w", p, err)
	}
	logger.DebugKV(ctx, "link dereferenced", "link", p, "target", target)
	return linkDereferenced, nil
}

func replaceLink(p, target string) error {
	tmp := p + ".reloc-link"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// within reports whether p is root or lies below it
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
