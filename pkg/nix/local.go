// pkg/nix/local.go
package nix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/arc-language/reloc/internal/fsutil"
	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/pkg/core"
)

// QueryFunc runs `nix <args>` and returns stdout
type QueryFunc func(ctx context.Context, args ...string) ([]byte, error)

// LocalStore reads artifacts from a store directory on this host and
// queries their metadata through `nix path-info`
type LocalStore struct {
	storeDir string
	query    QueryFunc

	mu    sync.Mutex
	infos map[core.ArtifactID]*core.ArtifactInfo
}

// NewLocalStore creates a local store for storeDir. nixBinary overrides
// the location of the nix CLI; empty means look it up on first use.
func NewLocalStore(storeDir, nixBinary string) *LocalStore {
	s := &LocalStore{
		storeDir: storeDir,
		infos:    make(map[core.ArtifactID]*core.ArtifactInfo),
	}
	s.query = func(ctx context.Context, args ...string) ([]byte, error) {
		bin := nixBinary
		if bin == "" {
			var err error
			if bin, err = FindBinary("nix"); err != nil {
				return nil, err
			}
		}
		cmd := &Command{Path: bin}
		return cmd.Run(ctx, args...)
	}
	return s
}

// NewLocalStoreWithQuery is like NewLocalStore but answers metadata
// queries through q
func NewLocalStoreWithQuery(storeDir string, q QueryFunc) *LocalStore {
	return &LocalStore{
		storeDir: storeDir,
		query:    q,
		infos:    make(map[core.ArtifactID]*core.ArtifactInfo),
	}
}

// Name returns the store kind
func (s *LocalStore) Name() string {
	return core.StoreTypeLocal
}

// StoreDir returns the store directory
func (s *LocalStore) StoreDir() string {
	return s.storeDir
}

// Prefetch loads the metadata of the full closure of roots with a single
// query, so later Resolve calls do not each start a process
func (s *LocalStore) Prefetch(ctx context.Context, roots []core.ArtifactID) error {
	if len(roots) == 0 {
		return nil
	}
	args := []string{"--extra-experimental-features", experimentalFeatures, "path-info", "--json", "--recursive"}
	for _, id := range roots {
		args = append(args, id.Path(s.storeDir))
	}

	out, err := s.query(ctx, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnresolvedDependency, err)
	}
	infos, err := parsePathInfo(out)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, info := range infos {
		s.infos[info.ID] = info
	}
	logger.DebugKV(ctx, "prefetched path info", "roots", len(roots), "artifacts", len(infos))
	return nil
}

// Resolve implements core.Resolver
func (s *LocalStore) Resolve(ctx context.Context, id core.ArtifactID) (*core.ArtifactInfo, error) {
	s.mu.Lock()
	info, ok := s.infos[id]
	s.mu.Unlock()
	if ok {
		return info, nil
	}

	out, err := s.query(ctx, "--extra-experimental-features", experimentalFeatures, "path-info", "--json", id.Path(s.storeDir))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", core.ErrUnresolvedDependency, err)
	}
	infos, err := parsePathInfo(out)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range infos {
		s.infos[i.ID] = i
	}
	info, ok = s.infos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a valid store path", core.ErrUnresolvedDependency, id)
	}
	return info, nil
}

// Materialize copies the artifact from the store directory to dest.
// Links are copied as links.
func (s *LocalStore) Materialize(ctx context.Context, id core.ArtifactID, dest string) error {
	src := filepath.Join(s.storeDir, string(id))
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	if err := fsutil.CopyTree(ctx, src, dest); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	return nil
}

// parsePathInfo decodes both JSON shapes of `nix path-info --json`.
// Invalid paths are skipped.
func parsePathInfo(data []byte) ([]*core.ArtifactInfo, error) {
	var records []pathInfo

	var list []pathInfo
	if err := json.Unmarshal(data, &list); err == nil {
		records = list
	} else {
		var byPath map[string]*pathInfo
		if err := json.Unmarshal(data, &byPath); err != nil {
			return nil, fmt.Errorf("decoding path-info output: %w", err)
		}
		for p, rec := range byPath {
			if rec == nil {
				continue
			}
			rec.Path = p
			records = append(records, *rec)
		}
	}

	infos := make([]*core.ArtifactInfo, 0, len(records))
	for _, rec := range records {
		if rec.Valid != nil && !*rec.Valid {
			continue
		}
		info, err := rec.toInfo()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (p *pathInfo) toInfo() (*core.ArtifactInfo, error) {
	id, err := core.ParseArtifactID(p.Path)
	if err != nil {
		return nil, err
	}
	hash, err := NormalizeHash(p.NarHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Path, err)
	}

	info := &core.ArtifactInfo{ID: id, Size: p.NarSize, NarHash: hash}
	if p.Deriver != nil && *p.Deriver != "" {
		if info.Deriver, err = core.ParseArtifactID(*p.Deriver); err != nil {
			return nil, err
		}
	}
	for _, ref := range p.References {
		refID, err := core.ParseArtifactID(path.Base(ref))
		if err != nil {
			return nil, err
		}
		info.References = append(info.References, refID)
	}
	return info, nil
}
