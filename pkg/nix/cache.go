// pkg/nix/cache.go
package nix

import (
	"bufio"
	"compress/bzip2"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"zombiezen.com/go/nix/nar"

	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/pkg/core"
)

// BinaryCache reads artifacts from a binary cache directory, as written by
// `nix copy --to file://<dir>`: one <digest>.narinfo per artifact plus the
// compressed NAR files it points at
type BinaryCache struct {
	dir        string
	verifyHash bool
}

// NewBinaryCache opens the cache in dir
func NewBinaryCache(dir string, verifyHash bool) (*BinaryCache, error) {
	if _, err := os.Stat(filepath.Join(dir, cacheInfoFile)); err != nil {
		return nil, fmt.Errorf("%s is not a binary cache: %w", dir, err)
	}
	return &BinaryCache{dir: dir, verifyHash: verifyHash}, nil
}

// Name returns the store kind
func (c *BinaryCache) Name() string {
	return core.StoreTypeCache
}

// GetNARInfo reads the narinfo of an artifact
func (c *BinaryCache) GetNARInfo(id core.ArtifactID) (*NARInfo, error) {
	digest, _, _ := strings.Cut(string(id), "-")
	f, err := os.Open(filepath.Join(c.dir, digest+".narinfo"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not in cache", core.ErrUnresolvedDependency, id)
		}
		return nil, err
	}
	defer f.Close()

	info, err := ParseNARInfo(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if filepath.Base(info.StorePath) != string(id) {
		return nil, fmt.Errorf("%w: narinfo for %s describes %s", core.ErrUnresolvedDependency, id, info.StorePath)
	}
	return info, nil
}

// Resolve implements core.Resolver
func (c *BinaryCache) Resolve(ctx context.Context, id core.ArtifactID) (*core.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ni, err := c.GetNARInfo(id)
	if err != nil {
		return nil, err
	}

	narHash, err := NormalizeHash(ni.NarHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	info := &core.ArtifactInfo{ID: id, Size: ni.NarSize, NarHash: narHash}
	if ni.Deriver != "" {
		if info.Deriver, err = core.ParseArtifactID(ni.Deriver); err != nil {
			return nil, err
		}
	}
	for _, ref := range ni.References {
		refID, err := core.ParseArtifactID(ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		info.References = append(info.References, refID)
	}
	return info, nil
}

// Materialize decompresses and unpacks the artifact's NAR into dest,
// checking the file and NAR hashes unless verification is disabled
func (c *BinaryCache) Materialize(ctx context.Context, id core.ArtifactID, dest string) error {
	ni, err := c.GetNARInfo(id)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}

	f, err := os.Open(filepath.Join(c.dir, filepath.FromSlash(ni.URL)))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	defer f.Close()

	logger.DebugKV(ctx, "extracting NAR", "artifact", id, "url", ni.URL, "compression", ni.Compression)

	fileHasher := sha256.New()
	narHasher := sha256.New()

	compressed := io.TeeReader(bufio.NewReader(f), fileHasher)
	plain, err := decompress(compressed, ni.Compression)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSourceUnavailable, id, err)
	}
	defer plain.Close()

	narStream := io.TeeReader(plain, narHasher)
	if err := extractNAR(ctx, narStream, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSourceUnavailable, id, err)
	}

	if !c.verifyHash {
		return nil
	}
	// drain trailing bytes so both hashes cover their whole stream
	if _, err := io.Copy(io.Discard, narStream); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSourceUnavailable, id, err)
	}
	if _, err := io.Copy(io.Discard, compressed); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSourceUnavailable, id, err)
	}
	if err := verify(ni.FileHash, fileHasher); err != nil {
		return fmt.Errorf("%w: %s: file %v", core.ErrSourceUnavailable, id, err)
	}
	if err := verify(ni.NarHash, narHasher); err != nil {
		return fmt.Errorf("%w: %s: nar %v", core.ErrSourceUnavailable, id, err)
	}
	return nil
}

func verify(expected string, h hash.Hash) error {
	if expected == "" {
		return nil
	}
	return equalHash(expected, h.Sum(nil))
}

// decompress wraps r according to the narinfo Compression field
func decompress(r io.Reader, compression string) (io.ReadCloser, error) {
	switch compression {
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case CompressionBZip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", compression)
	}
}

// extractNAR unpacks an uncompressed NAR stream at dest
func extractNAR(ctx context.Context, r io.Reader, dest string) error {
	nr := nar.NewReader(r)
	files := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := nr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading NAR entry: %w", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Path))

		switch hdr.Mode.Type() {
		case os.ModeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case os.ModeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
			if err := os.Symlink(hdr.LinkTarget, target); err != nil {
				return fmt.Errorf("creating symlink: %w", err)
			}
		case 0:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}

			perm := os.FileMode(0644)
			if hdr.Mode&0111 != 0 {
				perm = 0755
			}

			out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
			if err != nil {
				return fmt.Errorf("creating file %s: %w", target, err)
			}
			written, err := io.Copy(out, nr)
			out.Close()
			if err != nil {
				return fmt.Errorf("writing file: %w", err)
			}
			if written != hdr.Size {
				return fmt.Errorf("size mismatch for %s: %d != %d", hdr.Path, written, hdr.Size)
			}
			files++
		}
	}

	logger.DebugKV(ctx, "extracted NAR", "dest", dest, "files", files)
	return nil
}
