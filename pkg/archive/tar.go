// pkg/archive/tar.go
package archive

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"

	"github.com/arc-language/reloc/pkg/core"
)

// epoch is the modification time recorded for every entry, matching the
// normalised timestamps of store objects
var epoch = time.Unix(1, 0).UTC()

// ErrNotFound is returned by ReadFile when the archive has no such entry
var ErrNotFound = errors.New("entry not found in archive")

// Info describes a written archive
type Info struct {
	Path        string
	Size        int64
	SHA256      string
	Compression core.Compression
	Entries     int
}

// Create writes the tree below root to dest as a compressed tar archive.
// The file appears atomically; a failed run leaves no partial archive.
func Create(ctx context.Context, dest, root string, c core.Compression) (*Info, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, err
	}

	pf, err := renameio.TempFile("", dest)
	if err != nil {
		return nil, err
	}
	defer pf.Cleanup()

	h := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(pf, h)}

	zw, err := NewCompressor(counter, c)
	if err != nil {
		return nil, err
	}
	n, err := WriteTree(ctx, zw, root)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing compressor: %w", err)
	}
	if err := pf.Chmod(0644); err != nil {
		return nil, err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return nil, err
	}

	return &Info{
		Path:        dest,
		Size:        counter.n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		Compression: c,
		Entries:     n,
	}, nil
}

// WriteTree writes root as an uncompressed tar stream to w and returns
// the number of entries. Entries are written in lexical order with
// normalised ownership and timestamps so equal trees give equal streams.
func WriteTree(ctx context.Context, w io.Writer, root string) (int, error) {
	tw := tar.NewWriter(w)
	entries := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if fi.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		hdr.Name = name
		if fi.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.ModTime = epoch
		hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
		hdr.Format = tar.FormatPAX

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		entries++

		if !fi.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return entries, err
	}
	return entries, tw.Close()
}

// Extract unpacks the archive at src into dest, creating dest if needed.
// The compression is detected from the stream.
func Extract(ctx context.Context, src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	r, _, err := NewDecompressor(f)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer r.Close()

	return ExtractStream(ctx, r, dest)
}

// ExtractStream unpacks an uncompressed tar stream into dest. Entries
// that would land outside dest are rejected.
func ExtractStream(ctx context.Context, r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if throughLink(dest, target) {
			return fmt.Errorf("archive entry %q escapes destination through a link", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("%s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unsupported entry type %q", hdr.Name, hdr.Typeflag)
		}
	}
}

// ReadFile returns the contents of a single regular entry
func ReadFile(src, name string) ([]byte, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, _, err := NewDecompressor(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	name = path.Clean(strings.TrimPrefix(name, "./"))
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg && path.Clean(strings.TrimPrefix(hdr.Name, "./")) == name {
			return io.ReadAll(tr)
		}
	}
}

func safeJoin(dest, name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}

// throughLink reports whether a directory between dest and target is a
// symbolic link
func throughLink(dest, target string) bool {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return false
	}
	p := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		p = filepath.Join(p, part)
		fi, err := os.Lstat(p)
		if err != nil {
			return false
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
