// Package fsutil copies store trees the way a NAR round trip would:
// directories become 0755, files 0644 or 0755 depending on the executable
// bit, symbolic links are copied as links and ownership is not preserved.
package fsutil

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// NormalizedPerm maps a mode to the permissions a store object would have
func NormalizedPerm(mode fs.FileMode) fs.FileMode {
	if mode.IsDir() || mode&0111 != 0 {
		return 0755
	}
	return 0644
}

// CopyTree copies src to dst. src may be a file, a directory or a link;
// dst must not exist.
func CopyTree(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("copy %s: %w", dst, fs.ErrExist)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			return os.Mkdir(target, 0755)
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return CopyFile(p, target, NormalizedPerm(fi.Mode()))
		default:
			return fmt.Errorf("copy %s: unsupported file type %s", p, d.Type())
		}
	})
}

// CopyFile copies a regular file, following a link at src
func CopyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
