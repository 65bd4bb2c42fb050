// pkg/install/bundle.go
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arc-language/reloc/pkg/archive"
	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/manifest"
	"github.com/arc-language/reloc/pkg/registration"
)

// Bundle is an unpacked archive ready to install
type Bundle struct {
	Dir         string
	Manifest    *manifest.Manifest
	Entries     []registration.Entry
	RegStoreDir string // store directory the registration is rendered for
	cleanup     func() error
}

// OpenBundle opens an extracted bundle directory or an archive file. An
// archive is unpacked into a temporary directory removed by Close.
func OpenBundle(ctx context.Context, path string) (*Bundle, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Dir: path, cleanup: func() error { return nil }}
	if !fi.IsDir() {
		tmp, err := os.MkdirTemp("", "reloc-bundle-")
		if err != nil {
			return nil, err
		}
		b.Dir = tmp
		b.cleanup = func() error { return os.RemoveAll(tmp) }
		if err := archive.Extract(ctx, path, tmp); err != nil {
			b.Close()
			return nil, fmt.Errorf("extracting %s: %w", path, err)
		}
	}

	if err := b.load(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bundle) load() error {
	m, err := manifest.Read(filepath.Join(b.Dir, manifest.FileName))
	if err != nil {
		return fmt.Errorf("reading bundle manifest: %w", err)
	}
	b.Manifest = m

	f, err := os.Open(filepath.Join(b.Dir, manifest.RegistrationFile))
	if err != nil {
		return fmt.Errorf("reading bundle registration: %w", err)
	}
	defer f.Close()

	b.RegStoreDir, b.Entries, err = registration.Read(f)
	if err != nil {
		return fmt.Errorf("parsing bundle registration: %w", err)
	}
	if err := registration.Validate(b.Entries); err != nil {
		return err
	}
	if len(b.Entries) == 0 {
		return &core.Error{Op: "open bundle", Err: core.ErrEmptyClosure}
	}
	return nil
}

// StorePath returns where an artifact lives inside the bundle
func (b *Bundle) StorePath(id core.ArtifactID) string {
	return filepath.Join(b.Dir, manifest.StoreDir, string(id))
}

// Close removes the temporary extraction, if any
func (b *Bundle) Close() error {
	return b.cleanup()
}
