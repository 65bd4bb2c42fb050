package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/reloc/pkg/core"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "store", "abc-hello", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "store", "abc-hello", "bin", "hello"), []byte("#!binary"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "registration"), []byte("reg\n"), 0644))
	require.NoError(t, os.Symlink("hello", filepath.Join(root, "store", "abc-hello", "bin", "hi")))
	return root
}

func TestCreateExtractAllCompressions(t *testing.T) {
	t.Parallel()

	for _, c := range []core.Compression{core.CompressionXZ, core.CompressionZstd, core.CompressionGzip, core.CompressionLZ4, core.CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			t.Parallel()

			root := buildTree(t)
			dest := filepath.Join(t.TempDir(), "bundle"+Ext(c))

			info, err := Create(context.Background(), dest, root, c)
			require.NoError(t, err)
			require.Equal(t, dest, info.Path)
			require.Len(t, info.SHA256, 64)
			require.Equal(t, 6, info.Entries)

			fi, err := os.Stat(dest)
			require.NoError(t, err)
			require.Equal(t, info.Size, fi.Size())

			out := filepath.Join(t.TempDir(), "x")
			require.NoError(t, Extract(context.Background(), dest, out))

			data, err := os.ReadFile(filepath.Join(out, "store", "abc-hello", "bin", "hello"))
			require.NoError(t, err)
			require.Equal(t, "#!binary", string(data))

			st, err := os.Stat(filepath.Join(out, "store", "abc-hello", "bin", "hello"))
			require.NoError(t, err)
			require.Equal(t, os.FileMode(0755), st.Mode().Perm())

			link, err := os.Readlink(filepath.Join(out, "store", "abc-hello", "bin", "hi"))
			require.NoError(t, err)
			require.Equal(t, "hello", link)

			reg, err := ReadFile(dest, "registration")
			require.NoError(t, err)
			require.Equal(t, "reg\n", string(reg))
		})
	}
}

func TestCreateIsReproducible(t *testing.T) {
	t.Parallel()

	first, err := Create(context.Background(), filepath.Join(t.TempDir(), "a.tar.zst"), buildTree(t), core.CompressionZstd)
	require.NoError(t, err)
	second, err := Create(context.Background(), filepath.Join(t.TempDir(), "b.tar.zst"), buildTree(t), core.CompressionZstd)
	require.NoError(t, err)
	require.Equal(t, first.SHA256, second.SHA256)
}

func TestReadFileMissingEntry(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "a.tar.gz")
	_, err := Create(context.Background(), dest, buildTree(t), core.CompressionGzip)
	require.NoError(t, err)

	_, err = ReadFile(dest, "manifest.yaml")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"../evil", "/etc/evil", "store/../../evil"} {
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: 1, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, tw.Close())

		err = ExtractStream(context.Background(), &buf, t.TempDir())
		require.Error(t, err, name)
		require.Contains(t, err.Error(), "escapes destination")
	}
}

func TestExtractRejectsWritesThroughLinks(t *testing.T) {
	t.Parallel()

	outside := t.TempDir()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "store/", Mode: 0755, Typeflag: tar.TypeDir}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "store/lib", Linkname: outside, Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "store/lib/evil", Mode: 0644, Size: 1, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	err = ExtractStream(context.Background(), &buf, t.TempDir())
	require.ErrorContains(t, err, "through a link")
	require.NoFileExists(t, filepath.Join(outside, "evil"))
}

func TestNewDecompressorDetectsCompression(t *testing.T) {
	t.Parallel()

	for _, c := range []core.Compression{core.CompressionXZ, core.CompressionZstd, core.CompressionGzip, core.CompressionLZ4, core.CompressionNone} {
		var buf bytes.Buffer
		zw, err := NewCompressor(&buf, c)
		require.NoError(t, err)
		_, err = zw.Write([]byte("payload"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		r, got, err := NewDecompressor(&buf)
		require.NoError(t, err)
		require.Equal(t, c, got)

		var out bytes.Buffer
		_, err = out.ReadFrom(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, "payload", out.String())
	}
}

func TestExt(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".tar.xz", Ext(core.CompressionXZ))
	require.Equal(t, ".tar", Ext(core.CompressionNone))
	require.Equal(t, "nix-bootstrap-aarch64", TrimExt("nix-bootstrap-aarch64.tar.zst"))
	require.Equal(t, "bundle", TrimExt("bundle"))
}
