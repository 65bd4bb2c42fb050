// pkg/archive/compress.go
package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/arc-language/reloc/pkg/core"
)

var magics = []struct {
	c     core.Compression
	magic []byte
}{
	{core.CompressionXZ, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{core.CompressionZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{core.CompressionGzip, []byte{0x1f, 0x8b}},
	{core.CompressionLZ4, []byte{0x04, 0x22, 0x4d, 0x18}},
}

// Ext returns the file extension for a tar archive with compression c
func Ext(c core.Compression) string {
	switch c {
	case core.CompressionXZ:
		return ".tar.xz"
	case core.CompressionZstd:
		return ".tar.zst"
	case core.CompressionGzip:
		return ".tar.gz"
	case core.CompressionLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

// TrimExt strips a known archive extension from name
func TrimExt(name string) string {
	for _, c := range []core.Compression{core.CompressionXZ, core.CompressionZstd, core.CompressionGzip, core.CompressionLZ4, core.CompressionNone} {
		if strings.HasSuffix(name, Ext(c)) {
			return strings.TrimSuffix(name, Ext(c))
		}
	}
	return name
}

// NewCompressor wraps w so that writes are compressed with c.
// Closing the result flushes the compressor but does not close w.
func NewCompressor(w io.Writer, c core.Compression) (io.WriteCloser, error) {
	switch c {
	case core.CompressionXZ:
		return xz.NewWriter(w)
	case core.CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	case core.CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case core.CompressionLZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
		return zw, nil
	case core.CompressionNone, "":
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", core.ErrInvalidConfig, c)
	}
}

// NewDecompressor sniffs the compression of r from its leading bytes and
// returns a reader of the decompressed stream together with the detected
// compression. Data without a known magic is passed through unchanged.
func NewDecompressor(r io.Reader) (io.ReadCloser, core.Compression, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(6)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", err
	}

	c := core.CompressionNone
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			c = m.c
			break
		}
	}

	rc, err := Decompress(br, c)
	return rc, c, err
}

// Decompress wraps r with a decompressor for c
func Decompress(r io.Reader, c core.Compression) (io.ReadCloser, error) {
	switch c {
	case core.CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	case core.CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case core.CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gr, nil
	case core.CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case core.CompressionNone, "":
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", core.ErrInvalidConfig, c)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
