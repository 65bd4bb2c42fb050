// pkg/nix/hash.go
package nix

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"zombiezen.com/go/nix/nar"
	"zombiezen.com/go/nix/nixbase32"
)

// NormalizeHash converts a sha256 hash in any of the spellings nix
// prints ("sha256:<base32>", "sha256:<base16>", "sha256-<base64>") into
// "sha256:<base16>", the form read by `nix-store --load-db`.
func NormalizeHash(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := decodeHash(s)
	if err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(raw), nil
}

// base32Len is the length of a sha256 digest in nix base32
const base32Len = 52

func decodeHash(s string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch {
	case strings.HasPrefix(s, "sha256-"):
		raw, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "sha256-"))
	case strings.HasPrefix(s, "sha256:"):
		digest := strings.TrimPrefix(s, "sha256:")
		switch len(digest) {
		case hex.EncodedLen(sha256.Size):
			raw, err = hex.DecodeString(digest)
		case base32Len:
			raw, err = nixbase32.DecodeString(digest)
		default:
			err = fmt.Errorf("unexpected digest length %d", len(digest))
		}
	default:
		err = fmt.Errorf("unsupported hash algorithm")
	}
	if err != nil {
		return nil, fmt.Errorf("parsing hash %q: %w", s, err)
	}
	if len(raw) != sha256.Size {
		return nil, fmt.Errorf("parsing hash %q: wrong digest size %d", s, len(raw))
	}
	return raw, nil
}

// equalHash compares a computed digest with a hash string in any spelling
func equalHash(expected string, digest []byte) error {
	want, err := decodeHash(expected)
	if err != nil {
		return err
	}
	if string(want) != string(digest) {
		return fmt.Errorf("hash mismatch: expected %s, got sha256:%s", expected, nixbase32.EncodeToString(digest))
	}
	return nil
}

// HashPath serialises the tree at path as a NAR and returns its hash in
// "sha256:<base16>" form together with the NAR size
func HashPath(path string) (string, int64, error) {
	h := sha256.New()
	cw := &countingWriter{w: h}
	if err := nar.DumpPath(cw, path); err != nil {
		return "", 0, fmt.Errorf("serialising %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), cw.n, nil
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
