// pkg/core/artifact.go
package core

import (
	"fmt"
	"path"
	"strings"

	"zombiezen.com/go/nix"
)

// ArtifactID is the base name of a store object ("<digest>-<name>").
// It is unique within a store and independent of the store directory,
// which is what lets the same closure be rendered under two prefixes.
type ArtifactID string

// ArtifactInfo is the metadata a store reports for one artifact
type ArtifactInfo struct {
	ID         ArtifactID   // Store object base name
	Size       int64        // NAR serialisation size in bytes
	NarHash    string       // "sha256:<base16>" or "sha256:<base32>", may be empty
	Deriver    ArtifactID   // Deriver base name (optional)
	References []ArtifactID // Direct dependencies, may include ID itself
}

// String returns the identity as-is
func (id ArtifactID) String() string {
	return string(id)
}

// Name returns the human readable part after the digest
func (id ArtifactID) Name() string {
	_, name, ok := strings.Cut(string(id), "-")
	if !ok {
		return string(id)
	}
	return name
}

// Path renders the identity under a store directory
func (id ArtifactID) Path(storeDir string) string {
	return path.Join(storeDir, string(id))
}

// ParseArtifactID accepts either a bare base name or a full store path
// under any directory and returns the base name. The digest/name syntax is
// validated against the default store directory since only the base name
// matters for validation.
func ParseArtifactID(s string) (ArtifactID, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "/")
	if s == "" {
		return "", fmt.Errorf("empty artifact identity")
	}
	base := path.Base(s)
	if _, err := nix.ParseStorePath(path.Join(string(nix.DefaultStoreDirectory), base)); err != nil {
		return "", fmt.Errorf("invalid artifact identity %q: %w", s, err)
	}
	return ArtifactID(base), nil
}

// StoreDir returns the store directory that belongs to a prefix ("/nix" -> "/nix/store")
func StoreDir(prefix string) string {
	return path.Join(prefix, "store")
}

// StateDir returns the state directory that belongs to a prefix ("/nix" -> "/nix/var/nix")
func StateDir(prefix string) string {
	return path.Join(prefix, "var", "nix")
}

// ConfDir returns the configuration directory that belongs to a prefix
func ConfDir(prefix string) string {
	return path.Join(prefix, "etc", "nix")
}
