// pkg/nix/types.go
package nix

// NARInfo contains metadata about a store path in a binary cache
type NARInfo struct {
	StorePath   string
	URL         string
	Compression string
	FileHash    string // "sha256:<nixbase32>" of the compressed file
	FileSize    int64
	NarHash     string // "sha256:<nixbase32>" of the NAR serialisation
	NarSize     int64
	References  []string // base names
	Deriver     string   // base name
	Signatures  []string
}

// pathInfo is one record of `nix path-info --json`. Older nix prints an
// array of these with Path set; newer nix prints an object keyed by path.
type pathInfo struct {
	Path       string   `json:"path,omitempty"`
	Valid      *bool    `json:"valid,omitempty"`
	NarHash    string   `json:"narHash"`
	NarSize    int64    `json:"narSize"`
	References []string `json:"references"`
	Deriver    *string  `json:"deriver"`
}
