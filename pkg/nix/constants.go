// pkg/nix/constants.go
package nix

const (
	// CompressionXZ uses xz compression
	CompressionXZ = "xz"

	// CompressionBZip2 uses bzip2 compression
	CompressionBZip2 = "bzip2"

	// CompressionZstd uses zstd compression
	CompressionZstd = "zstd"

	// CompressionNone uses no compression
	CompressionNone = "none"

	// cacheInfoFile marks the root of a binary cache directory
	cacheInfoFile = "nix-cache-info"

	// experimentalFeatures enables `nix path-info` on installs that still
	// gate the new CLI
	experimentalFeatures = "nix-command"
)
