// pkg/core/interface.go
package core

import "context"

// Resolver answers metadata queries against the build system's store.
// Implementations return an error wrapping ErrUnresolvedDependency when
// the identity is not known to the store.
type Resolver interface {
	// Resolve returns size and direct dependencies of an artifact
	Resolve(ctx context.Context, id ArtifactID) (*ArtifactInfo, error)
}

// Source gives read access to artifact payloads
type Source interface {
	// Materialize writes the artifact tree rooted at dest.
	// dest must not exist yet; symbolic links are copied as links and the
	// caller decides how to treat them.
	Materialize(ctx context.Context, id ArtifactID, dest string) error
}

// Store is a store that can both resolve and materialize artifacts
type Store interface {
	Resolver
	Source

	// Name identifies the store kind in logs (e.g. "local", "cache")
	Name() string
}
