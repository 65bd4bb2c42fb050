// errors.go
package reloc

import "github.com/arc-language/reloc/pkg/core"

var (
	// ErrUnresolvedDependency indicates the store cannot resolve an identity
	ErrUnresolvedDependency = core.ErrUnresolvedDependency

	// ErrCycleDetected indicates the dependency relation is not a DAG
	ErrCycleDetected = core.ErrCycleDetected

	// ErrEmptyClosure indicates there is nothing to package
	ErrEmptyClosure = core.ErrEmptyClosure

	// ErrSourceUnavailable indicates an artifact payload could not be copied
	ErrSourceUnavailable = core.ErrSourceUnavailable

	// ErrArchitectureMismatch indicates the archive targets another machine
	ErrArchitectureMismatch = core.ErrArchitectureMismatch

	// ErrStagingBusy indicates another run holds the staging directory
	ErrStagingBusy = core.ErrStagingBusy

	// ErrUnknownArchitecture indicates an unsupported architecture selector
	ErrUnknownArchitecture = core.ErrUnknownArchitecture

	// ErrInvalidConfig indicates the configuration failed validation
	ErrInvalidConfig = core.ErrInvalidConfig
)

// Error wraps an error with the operation and artifact it concerns
type Error = core.Error
