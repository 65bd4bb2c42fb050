// pkg/core/errors.go
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedDependency indicates the store cannot resolve an identity
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrCycleDetected indicates the dependency relation is not a DAG
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrEmptyClosure indicates there is nothing to package
	ErrEmptyClosure = errors.New("empty closure")

	// ErrSourceUnavailable indicates an artifact payload could not be copied
	ErrSourceUnavailable = errors.New("source artifact unavailable")

	// ErrArchitectureMismatch indicates the archive targets another machine
	ErrArchitectureMismatch = errors.New("architecture mismatch")

	// ErrStagingBusy indicates another run holds the staging directory
	ErrStagingBusy = errors.New("staging directory is in use")

	// ErrUnknownArchitecture indicates an unsupported architecture selector
	ErrUnknownArchitecture = errors.New("unknown architecture")

	// ErrInvalidConfig indicates the configuration failed validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error wraps an error with additional context
type Error struct {
	Op       string     // Operation that failed
	Artifact ArtifactID // Artifact if applicable
	Err      error      // Underlying error
}

func (e *Error) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Artifact, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
