package artifact

import "errors"

// Sentinel errors for the artifact package.
var (
	// ErrRunIDRequired is returned when an operation is given an empty run id.
	ErrRunIDRequired = errors.New("artifact: run id is required")

	// ErrArtifactNotFound is returned when a requested artifact file does not exist.
	ErrArtifactNotFound = errors.New("artifact: not found")
)
