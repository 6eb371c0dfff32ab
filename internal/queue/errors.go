package queue

import "errors"

// Sentinel errors for the queue package.
var (
	// ErrRunIDRequired is returned when an operation is given an empty run id.
	ErrRunIDRequired = errors.New("queue: run id is required")

	// ErrOwnerRequired is returned when a lease operation is given an empty owner.
	ErrOwnerRequired = errors.New("queue: owner is required")

	// ErrLeaseDenied names an unexpired lease held by another owner.
	// AcquireLease does not return it: it reports a denial as false with a
	// nil error.
	ErrLeaseDenied = errors.New("queue: lease denied")

	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("queue: job not found")
)
