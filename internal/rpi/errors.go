package rpi

import "errors"

// Sentinel errors for the rpi package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrDetachedHEAD is returned when a workspace operation requires a named branch
	// but the repository is in detached HEAD state.
	ErrDetachedHEAD = errors.New("detached HEAD: workspace requires a named branch")

	// ErrDetachedSelfHealFailed is returned when the automatic recovery from
	// detached HEAD state fails.
	ErrDetachedSelfHealFailed = errors.New("detached HEAD self-heal failed")

	// ErrNotGitRepo is returned when a command is run outside a git repository.
	ErrNotGitRepo = errors.New("not a git repository")
)
