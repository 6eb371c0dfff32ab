// Package rpi provides small git-workspace helpers shared by the queue
// engine: run ID generation and detached-HEAD recovery for a cloned
// workspace.
package rpi

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const detachedBranchSuffix = "-recovery"

// GenerateRunID creates an opaque, time-ordered run/owner identifier (a
// UUIDv7, whose leading bits encode creation time so ids sort the same way
// their runs were created).
func GenerateRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// GetRepoRoot returns the git repository root directory.
func GetRepoRoot(dir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git rev-parse timed out after %s", timeout)
		}
		return "", ErrNotGitRepo
	}
	return strings.TrimSpace(string(out)), nil
}

// GetCurrentBranch returns the current branch name, or an error for detached HEAD.
func GetCurrentBranch(repoRoot string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git rev-parse timed out after %s", timeout)
		}
		return "", fmt.Errorf("get current branch: %w", err)
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return "", ErrDetachedHEAD
	}
	return branch, nil
}

// EnsureAttachedBranch repairs detached HEAD state when possible by switching to
// a stable recovery branch. If recovery cannot be performed safely (for example,
// the branch is already checked out in another worktree), it returns the current
// state and no error so callers can continue in detached mode.
func EnsureAttachedBranch(repoRoot string, timeout time.Duration, branchPrefix string) (branch string, healed bool, err error) {
	branch, err = GetCurrentBranch(repoRoot, timeout)
	if err == nil {
		return branch, false, nil
	}
	if !errors.Is(err, ErrDetachedHEAD) {
		return "", false, err
	}

	preferred := resolveRecoveryBranch(branchPrefix)
	return attemptBranchHeal(repoRoot, timeout, preferred)
}

// resolveRecoveryBranch computes the recovery branch name from a prefix.
func resolveRecoveryBranch(branchPrefix string) string {
	prefix := strings.TrimSpace(branchPrefix)
	if prefix == "" {
		prefix = "queue/auto-plan"
	}
	prefix = strings.TrimSuffix(prefix, "-")
	return prefix + detachedBranchSuffix
}

// attemptBranchHeal tries to create and switch to the recovery branch.
func attemptBranchHeal(repoRoot string, timeout time.Duration, preferred string) (string, bool, error) {
	branchCreateOut, branchErr := runGitCreateBranch(repoRoot, timeout, "branch", "-f", preferred, "HEAD")
	if branchErr == nil {
		return attemptBranchSwitch(repoRoot, timeout, preferred)
	}

	branchCreateOut = strings.TrimSpace(branchCreateOut)
	if isBranchBusyInWorktree(branchCreateOut) {
		return "", false, nil
	}
	if branchCreateOut != "" {
		return "", false, fmt.Errorf("%w: %s", ErrDetachedSelfHealFailed, branchCreateOut)
	}
	return "", false, ErrDetachedSelfHealFailed
}

// attemptBranchSwitch tries to switch to a branch after creation.
func attemptBranchSwitch(repoRoot string, timeout time.Duration, preferred string) (string, bool, error) {
	switchOut, switchErr := runGitCreateBranch(repoRoot, timeout, "switch", preferred)
	if switchErr == nil {
		return preferred, true, nil
	}
	switchOut = strings.TrimSpace(switchOut)
	if isBranchBusyInWorktree(switchOut) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("%w: %s", ErrDetachedSelfHealFailed, switchOut)
}

func isBranchBusyInWorktree(message string) bool {
	if message == "" {
		return false
	}
	message = strings.ToLower(message)
	return strings.Contains(message, "used by worktree") || strings.Contains(message, "already used by worktree")
}

func runGitCreateBranch(repoRoot string, timeout time.Duration, subcommand string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmdArgs := append([]string{subcommand}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("git %s timed out after %s", subcommand, timeout)
	}
	return string(out), err
}
