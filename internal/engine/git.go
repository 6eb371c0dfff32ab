package engine

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agentops/runqueue/internal/rpi"
)

const gitTimeout = 2 * time.Minute

// CloneRepo clones url into dest. dest's parent must already exist; dest
// itself must not.
func CloneRepo(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	out, err := runGit(ctx, "", "clone", url, dest)
	if err != nil {
		return fmt.Errorf("clone %s: %w: %s", url, err, out)
	}
	return nil
}

// ResolveBaseBranch prefers the caller-supplied branch, then main, then
// master, then the repo's current HEAD. A clone can land in detached HEAD
// (e.g. the remote's default branch points at a tag, or a shallow clone of
// a non-branch ref); when it does, this self-heals the workspace onto a
// recovery branch the same way rpi.EnsureAttachedBranch does for any other
// detached-HEAD workspace, using branchPrefix to name that branch.
func ResolveBaseBranch(ctx context.Context, repoRoot, preferred, branchPrefix string) (string, error) {
	if preferred != "" {
		return preferred, nil
	}
	for _, candidate := range []string{"main", "master"} {
		ctx, cancel := context.WithTimeout(ctx, gitTimeout)
		_, err := runGit(ctx, repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+candidate)
		cancel()
		if err == nil {
			return candidate, nil
		}
	}

	branch, _, err := rpi.EnsureAttachedBranch(repoRoot, gitTimeout, branchPrefix)
	if err != nil {
		return "", err
	}
	if branch != "" {
		return branch, nil
	}

	// EnsureAttachedBranch declined to heal (e.g. the recovery branch name
	// is already checked out in another worktree) and left the workspace
	// detached; fall back to the commit itself, a valid base ref for the
	// work branch that follows.
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	sha, err := runGit(ctx, repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve detached HEAD commit: %w: %s", err, sha)
	}
	return sha, nil
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses non-alphanumeric runs to single
// hyphens, trimmed of leading/trailing hyphens, capped at 48 characters —
// used to build the work branch name <prefix>/<slug(task.prompt)>.
func Slugify(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	slug := slugNonAlnum.ReplaceAllString(lowered, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	if slug == "" {
		slug = "run"
	}
	return slug
}

// CreateWorkBranch creates and checks out a new branch named
// prefix/slug(prompt), based on baseBranch.
func CreateWorkBranch(ctx context.Context, repoRoot, prefix, prompt, baseBranch string) (string, error) {
	branch := prefix + "/" + Slugify(prompt)

	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	if out, err := runGit(ctx, repoRoot, "checkout", "-b", branch, baseBranch); err != nil {
		return "", fmt.Errorf("create branch %s from %s: %w: %s", branch, baseBranch, err, out)
	}
	return branch, nil
}

// DiffFiles returns the unified diff for the given paths against the
// working tree's last commit, used to build implementor.json's merged
// diff after all plan steps have been applied.
func DiffFiles(ctx context.Context, repoRoot string, paths []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	args := append([]string{"diff", "--"}, paths...)
	out, err := runGit(ctx, repoRoot, args...)
	if err != nil {
		return "", fmt.Errorf("diff: %w: %s", err, out)
	}
	return out, nil
}

// RemoveWorkspace is implemented by the artifact store; this file only
// owns git subprocess plumbing. See artifact.Store.RemoveWorkspace.

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("git %s timed out", strings.Join(args, " "))
	}
	return strings.TrimSpace(string(out)), err
}

// JoinRepoPath resolves a repo-relative path against repoRoot.
func JoinRepoPath(repoRoot, relative string) string {
	return filepath.Join(repoRoot, relative)
}
