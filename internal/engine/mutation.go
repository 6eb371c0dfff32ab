package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Mutation models the implement phase's two equivalent edit paths — the
// implementor's proposed file actions and a unified diff — as one closed
// type, so application happens in one place regardless of which path an
// implementor response took (spec §9). Allowed-files enforcement covers the
// paths reported by Paths, which come from WriteFile and DeleteFile only.
type Mutation struct {
	WriteFile  *WriteFileMutation
	DeleteFile *DeleteFileMutation
	ApplyPatch *ApplyPatchMutation
}

// WriteFileMutation replaces path's content entirely.
type WriteFileMutation struct {
	Path    string
	Content string
}

// DeleteFileMutation removes path.
type DeleteFileMutation struct {
	Path string
}

// ApplyPatchMutation applies a unified diff via git apply.
type ApplyPatchMutation struct {
	Diff string
}

// MutationsFromStepResult converts an implementor's step result into the
// tagged-variant form. A diff and file actions are never combined; file
// actions take precedence if both are present since the implementor is
// expected to emit exactly one.
func MutationsFromStepResult(r ImplementorStepResult) []Mutation {
	if len(r.FileActions) > 0 {
		muts := make([]Mutation, 0, len(r.FileActions))
		for _, a := range r.FileActions {
			a := a
			if a.Delete {
				muts = append(muts, Mutation{DeleteFile: &DeleteFileMutation{Path: a.Path}})
			} else {
				muts = append(muts, Mutation{WriteFile: &WriteFileMutation{Path: a.Path, Content: a.Content}})
			}
		}
		return muts
	}
	if strings.TrimSpace(r.Diff) != "" {
		return []Mutation{{ApplyPatch: &ApplyPatchMutation{Diff: r.Diff}}}
	}
	return nil
}

// Paths returns every path a mutation touches, used for allowed-files
// enforcement. ApplyPatch mutations return no paths, so the files a patch
// touches are not checked against the allowed files.
func (m Mutation) Paths() []string {
	switch {
	case m.WriteFile != nil:
		return []string{m.WriteFile.Path}
	case m.DeleteFile != nil:
		return []string{m.DeleteFile.Path}
	default:
		return nil
	}
}

// ApplyMutation dispatches a single mutation against repoRoot. WriteFile
// and DeleteFile are applied directly; ApplyPatch shells out to git apply
// with --whitespace=nowarn --recount so partial-context patches from an LLM
// still apply.
func ApplyMutation(ctx context.Context, repoRoot string, m Mutation) error {
	switch {
	case m.WriteFile != nil:
		return writeFile(repoRoot, m.WriteFile.Path, m.WriteFile.Content)
	case m.DeleteFile != nil:
		return deleteFile(repoRoot, m.DeleteFile.Path)
	case m.ApplyPatch != nil:
		return applyPatch(ctx, repoRoot, m.ApplyPatch.Diff)
	default:
		return fmt.Errorf("mutation: empty variant")
	}
}

func writeFile(repoRoot, path, content string) error {
	full := filepath.Join(repoRoot, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mutation: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("mutation: write %s: %w", path, err)
	}
	return nil
}

func deleteFile(repoRoot, path string) error {
	full := filepath.Join(repoRoot, path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mutation: delete %s: %w", path, err)
	}
	return nil
}

func applyPatch(ctx context.Context, repoRoot, diff string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "apply", "--whitespace=nowarn", "--recount")
	cmd.Dir = repoRoot
	cmd.Stdin = strings.NewReader(diff)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("mutation: git apply timed out")
		}
		return fmt.Errorf("mutation: git apply: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
