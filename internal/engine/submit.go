package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/agentops/runqueue/internal/queue"
	"github.com/agentops/runqueue/internal/rpi"
)

// SubmitParams supplies everything a new run needs.
type SubmitParams struct {
	TaskPrompt       string
	RepoURL          string
	KeepWorkspace    bool
	BaseBranch       string
	MaxReviewRetries int
}

// Submit mints a run, writes its task and initial handoff, and enqueues the
// plan job (spec §4.4, C6). It returns the run id and, if the queue looks
// unworked, a non-fatal warning string.
func Submit(ctx context.Context, store *queue.Store, artifacts *artifact.Store, p SubmitParams) (runID string, warning string, err error) {
	if p.RepoURL == "" {
		return "", "", &ValidationError{Err: ErrRepoURLRequired}
	}

	runID = rpi.GenerateRunID()
	if err := artifacts.EnsureRunDir(runID); err != nil {
		return "", "", fmt.Errorf("submit %s: %w", runID, err)
	}

	task := handoff.Task{ID: runID, Prompt: p.TaskPrompt}
	if err := artifacts.WriteJSON(runID, artifact.KindTask.Filename(), task); err != nil {
		return "", "", fmt.Errorf("submit %s: write task.json: %w", runID, err)
	}

	run := handoff.Run{
		ID:        runID,
		CreatedAt: time.Now().UTC(),
		Repo: handoff.Repo{
			BaseBranch: p.BaseBranch,
			URL:        p.RepoURL,
		},
		KeepWorkspace: p.KeepWorkspace,
	}
	h := handoff.CreateQueued(handoff.CreateParams{
		Run:  run,
		Task: task,
		Next: &handoff.Next{
			Agent:          handoff.AgentPlanner,
			InputArtifacts: []string{artifact.KindTask.Filename()},
		},
		Artifacts:     map[string]string{"task": artifact.KindTask.Filename()},
		MaxIterations: p.MaxReviewRetries,
	})
	if err := artifacts.WriteJSON(runID, artifact.KindHandoff.Filename(), h); err != nil {
		return "", "", fmt.Errorf("submit %s: write handoff.json: %w", runID, err)
	}

	if _, err := store.Enqueue(ctx, runID, queue.PhasePlan); err != nil {
		return "", "", fmt.Errorf("submit %s: enqueue plan: %w", runID, err)
	}

	stats, err := store.Stats(ctx)
	if err == nil && stats.Queued > 0 && stats.InProgress == 0 && stats.LeaseCount == 0 {
		warning = "no active worker detected"
	}

	return runID, warning, nil
}

// warnNoWorker prints warning to stderr when non-empty, the CLI-facing half
// of Submit's informational check.
func warnNoWorker(warning string) {
	if warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
}
