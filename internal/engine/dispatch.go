package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/agentops/runqueue/internal/queue"
	"github.com/agentops/runqueue/internal/worker"
)

// ProcessJob reads the run's handoff, checks for cooperative cancellation,
// and dispatches to the phase handler named by job.Phase (spec §4.5).
func (w *Worker) ProcessJob(ctx context.Context, job *queue.Job) error {
	var h handoff.Handoff
	if err := w.Artifacts.ReadJSON(job.RunID, artifact.KindHandoff.Filename(), &h); err != nil {
		return &ValidationError{Artifact: "handoff", Err: err}
	}
	if h.State.Status == handoff.StatusCancelled {
		return ErrCancelled
	}

	switch job.Phase {
	case queue.PhasePlan:
		return w.processPlan(ctx, job, h)
	case queue.PhaseImplement:
		return w.processImplement(ctx, job, h)
	case queue.PhaseReview:
		return w.processReview(ctx, job, h)
	case queue.PhaseTest:
		return w.processTest(ctx, job, h)
	case queue.PhasePR:
		return w.processPR(ctx, job, h)
	default:
		return &ValidationError{Err: fmt.Errorf("unknown phase %q", job.Phase)}
	}
}

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (w *Worker) writeHandoff(runID string, h handoff.Handoff) error {
	return w.Artifacts.WriteJSON(runID, artifact.KindHandoff.Filename(), h)
}

// processPlan clones the repo, creates the work branch, invokes the
// external planner, and enqueues implement on success.
func (w *Worker) processPlan(ctx context.Context, job *queue.Job, h handoff.Handoff) error {
	if h.Run.Repo.URL == "" {
		return &ValidationError{Artifact: "handoff", Err: ErrRepoURLRequired}
	}

	repoRoot := w.Artifacts.WorkspaceDir(job.RunID)
	if _, err := os.Stat(repoRoot); err == nil {
		if err := w.Artifacts.RemoveWorkspace(job.RunID); err != nil {
			return &TransportError{Op: "remove stale workspace", Err: err}
		}
	}
	if err := os.MkdirAll(filepath.Dir(repoRoot), 0o700); err != nil {
		return &TransportError{Op: "create workspaces dir", Err: err}
	}
	if err := CloneRepo(ctx, h.Run.Repo.URL, repoRoot); err != nil {
		return &ExecutorError{Phase: "plan", Err: err}
	}

	baseBranch, err := ResolveBaseBranch(ctx, repoRoot, h.Run.Repo.BaseBranch, w.BranchPrefix)
	if err != nil {
		return &ExecutorError{Phase: "plan", Err: err}
	}
	branch, err := CreateWorkBranch(ctx, repoRoot, w.BranchPrefix, h.Task.Prompt, baseBranch)
	if err != nil {
		return &ExecutorError{Phase: "plan", Err: err}
	}
	h.Run.Repo.Root = repoRoot
	h.Run.Repo.Branch = branch
	h.Run.Repo.BaseBranch = baseBranch

	var plan PlanArtifact
	var planErr error
	for attempt := 1; attempt <= w.MaxPlanRetries; attempt++ {
		plan, planErr = w.Planner.Plan(ctx, PlanContext{RunID: job.RunID, TaskPrompt: h.Task.Prompt, RepoRoot: repoRoot})
		if planErr == nil {
			break
		}
	}
	if planErr != nil {
		_ = w.Artifacts.WriteJSON(job.RunID, artifact.KindPlan.ErrorFilename(), map[string]string{"error": planErr.Error()})
		return &ExecutorError{Phase: "plan", Err: planErr}
	}
	if err := w.Artifacts.WriteJSON(job.RunID, artifact.KindPlan.Filename(), plan); err != nil {
		return &TransportError{Op: "write plan.json", Err: err}
	}

	h.Constraints.RequireTestsForBehaviorChange = h.Constraints.RequireTestsForBehaviorChange || plan.RequiresTests()
	h = handoff.Update(h, handoff.UpdateParams{
		Phase:    handoff.PhasePlan,
		Status:   handoff.StatusCompleted,
		Artifact: artifact.KindPlan.Filename(),
		EndedAt:  nowStamp(),
		Next: &handoff.Next{
			Agent:          handoff.AgentImplementer,
			InputArtifacts: []string{artifact.KindPlan.Filename()},
		},
		Artifacts: map[string]string{"plan": artifact.KindPlan.Filename()},
	})
	h.Run.Repo = handoff.Repo{Root: repoRoot, Branch: branch, BaseBranch: baseBranch, URL: h.Run.Repo.URL}
	if err := w.writeHandoff(job.RunID, h); err != nil {
		return &TransportError{Op: "write handoff", Err: err}
	}
	if _, err := w.Store.Enqueue(ctx, job.RunID, queue.PhaseImplement); err != nil {
		return &TransportError{Op: "enqueue implement", Err: err}
	}
	return nil
}

func hasGlobMeta(s string) bool { return strings.ContainsAny(s, "*?[") }

// expandGlobs expands every glob-bearing entry in patterns against repoRoot,
// leaving plain (non-glob) entries untouched even if they don't exist yet.
func expandGlobs(repoRoot string, patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		if !hasGlobMeta(p) {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(repoRoot, p))
		if err != nil {
			return nil, fmt.Errorf("expand glob %q: %w", p, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(repoRoot, m)
			if err != nil {
				return nil, fmt.Errorf("relativize %q: %w", m, err)
			}
			out = append(out, rel)
		}
	}
	return out, nil
}

// expandStepGlobs expands any glob-bearing step.File into one step per
// match, synthesizing ids <original-id>-<n> for n > 1.
func expandStepGlobs(repoRoot string, steps []PlanStep) ([]PlanStep, error) {
	var out []PlanStep
	for _, step := range steps {
		if !hasGlobMeta(step.File) {
			out = append(out, step)
			continue
		}
		files, err := expandGlobs(repoRoot, []string{step.File})
		if err != nil {
			return nil, err
		}
		for n, f := range files {
			id := step.ID
			if n > 0 {
				id = fmt.Sprintf("%s-%d", step.ID, n+1)
			}
			out = append(out, PlanStep{ID: id, File: f})
		}
	}
	return out, nil
}

func readExistingFiles(repoRoot string, paths []string) map[string]string {
	pool := worker.NewPool[string](0)
	results := pool.Process(paths, func(path string) (string, error) {
		data, err := os.ReadFile(filepath.Join(repoRoot, path))
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	injected := make(map[string]string, len(paths))
	for i, r := range results {
		if r.Err == nil {
			injected[paths[i]] = r.Value
		}
	}
	return injected
}

// processImplement expands the plan's allowed files and steps, drives the
// external implementor one step at a time, and applies each resulting
// mutation, rejecting file actions whose paths fall outside the allowed
// files (a unified diff is applied without that check).
func (w *Worker) processImplement(ctx context.Context, job *queue.Job, h handoff.Handoff) error {
	repoRoot := h.Run.Repo.Root
	var plan PlanArtifact
	if err := w.Artifacts.ReadJSON(job.RunID, artifact.KindPlan.Filename(), &plan); err != nil {
		return &ValidationError{Artifact: "plan", Err: err}
	}

	allowedFiles, err := expandGlobs(repoRoot, plan.AllowedFiles)
	if err != nil {
		return &ValidationError{Artifact: "plan", Err: err}
	}
	allowedSet := make(map[string]bool, len(allowedFiles))
	for _, f := range allowedFiles {
		allowedSet[f] = true
	}
	steps, err := expandStepGlobs(repoRoot, plan.Steps)
	if err != nil {
		return &ValidationError{Artifact: "plan", Err: err}
	}

	injected := readExistingFiles(repoRoot, allowedFiles)
	changed := map[string]bool{}

	for _, step := range steps {
		var result ImplementorStepResult
		var stepErr error
		for attempt := 1; attempt <= w.MaxImplementorRetries; attempt++ {
			result, stepErr = w.Implementor.ImplementStep(ctx, StepContext{
				RunID:         job.RunID,
				RepoRoot:      repoRoot,
				Plan:          plan,
				Step:          step,
				InjectedFiles: injected,
				AllowedFiles:  allowedFiles,
			})
			if stepErr == nil {
				break
			}
			_ = w.Artifacts.WriteJSON(job.RunID, artifact.KindImplementor.FailedFilename(attempt),
				map[string]string{"step": step.ID, "error": stepErr.Error()})
		}
		if stepErr != nil {
			_ = w.Artifacts.WriteJSON(job.RunID, artifact.KindImplementor.ErrorFilename(),
				map[string]string{"step": step.ID, "error": stepErr.Error()})
			return &ExecutorError{Phase: "implement", Err: stepErr}
		}

		for _, mutation := range MutationsFromStepResult(result) {
			for _, path := range mutation.Paths() {
				if !allowedSet[path] {
					return &ValidationError{Artifact: "implementor", Err: fmt.Errorf("path %q outside allowed_files", path)}
				}
				changed[path] = true
			}
			if err := ApplyMutation(ctx, repoRoot, mutation); err != nil {
				return &ExecutorError{Phase: "implement", Err: err}
			}
		}

		injected = readExistingFiles(repoRoot, allowedFiles)
	}

	changedFiles := make([]string, 0, len(changed))
	for f := range changed {
		changedFiles = append(changedFiles, f)
	}
	diff, err := DiffFiles(ctx, repoRoot, changedFiles)
	if err != nil {
		return &ExecutorError{Phase: "implement", Err: err}
	}

	implementorArtifact := ImplementorArtifact{ChangedFiles: changedFiles, Diff: diff}
	if err := w.Artifacts.WriteJSON(job.RunID, artifact.KindImplementor.Filename(), implementorArtifact); err != nil {
		return &TransportError{Op: "write implementor.json", Err: err}
	}

	h = handoff.Update(h, handoff.UpdateParams{
		Phase:    handoff.PhaseImplement,
		Status:   handoff.StatusCompleted,
		Artifact: artifact.KindImplementor.Filename(),
		EndedAt:  nowStamp(),
		Next: &handoff.Next{
			Agent:          handoff.AgentReviewer,
			InputArtifacts: []string{artifact.KindPlan.Filename(), artifact.KindImplementor.Filename()},
		},
		Artifacts: map[string]string{"implementor": artifact.KindImplementor.Filename()},
	})
	if err := w.writeHandoff(job.RunID, h); err != nil {
		return &TransportError{Op: "write handoff", Err: err}
	}
	if _, err := w.Store.Enqueue(ctx, job.RunID, queue.PhaseReview); err != nil {
		return &TransportError{Op: "enqueue review", Err: err}
	}
	return nil
}

// processReview invokes the external reviewer and branches on its decision:
// approved moves to test, rejected retries implement within budget, blocked
// fails the run immediately.
func (w *Worker) processReview(ctx context.Context, job *queue.Job, h handoff.Handoff) error {
	repoRoot := h.Run.Repo.Root
	var plan PlanArtifact
	if err := w.Artifacts.ReadJSON(job.RunID, artifact.KindPlan.Filename(), &plan); err != nil {
		return &ValidationError{Artifact: "plan", Err: err}
	}
	var impl ImplementorArtifact
	if err := w.Artifacts.ReadJSON(job.RunID, artifact.KindImplementor.Filename(), &impl); err != nil {
		return &ValidationError{Artifact: "implementor", Err: err}
	}

	review, err := w.Reviewer.Review(ctx, ReviewContext{RunID: job.RunID, RepoRoot: repoRoot, Plan: plan, Implementor: impl})
	if err != nil {
		_ = w.Artifacts.WriteJSON(job.RunID, artifact.KindReview.ErrorFilename(), map[string]string{"error": err.Error()})
		return &ExecutorError{Phase: "review", Err: err}
	}
	if err := w.Artifacts.WriteJSON(job.RunID, artifact.KindReview.Filename(), review); err != nil {
		return &TransportError{Op: "write review.json", Err: err}
	}

	switch review.Decision {
	case ReviewApproved:
		h = handoff.Update(h, handoff.UpdateParams{
			Phase:    handoff.PhaseReview,
			Status:   handoff.StatusCompleted,
			Artifact: artifact.KindReview.Filename(),
			EndedAt:  nowStamp(),
			Next: &handoff.Next{
				Agent:          handoff.AgentTester,
				InputArtifacts: []string{artifact.KindPlan.Filename(), artifact.KindImplementor.Filename()},
			},
			Artifacts: map[string]string{"review": artifact.KindReview.Filename()},
		})
		if err := w.writeHandoff(job.RunID, h); err != nil {
			return &TransportError{Op: "write handoff", Err: err}
		}
		if _, err := w.Store.Enqueue(ctx, job.RunID, queue.PhaseTest); err != nil {
			return &TransportError{Op: "enqueue test", Err: err}
		}
		return nil

	case ReviewRejected:
		reason := fmt.Sprintf("Reviewer rejected: %s", strings.Join(review.Reasons, "; "))
		if h.State.Iteration >= h.State.MaxIterations {
			h = handoff.Update(h, handoff.UpdateParams{
				Phase:    handoff.PhaseReview,
				Status:   handoff.StatusFailed,
				Artifact: artifact.KindReview.Filename(),
				EndedAt:  nowStamp(),
				Next:     nil,
				Note:     reason,
			})
			if err := w.writeHandoff(job.RunID, h); err != nil {
				return &TransportError{Op: "write handoff", Err: err}
			}
			return &ExecutorError{Phase: "review", Err: fmt.Errorf("%w: %s", ErrReviewBudgetExhausted, reason)}
		}
		h.State.Iteration++
		h = handoff.Update(h, handoff.UpdateParams{
			Phase:    handoff.PhaseReview,
			Status:   handoff.StatusInProgress,
			Artifact: artifact.KindReview.Filename(),
			EndedAt:  nowStamp(),
			Next: &handoff.Next{
				Agent:          handoff.AgentImplementer,
				InputArtifacts: []string{artifact.KindPlan.Filename(), artifact.KindReview.Filename()},
			},
			Note: reason,
		})
		if err := w.writeHandoff(job.RunID, h); err != nil {
			return &TransportError{Op: "write handoff", Err: err}
		}
		if _, err := w.Store.Enqueue(ctx, job.RunID, queue.PhaseImplement); err != nil {
			return &TransportError{Op: "enqueue implement", Err: err}
		}
		return nil

	case ReviewBlocked:
		reason := fmt.Sprintf("Reviewer blocked: %s", strings.Join(review.Reasons, "; "))
		h = handoff.Update(h, handoff.UpdateParams{
			Phase:    handoff.PhaseReview,
			Status:   handoff.StatusFailed,
			Artifact: artifact.KindReview.Filename(),
			EndedAt:  nowStamp(),
			Next:     nil,
			Note:     reason,
		})
		if err := w.writeHandoff(job.RunID, h); err != nil {
			return &TransportError{Op: "write handoff", Err: err}
		}
		return &ExecutorError{Phase: "review", Err: fmt.Errorf("%w: %s", ErrReviewBlocked, reason)}

	default:
		return &ValidationError{Artifact: "review", Err: fmt.Errorf("unknown decision %q", review.Decision)}
	}
}

// processTest skips straight to pr when the plan never required a
// behavior-changing test, otherwise runs the external tester.
func (w *Worker) processTest(ctx context.Context, job *queue.Job, h handoff.Handoff) error {
	repoRoot := h.Run.Repo.Root
	var test TestArtifact

	if !h.Constraints.RequireTestsForBehaviorChange {
		test = TestArtifact{Status: TestPassed, Output: "skipped: no behavior-changing tasks in plan"}
	} else {
		var plan PlanArtifact
		if err := w.Artifacts.ReadJSON(job.RunID, artifact.KindPlan.Filename(), &plan); err != nil {
			return &ValidationError{Artifact: "plan", Err: err}
		}
		result, err := w.Tester.Test(ctx, TestContext{
			RunID:         job.RunID,
			RepoRoot:      repoRoot,
			TestCommand:   plan.TestCommand,
			TestFramework: plan.TestFramework,
		})
		if err != nil {
			_ = w.Artifacts.WriteJSON(job.RunID, artifact.KindTest.ErrorFilename(), map[string]string{"error": err.Error()})
			return &ExecutorError{Phase: "test", Err: err}
		}
		test = result
	}

	if err := w.Artifacts.WriteJSON(job.RunID, artifact.KindTest.Filename(), test); err != nil {
		return &TransportError{Op: "write test.json", Err: err}
	}

	if test.Status != TestPassed {
		h = handoff.Update(h, handoff.UpdateParams{
			Phase:    handoff.PhaseTest,
			Status:   handoff.StatusFailed,
			Artifact: artifact.KindTest.Filename(),
			EndedAt:  nowStamp(),
			Next:     nil,
			Note:     fmt.Sprintf("tests did not pass: %s", test.Output),
		})
		if err := w.writeHandoff(job.RunID, h); err != nil {
			return &TransportError{Op: "write handoff", Err: err}
		}
		return &ExecutorError{Phase: "test", Err: ErrTestFailed}
	}

	h = handoff.Update(h, handoff.UpdateParams{
		Phase:     handoff.PhaseTest,
		Status:    handoff.StatusCompleted,
		Artifact:  artifact.KindTest.Filename(),
		EndedAt:   nowStamp(),
		Next:      nil,
		Artifacts: map[string]string{"test": artifact.KindTest.Filename()},
	})
	if err := w.writeHandoff(job.RunID, h); err != nil {
		return &TransportError{Op: "write handoff", Err: err}
	}
	if _, err := w.Store.Enqueue(ctx, job.RunID, queue.PhasePR); err != nil {
		return &TransportError{Op: "enqueue pr", Err: err}
	}
	return nil
}

// processPR writes the terminal pr-draft artifact and, unless the run asked
// to keep its workspace, removes it.
func (w *Worker) processPR(ctx context.Context, job *queue.Job, h handoff.Handoff) error {
	_ = ctx
	draft := PRDraft{
		TaskID: h.Task.ID,
		Status: "ready_for_review",
		Repo: PRRepo{
			Root:       h.Run.Repo.Root,
			Branch:     h.Run.Repo.Branch,
			BaseBranch: h.Run.Repo.BaseBranch,
		},
	}
	if err := w.Artifacts.WriteJSON(job.RunID, artifact.KindPRDraft.Filename(), draft); err != nil {
		return &TransportError{Op: "write pr-draft.json", Err: err}
	}

	h = handoff.Update(h, handoff.UpdateParams{
		Phase:     handoff.PhasePR,
		Status:    handoff.StatusCompleted,
		Artifact:  artifact.KindPRDraft.Filename(),
		EndedAt:   nowStamp(),
		Next:      nil,
		Artifacts: map[string]string{"pr-draft": artifact.KindPRDraft.Filename()},
	})
	if err := w.writeHandoff(job.RunID, h); err != nil {
		return &TransportError{Op: "write handoff", Err: err}
	}

	if !h.Run.KeepWorkspace {
		if err := w.Artifacts.RemoveWorkspace(job.RunID); err != nil {
			return &TransportError{Op: "remove workspace", Err: err}
		}
	}
	return nil
}
