package main

import (
	"fmt"
	"time"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/engine"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/agentops/runqueue/internal/rpi"
	"github.com/spf13/cobra"
)

var (
	planRepoURL string
	planBranch  string
)

var planCmd = &cobra.Command{
	Use:   "plan <task>",
	Short: "Run only the plan phase against a task",
	Long: `plan mints a run directory outside the queue (task.json,
handoff.json, and plan.json only): it clones --repo, creates the run's
work branch, and invokes the configured planner. Unlike "run", it never
enqueues a job, so nothing happens until implement/review/test are
invoked by hand against the printed run directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if planRepoURL == "" {
			return fmt.Errorf("--repo is required")
		}
		artifacts := newArtifactStore(cfg)
		if err := artifacts.Init(); err != nil {
			return fmt.Errorf("init artifact store: %w", err)
		}

		prompt, err := engine.ResolveTaskPrompt(args[0])
		if err != nil {
			return fmt.Errorf("resolve task: %w", err)
		}

		ctx := cmd.Context()
		runID := rpi.GenerateRunID()
		repoRoot := artifacts.WorkspaceDir(runID)
		if err := engine.CloneRepo(ctx, planRepoURL, repoRoot); err != nil {
			return fmt.Errorf("clone %s: %w", planRepoURL, err)
		}
		baseBranch, err := engine.ResolveBaseBranch(ctx, repoRoot, planBranch, engine.DefaultBranchPrefix)
		if err != nil {
			return fmt.Errorf("resolve base branch: %w", err)
		}
		branch, err := engine.CreateWorkBranch(ctx, repoRoot, engine.DefaultBranchPrefix, prompt, baseBranch)
		if err != nil {
			return fmt.Errorf("create work branch: %w", err)
		}

		planner, _, _, _ := engine.LoadExternalConfigFromEnv().Executors()
		plan, err := planner.Plan(ctx, engine.PlanContext{RunID: runID, TaskPrompt: prompt, RepoRoot: repoRoot})
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}

		task := handoff.Task{ID: runID, Prompt: prompt}
		if err := artifacts.WriteJSON(runID, artifact.KindTask.Filename(), task); err != nil {
			return fmt.Errorf("write task.json: %w", err)
		}
		h := handoff.CreateQueued(handoff.CreateParams{
			Run: handoff.Run{
				ID:        runID,
				CreatedAt: time.Now().UTC(),
				Repo:      handoff.Repo{Root: repoRoot, Branch: branch, BaseBranch: baseBranch, URL: planRepoURL},
			},
			Task: task,
		})
		h.Constraints.RequireTestsForBehaviorChange = plan.RequiresTests()
		h = handoff.Update(h, handoff.UpdateParams{
			Phase:     handoff.PhasePlan,
			Status:    handoff.StatusCompleted,
			Artifact:  artifact.KindPlan.Filename(),
			EndedAt:   time.Now().UTC().Format(time.RFC3339Nano),
			Next:      &handoff.Next{Agent: handoff.AgentImplementer, InputArtifacts: []string{artifact.KindPlan.Filename()}},
			Artifacts: map[string]string{"plan": artifact.KindPlan.Filename()},
		})
		if err := artifacts.WriteJSON(runID, artifact.KindHandoff.Filename(), h); err != nil {
			return fmt.Errorf("write handoff.json: %w", err)
		}
		if err := artifacts.WriteJSON(runID, artifact.KindPlan.Filename(), plan); err != nil {
			return fmt.Errorf("write plan.json: %w", err)
		}

		fmt.Println(artifacts.RunDir(runID))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planRepoURL, "repo", "", "Git URL to clone for this run (required)")
	planCmd.Flags().StringVar(&planBranch, "branch", "", "Base branch to branch from (default: repo's detected default)")
	rootCmd.AddCommand(planCmd)
}
