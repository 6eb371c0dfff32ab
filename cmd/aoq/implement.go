package main

import (
	"fmt"
	"path/filepath"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/engine"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/spf13/cobra"
)

var implementRunDir string

var implementCmd = &cobra.Command{
	Use:   "implement",
	Short: "Run only the implement phase against an existing run",
	Long: `implement reads plan.json and the repo workspace recorded by a
prior "plan" invocation (see --run), runs every plan step through the
configured implementor, applies its mutations to the workspace, and
writes implementor.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if implementRunDir == "" {
			return fmt.Errorf("--run is required")
		}
		artifacts, runID, err := openRunDir(implementRunDir)
		if err != nil {
			return err
		}

		var plan engine.PlanArtifact
		if err := artifacts.ReadJSON(runID, artifact.KindPlan.Filename(), &plan); err != nil {
			return fmt.Errorf("read plan.json: %w", err)
		}
		var h handoff.Handoff
		if err := artifacts.ReadJSON(runID, artifact.KindHandoff.Filename(), &h); err != nil {
			return fmt.Errorf("read handoff.json: %w", err)
		}
		repoRoot := h.Run.Repo.Root
		if repoRoot == "" {
			return fmt.Errorf("run %s has no recorded repo root", runID)
		}

		_, implementor, _, _ := engine.LoadExternalConfigFromEnv().Executors()

		ctx := cmd.Context()
		var changed []string
		for _, step := range plan.Steps {
			result, err := implementor.ImplementStep(ctx, engine.StepContext{
				RunID:         runID,
				RepoRoot:      repoRoot,
				Plan:          plan,
				Step:          step,
				InjectedFiles: readFiles(repoRoot, plan.AllowedFiles),
				AllowedFiles:  plan.AllowedFiles,
			})
			if err != nil {
				return fmt.Errorf("implement step %s: %w", step.ID, err)
			}
			for _, m := range engine.MutationsFromStepResult(result) {
				if err := engine.ApplyMutation(ctx, repoRoot, m); err != nil {
					return fmt.Errorf("apply mutation for step %s: %w", step.ID, err)
				}
				changed = append(changed, m.Paths()...)
			}
		}

		diff, err := engine.DiffFiles(ctx, repoRoot, plan.AllowedFiles)
		if err != nil {
			return fmt.Errorf("diff: %w", err)
		}

		out := engine.ImplementorArtifact{ChangedFiles: changed, Diff: diff}
		if err := artifacts.WriteJSON(runID, artifact.KindImplementor.Filename(), out); err != nil {
			return fmt.Errorf("write implementor.json: %w", err)
		}
		fmt.Printf("wrote %s\n", filepath.Join(artifacts.RunDir(runID), artifact.KindImplementor.Filename()))
		return nil
	},
}

func init() {
	implementCmd.Flags().StringVar(&implementRunDir, "run", "", "Run directory produced by a prior plan invocation (required)")
	rootCmd.AddCommand(implementCmd)
}
