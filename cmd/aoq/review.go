package main

import (
	"fmt"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/engine"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/spf13/cobra"
)

var reviewRunDir string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run only the review phase against an existing run",
	Long: `review reads plan.json and implementor.json for a run (see
--run), invokes the configured reviewer, and writes review.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reviewRunDir == "" {
			return fmt.Errorf("--run is required")
		}
		artifacts, runID, err := openRunDir(reviewRunDir)
		if err != nil {
			return err
		}

		var plan engine.PlanArtifact
		if err := artifacts.ReadJSON(runID, artifact.KindPlan.Filename(), &plan); err != nil {
			return fmt.Errorf("read plan.json: %w", err)
		}
		var implemented engine.ImplementorArtifact
		if err := artifacts.ReadJSON(runID, artifact.KindImplementor.Filename(), &implemented); err != nil {
			return fmt.Errorf("read implementor.json: %w", err)
		}
		var h handoff.Handoff
		if err := artifacts.ReadJSON(runID, artifact.KindHandoff.Filename(), &h); err != nil {
			return fmt.Errorf("read handoff.json: %w", err)
		}

		_, _, reviewer, _ := engine.LoadExternalConfigFromEnv().Executors()
		out, err := reviewer.Review(cmd.Context(), engine.ReviewContext{
			RunID:       runID,
			RepoRoot:    h.Run.Repo.Root,
			Plan:        plan,
			Implementor: implemented,
		})
		if err != nil {
			return fmt.Errorf("review: %w", err)
		}
		if err := artifacts.WriteJSON(runID, artifact.KindReview.Filename(), out); err != nil {
			return fmt.Errorf("write review.json: %w", err)
		}
		fmt.Printf("decision: %s\n", out.Decision)
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRunDir, "run", "", "Run directory produced by a prior plan invocation (required)")
	rootCmd.AddCommand(reviewCmd)
}
