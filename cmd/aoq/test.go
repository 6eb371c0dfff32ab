package main

import (
	"fmt"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/engine"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/spf13/cobra"
)

var testRunDir string

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run only the test phase against an existing run",
	Long: `test reads plan.json's test command/framework for a run (see
--run), invokes the configured tester against its repo workspace, and
writes test.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if testRunDir == "" {
			return fmt.Errorf("--run is required")
		}
		artifacts, runID, err := openRunDir(testRunDir)
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

		_, _, _, tester := engine.LoadExternalConfigFromEnv().Executors()
		out, err := tester.Test(cmd.Context(), engine.TestContext{
			RunID:         runID,
			RepoRoot:      h.Run.Repo.Root,
			TestCommand:   plan.TestCommand,
			TestFramework: plan.TestFramework,
		})
		if err != nil {
			return fmt.Errorf("test: %w", err)
		}
		if err := artifacts.WriteJSON(runID, artifact.KindTest.Filename(), out); err != nil {
			return fmt.Errorf("write test.json: %w", err)
		}
		fmt.Printf("status: %s\n", out.Status)
		return nil
	},
}

func init() {
	testCmd.Flags().StringVar(&testRunDir, "run", "", "Run directory produced by a prior plan invocation (required)")
	rootCmd.AddCommand(testCmd)
}
