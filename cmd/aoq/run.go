package main

import (
	"fmt"

	"github.com/agentops/runqueue/internal/engine"
	"github.com/spf13/cobra"
)

var (
	runRepoURL       string
	runKeepWorkspace bool
	runBranch        string
	runStartWorker   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Submit a task and enqueue its plan phase",
	Long: `run mints a new run id, resolves the task argument (a literal
string, a .md file, or a .json file per the task-input contract), writes
its task and initial handoff documents, and enqueues the plan phase.

It prints the run id and returns immediately; it does not wait for the
run to finish. Pass --start-worker to also run a worker loop in this
same process after submitting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		artifacts, store, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		prompt, err := engine.ResolveTaskPrompt(args[0])
		if err != nil {
			return fmt.Errorf("resolve task: %w", err)
		}

		runID, warning, err := engine.Submit(cmd.Context(), store, artifacts, engine.SubmitParams{
			TaskPrompt:       prompt,
			RepoURL:          runRepoURL,
			KeepWorkspace:    runKeepWorkspace,
			BaseBranch:       runBranch,
			MaxReviewRetries: cfg.Engine.MaxReviewRetries,
		})
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}

		fmt.Println(runID)
		if warning != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
		}

		if !runStartWorker {
			return nil
		}
		return runWorkerLoop(cmd.Context(), cfg, artifacts, store)
	},
}

func init() {
	runCmd.Flags().StringVar(&runRepoURL, "repo", "", "Git URL to clone for this run (required)")
	runCmd.Flags().BoolVar(&runKeepWorkspace, "keep-workspace", false, "Keep the cloned workspace after the pr phase")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "Base branch to branch from (default: repo's detected default)")
	runCmd.Flags().BoolVar(&runStartWorker, "start-worker", false, "Run a worker loop in this process after submitting")
	_ = runCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(runCmd)
}
