package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/formatter"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/agentops/runqueue/internal/queue"
	"github.com/spf13/cobra"
)

var (
	statusWatch    bool
	statusInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status [runId]",
	Short: "Show a run's current phase, status, and history",
	Long: `status prints state.{phase,status} and the most recent history
entry for one run, or a table of every run when no run id is given.

--watch re-renders on an interval (--interval milliseconds, default 1000)
until interrupted, refreshing from the handoff document and the run's
lease heartbeat each pass.`,
	Args: cobra.MaximumNArgs(1),
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

		var runID string
		if len(args) == 1 {
			runID = args[0]
		}

		render := func() error {
			if runID != "" {
				return printRunStatus(cmd.Context(), artifacts, store, runID)
			}
			return printAllRunsStatus(cmd.Context(), artifacts, store)
		}

		if !statusWatch {
			return render()
		}

		interval := time.Duration(statusInterval) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			fmt.Print("\033[H\033[2J")
			if err := render(); err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Continuously refresh until interrupted")
	statusCmd.Flags().IntVar(&statusInterval, "interval", 1000, "Refresh interval in milliseconds, with --watch")
	rootCmd.AddCommand(statusCmd)
}

func printRunStatus(ctx context.Context, artifacts *artifact.Store, store *queue.Store, runID string) error {
	var h handoff.Handoff
	if err := artifacts.ReadJSON(runID, artifact.KindHandoff.Filename(), &h); err != nil {
		return fmt.Errorf("read handoff for %s: %w", runID, err)
	}

	table := formatter.NewTable(os.Stdout, "field", "value")
	table.AddRow("run", runID)
	table.AddRow("phase", string(h.State.Phase))
	table.AddRow("status", string(h.State.Status))
	table.AddRow("iteration", fmt.Sprintf("%d/%d", h.State.Iteration, h.State.MaxIterations))

	if last, ok := handoff.LastHistory(h); ok {
		table.AddRow("last phase", string(last.Phase))
		table.AddRow("last status", string(last.Status))
		table.AddRow("last ended", last.EndedAt)
	}

	table.AddRow("lease", describeLease(ctx, store, runID))
	return table.Render()
}

// describeLease reports the lease owner and how long ago its heartbeat last
// touched locked_at, the run heartbeat supplement `status --watch` surfaces.
func describeLease(ctx context.Context, store *queue.Store, runID string) string {
	owner, lockedAt, ok, err := store.LeaseInfo(ctx, runID)
	if err != nil {
		return fmt.Sprintf("unknown (%v)", err)
	}
	if !ok {
		return "none"
	}
	return fmt.Sprintf("%s (last heartbeat %s ago)", owner, time.Since(lockedAt).Round(time.Second))
}

func printAllRunsStatus(ctx context.Context, artifacts *artifact.Store, store *queue.Store) error {
	ids, err := artifacts.ListRunIDs()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	stats, err := store.Stats(ctx)
	if err == nil {
		fmt.Printf("queue: %d queued, %d in progress, %d leased\n\n", stats.Queued, stats.InProgress, stats.LeaseCount)
	}

	table := formatter.NewTable(os.Stdout, "run", "phase", "status", "lease")
	for _, runID := range ids {
		var h handoff.Handoff
		if err := artifacts.ReadJSON(runID, artifact.KindHandoff.Filename(), &h); err != nil {
			table.AddRow(runID, "?", "?", "?")
			continue
		}
		table.AddRow(runID, string(h.State.Phase), string(h.State.Status), describeLease(ctx, store, runID))
	}
	return table.Render()
}
