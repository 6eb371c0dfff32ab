package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentops/runqueue/internal/engine"
	"github.com/agentops/runqueue/internal/queue"
	"github.com/spf13/cobra"
)

var cancelForceKill bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <runId>",
	Short: "Cancel a run and release its lease",
	Long: `cancel marks every non-terminal job of a run cancelled, force-
releases its lease, and updates the handoff to status=cancelled.
Safe to repeat: the run stays cancelled. Whenever the handoff exists it
is rewritten to status=cancelled with a new history entry, including for
a run that had already completed.

--force-kill additionally best-effort signals the OS process of the
worker currently holding the run's lease, if one is discoverable. This
is a forceful fallback on top of, not a replacement for, the cooperative
database-level cancellation above.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		artifacts, store, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if cancelForceKill {
			forceKillLeaseHolder(cmd.Context(), cmd, cfg.BaseDir, store, runID)
		}

		if err := engine.Cancel(cmd.Context(), store, artifacts, runID); err != nil {
			return fmt.Errorf("cancel %s: %w", runID, err)
		}
		fmt.Printf("cancelled %s\n", runID)
		return nil
	},
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelForceKill, "force-kill", false, "Also best-effort signal the worker process holding this run's lease")
	rootCmd.AddCommand(cancelCmd)
}

// forceKillLeaseHolder looks up the run's current lease owner and, if a pid
// file for that owner exists under <baseDir>/workers/, sends SIGTERM. Errors
// are reported but never fail the command: this is a best-effort fallback,
// not the authoritative cancellation path.
func forceKillLeaseHolder(ctx context.Context, cmd *cobra.Command, baseDir string, store *queue.Store, runID string) {
	owner, lockedAt, ok, err := store.LeaseInfo(ctx, runID)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "force-kill: lease lookup: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "force-kill: run %s holds no lease\n", runID)
		return
	}

	pidPath := filepath.Join(baseDir, workersDir, owner+".pid")
	raw, err := os.ReadFile(pidPath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "force-kill: no pid file for lease owner %s (held since %s): %v\n",
			owner, lockedAt.Format(time.RFC3339), err)
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "force-kill: malformed pid file %s: %v\n", pidPath, err)
		return
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		fmt.Fprintf(cmd.ErrOrStderr(), "force-kill: signal pid %d: %v\n", pid, err)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "force-kill: sent SIGTERM to pid %d (owner %s)\n", pid, owner)
}
