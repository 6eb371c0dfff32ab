package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/config"
	"github.com/agentops/runqueue/internal/engine"
	"github.com/agentops/runqueue/internal/queue"
	"github.com/agentops/runqueue/internal/rpi"
	"github.com/spf13/cobra"
)

// workersDir holds one <owner>.pid file per running worker, keyed by lease
// owner id, so `cancel --force-kill` can find an OS process to signal.
const workersDir = "workers"

var workerOwner string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the claim/lease/dispatch loop until stopped",
	Long: `worker repeatedly recovers stale work, claims one queued job,
acquires its run's lease, dispatches it to the configured phase
executors, and acks the result. It runs until interrupted (SIGINT or
SIGTERM) and never returns normally otherwise.`,
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

		return runWorkerLoop(cmd.Context(), cfg, artifacts, store)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerOwner, "owner", "", "Owner id recorded on acquired leases (default: a generated id)")
	rootCmd.AddCommand(workerCmd)
}

// runWorkerLoop builds the configured external phase executors and runs the
// worker until ctx is cancelled or a termination signal arrives.
func runWorkerLoop(ctx context.Context, cfg *config.Config, artifacts *artifact.Store, store *queue.Store) error {
	owner := workerOwner
	if owner == "" {
		owner = rpi.GenerateRunID()
	}

	planner, implementor, reviewer, tester := engine.LoadExternalConfigFromEnv().Executors()

	w := engine.NewWorker(store, artifacts, owner, planner, implementor, reviewer, tester)
	w.PollInterval = cfg.Engine.PollInterval
	w.RequeueSleep = cfg.Engine.RequeueSleep
	w.HeartbeatInterval = cfg.Engine.HeartbeatInterval
	w.MaxAttempts = cfg.Engine.MaxAttempts
	w.MaxPlanRetries = cfg.Engine.MaxPlanRetries
	w.MaxImplementorRetries = cfg.Engine.MaxImplementorRetries
	w.MaxReviewRetries = cfg.Engine.MaxReviewRetries

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pidPath, err := writeWorkerPIDFile(cfg.BaseDir, owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %s: write pid file: %v\n", owner, err)
	} else {
		defer os.Remove(pidPath) //nolint:errcheck // best-effort cleanup
	}

	fmt.Fprintf(os.Stderr, "worker %s: starting\n", owner)
	return w.Run(sigCtx)
}

// writeWorkerPIDFile records this process's PID under <baseDir>/workers/<owner>.pid.
func writeWorkerPIDFile(baseDir, owner string) (string, error) {
	dir := filepath.Join(baseDir, workersDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, owner+".pid")
	return path, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}
