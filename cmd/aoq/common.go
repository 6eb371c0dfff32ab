package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/config"
	"github.com/agentops/runqueue/internal/queue"
)

// loadConfig resolves the engine config from flags/env/project/home/defaults
// (internal/config.Load), folding in this process's global flags.
func loadConfig() (*config.Config, error) {
	overrides := &config.Config{
		Output:  GetOutput(),
		BaseDir: GetBaseDir(),
		Verbose: GetVerbose(),
	}
	return config.Load(overrides)
}

// newArtifactStore builds a Store rooted at cfg.BaseDir, applying the
// engine's runs_root/workspaces_root/queue_db_path overrides (each already
// defaulted to <base_dir>/... by the Config accessors when unset).
func newArtifactStore(cfg *config.Config) *artifact.Store {
	store := artifact.NewStore(cfg.BaseDir)
	store.RunsRootOverride = cfg.RunsRootPath()
	store.WorkspacesRootOverride = cfg.WorkspacesRootPath()
	store.QueueDBPathOverride = cfg.QueueDBFilePath()
	return store
}

// openStores provisions (if absent) and opens the artifact store and queue
// store a run-facing command needs, rooted at the resolved config's base
// directory.
func openStores(cfg *config.Config) (*artifact.Store, *queue.Store, error) {
	artifacts := newArtifactStore(cfg)
	if err := artifacts.Init(); err != nil {
		return nil, nil, fmt.Errorf("init artifact store: %w", err)
	}

	store, err := queue.Open(artifacts.QueueDBPath(), cfg.Engine.LeaseTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("open queue: %w", err)
	}
	return artifacts, store, nil
}

// openRunDir splits a run directory (as printed by "plan" or "run", shaped
// <root>/runs/<run_id>) back into its artifact store and run id, the form
// implement/review/test's --run flag expects.
func openRunDir(dir string) (*artifact.Store, string, error) {
	dir = filepath.Clean(dir)
	runID := filepath.Base(dir)
	root := filepath.Dir(filepath.Dir(dir))
	if runID == "" || runID == "." || runID == string(filepath.Separator) {
		return nil, "", fmt.Errorf("invalid run directory %q", dir)
	}
	artifacts := artifact.NewStore(root)
	if !artifacts.Exists(runID, artifact.KindTask.Filename()) {
		return nil, "", fmt.Errorf("no run found at %s", dir)
	}
	return artifacts, runID, nil
}

// readFiles reads each path (relative to repoRoot) into a map, silently
// skipping ones that cannot be read — the implementor sees whatever subset
// of the plan's allowed files actually exists on disk.
func readFiles(repoRoot string, paths []string) map[string]string {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(repoRoot, p))
		if err != nil {
			continue
		}
		out[p] = string(data)
	}
	return out
}
