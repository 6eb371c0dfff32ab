package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
	baseDir string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aoq",
	Short: "Durable queue for the plan/implement/review/test/pr pipeline",
	Long: `aoq drives a durable, multi-worker job queue through a five-phase
pipeline: plan, implement, review, test, pr. Jobs survive process
restarts; progress for a run is recorded in an append-only handoff
document under its run directory.

Submit work:
  run          Submit a task against a repo and enqueue its plan phase
  worker       Run the claim/lease/dispatch loop until stopped
  status       Show a run's current phase, status, and history
  cancel       Cancel a run and release its lease

Single-phase invocation:
  plan         Run only the plan phase against a task
  implement    Run only the implement phase against an existing run
  review       Run only the review phase against an existing run
  test         Run only the test phase against an existing run

  init         Provision the runs/workspaces/queue directories
  version      Show version information`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Project config file (default: ./.agentops/config.yaml; ~/.agentops/config.yaml is always read beneath it)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "Root directory for runs/, workspaces/, and queue.db (default: .agents/aoq)")
}

// GetBaseDir returns the base-dir flag value for use by subcommands.
func GetBaseDir() string {
	return baseDir
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool {
	return dryRun
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// GetConfigFile returns the config file path for use by subcommands.
func GetConfigFile() string {
	return cfgFile
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("AGENTOPS_CONFIG", path)
}

// GetCurrentUser returns the current system username.
// Uses os/user package for reliable identity, not spoofable via env vars.
func GetCurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
