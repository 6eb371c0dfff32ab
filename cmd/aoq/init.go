package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provision the runs/workspaces/queue directories",
	Long: `init creates <base-dir>/runs, <base-dir>/workspaces, and an empty
migrated queue.db, so that run/worker/status/cancel have somewhere to
write before the first submission.`,
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

		fmt.Printf("initialized %s\n", cfg.BaseDir)
		fmt.Printf("  runs:       %s\n", artifacts.RunDir(""))
		fmt.Printf("  workspaces: %s\n", artifacts.WorkspaceDir(""))
		fmt.Printf("  queue:      %s\n", artifacts.QueueDBPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
