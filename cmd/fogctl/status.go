package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fogdispatch/pkg/config"
)

// statusCmd demonstrates the Status half of the in-process Engine API
// (spec §6). Task state does not survive a process restart (spec §1's
// persistence non-goal), so this only ever reports not-found when run as
// a separate process from the one that submitted the task -- it exists to
// complete the documented CLI surface, not as a standalone query tool.
var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Query a task's status (only meaningful within the submitting process)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	taskID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	e, cleanup, err := buildEngine(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	task, ok := e.Status(taskID)
	if !ok {
		fmt.Printf("task %s not found\n", taskID)
		return nil
	}
	return printResult(task)
}
