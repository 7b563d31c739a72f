package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <task-id>",
	Short: "Add a task to the ready queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetEnabled(true),
}

var disableCmd = &cobra.Command{
	Use:   "disable <task-id>",
	Short: "Remove a task from the ready queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetEnabled(false),
}

func runSetEnabled(on bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}

		if err := setEnabled(baseURL, id, on); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "task %d: enabled=%t\n", id, on)

		return nil
	}
}
