package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule <task-id> <period-us>",
	Short: "Change a task's desired period",
	Args:  cobra.ExactArgs(2),
	RunE:  runReschedule,
}

func runReschedule(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", args[0], err)
	}

	periodUs, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid period %q: %w", args[1], err)
	}

	if err := reschedule(baseURL, id, periodUs); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "task %d: period=%dus\n", id, periodUs)

	return nil
}
