package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aggregate scheduler load",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := fetchStatus(baseURL)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run: %s\ntasks: %d\nsystem load: %.1f%%\n", status.RunID, status.TaskCount, status.SystemLoadPercent)

	return nil
}
