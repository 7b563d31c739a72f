package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List scheduler tasks and their statistics",
	RunE:  runTasks,
}

func runTasks(cmd *cobra.Command, args []string) error {
	tasks, err := fetchTasks(baseURL)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tNAME\tENABLED\tPERIOD(us)\tPRIORITY\tAVG_EXEC(us)\tMAX_EXEC(us)\tTOTAL(us)")

	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%d\t%.1f\t%d\t%d\n",
			t.ID, t.Name, t.Enabled, t.DesiredPeriodUs, t.StaticPriority,
			t.AverageExecutionTimeUs, t.MaxExecutionTimeUs, t.TotalExecutionTimeUs,
		)
	}

	return w.Flush()
}
