// Package main implements schedctl, a command-line front-end for a
// running scheduler daemon's HTTP control surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var baseURL string

var rootCmd = &cobra.Command{
	Use:           "schedctl",
	Short:         "Inspect and control a running scheduler daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "addr", "http://127.0.0.1:9108", "Scheduler daemon HTTP address")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(rescheduleCmd)
}
