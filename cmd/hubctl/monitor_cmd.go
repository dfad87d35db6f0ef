package main

import "github.com/spf13/cobra"

// newMonitorCmd is shorthand for `start --tui`: it builds its own
// controller.System rather than attaching to an already-running one, since
// the dashboard observes internal/eventbus.Bus directly and that bus only
// exists in-process (spec §4.6 is an in-process dispatcher, not a network
// one).
func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the controller with the live terminal dashboard (shorthand for start --tui)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			hostURL, _ := cmd.Flags().GetString("host-url")
			adminAddr, _ := cmd.Flags().GetString("admin-addr")
			return runController(dataDir, hostURL, adminAddr, true, nil)
		},
	}
}
