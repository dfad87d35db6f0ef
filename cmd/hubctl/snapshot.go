package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <session-id>",
		Short: "Dump a session's current rendered screen",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshot,
	}
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return usageErrorf("snapshot requires exactly one session id")
	}
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	client := newAdminClient(adminAddr)

	data, err := client.dumpSnapshot(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
