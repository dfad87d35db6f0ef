package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect live sessions on a running controller",
	}
	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		RunE:  runSessionsList,
	})
	return sessions
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	client := newAdminClient(adminAddr)

	sessions, err := client.listSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no live sessions")
		return nil
	}
	fmt.Printf("%-36s  %-8s  %-10s  %s\n", "SESSION ID", "KIND", "STATE", "WORKTREE")
	for _, s := range sessions {
		fmt.Printf("%-36s  %-8s  %-10s  %s\n", s.ID, s.Kind, s.State, s.WorktreeID)
	}
	return nil
}
