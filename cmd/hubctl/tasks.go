package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTasksCmd() *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task queue on a running controller",
	}
	tasks.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks, priority order",
		RunE:  runTasksList,
	})
	return tasks
}

func runTasksList(cmd *cobra.Command, args []string) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	client := newAdminClient(adminAddr)

	tasks, err := client.listTasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-36s  %-10s  %-4s  %-20s  %s\n", "TASK ID", "STATUS", "PRIO", "WORKTREE", "TITLE")
	for _, t := range tasks {
		fmt.Printf("%-36s  %-10s  %-4d  %-20s  %s\n", t.ID, t.Status, t.Priority, t.WorktreeID, t.Title)
	}
	return nil
}
