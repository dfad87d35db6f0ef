package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBreakerCmd() *cobra.Command {
	breaker := &cobra.Command{
		Use:   "breaker",
		Short: "Manage worktree monitor circuit breakers",
	}
	breaker.AddCommand(&cobra.Command{
		Use:   "reset <worktree-id>",
		Short: "Force-reset a tripped circuit breaker",
		Args:  cobra.ExactArgs(1),
		RunE:  runBreakerReset,
	})
	return breaker
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return usageErrorf("breaker reset requires exactly one worktree id")
	}
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	client := newAdminClient(adminAddr)

	if err := client.resetBreaker(args[0]); err != nil {
		return err
	}
	fmt.Printf("breaker reset for worktree %s\n", args[0])
	return nil
}
