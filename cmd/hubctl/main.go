// Command hubctl is the controller-side binary: it can run the full
// daemon (start) or act as an administrative client against one already
// running (sessions, tasks, snapshot, breaker), per spec §6's CLI surface.
//
// Exit codes follow spec §6 exactly: 0 success, 1 usage, 2 runtime
// failure, 3 not-found, 4 busy.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	exitSuccess = 0
	exitUsage   = 1
	exitRuntime = 2
	exitNotFound = 3
	exitBusy    = 4
)

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	root := newRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hubctl:", err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "hubctl",
		Short:   "Run and administer the botster-core controller",
		Version: Version,
	}

	root.PersistentFlags().String("data-dir", defaultDataDir(), "base directory for persisted state (BOTSTER_CORE_HOME)")
	root.PersistentFlags().String("host-url", "ws://127.0.0.1:4570/ptyhost", "PTY Host websocket URL")
	root.PersistentFlags().String("admin-addr", "127.0.0.1:4571", "address the admin API listens on (start) or is reached at (other commands)")

	root.AddCommand(newStartCmd())
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newTasksCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newBreakerCmd())
	root.AddCommand(newMonitorCmd())

	return root
}

func defaultDataDir() string {
	if dir := os.Getenv("BOTSTER_CORE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botster-core"
	}
	return home + "/.botster-core"
}
