package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trybotster/botster-core/internal/controller"
	"github.com/trybotster/botster-core/internal/monitor"
	"github.com/trybotster/botster-core/internal/worktree"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the controller daemon",
		RunE:  runStart,
	}
	cmd.Flags().Bool("tui", false, "run the live terminal dashboard instead of headless logging")
	cmd.Flags().Bool("remote", false, "expose sessions over SSH on the tailnet (spec §9 fast path)")
	cmd.Flags().String("remote-headscale-url", "", "control-plane URL for the remote bridge's tailnet identity")
	cmd.Flags().String("remote-auth-key", "", "pre-authorized tailnet key for the remote bridge")
	cmd.Flags().Bool("remote-ephemeral", false, "deregister the remote bridge's tailnet node on shutdown")
	return cmd
}

// worktreeEntry is the on-disk shape of <data-dir>/worktrees.json: the set
// of worktrees this controller instance should monitor on startup.
type worktreeEntry struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	MetaDir string `json:"meta_dir"`
}

func runStart(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	hostURL, _ := cmd.Flags().GetString("host-url")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	tui, _ := cmd.Flags().GetBool("tui")

	var remote *remoteFlags
	if enabled, _ := cmd.Flags().GetBool("remote"); enabled {
		headscaleURL, _ := cmd.Flags().GetString("remote-headscale-url")
		authKey, _ := cmd.Flags().GetString("remote-auth-key")
		ephemeral, _ := cmd.Flags().GetBool("remote-ephemeral")
		remote = &remoteFlags{headscaleURL: headscaleURL, authKey: authKey, ephemeral: ephemeral}
	}
	return runController(dataDir, hostURL, adminAddr, tui, remote)
}

// projectIDForDataDir derives a stable project id from a data directory's
// absolute path, the same "stable identity hash" pattern
// internal/project uses for worktree ids, so repeated `start` runs against
// the same data dir reuse the same remote-bridge tailnet identity and
// pairing token instead of minting a new one every time.
func projectIDForDataDir(dataDir string) string {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		abs = dataDir
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

// runController wires up and runs a controller daemon: the System, its PTY
// Host connection and event pump, any worktrees declared in
// <data-dir>/worktrees.json, and the admin HTTP API — then either runs the
// monitor TUI in the foreground or blocks headless until signalled. When
// remote is non-nil it also brings up the SSH-over-tailnet bridge against
// the same PTY Host connection.
func runController(dataDir, hostURL, adminAddr string, tui bool, remote *remoteFlags) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return runtimeError(fmt.Errorf("create data dir: %w", err))
	}

	logger := slog.Default()
	system, err := controller.NewSystem(controller.Config{DataDir: dataDir, HostURL: hostURL, Logger: logger})
	if err != nil {
		return runtimeError(fmt.Errorf("initialise controller: %w", err))
	}
	defer system.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := system.Connect(ctx); err != nil {
		logger.Warn("hubctl: could not connect to PTY Host at startup, will keep serving admin API", "error", err)
	}
	go system.Pump(ctx)

	for _, wt := range loadWorktreeEntries(dataDir, logger) {
		cfg := worktree.Config{WorktreeID: wt.ID, Path: wt.Path, MetaDir: wt.MetaDir}
		if err := system.AttachWorktree(ctx, cfg); err != nil {
			logger.Error("hubctl: attach worktree", "worktree", wt.ID, "error", err)
		}
	}

	ln, err := net.Listen("tcp", adminAddr)
	if err != nil {
		return runtimeError(fmt.Errorf("listen on admin address %s: %w", adminAddr, err))
	}
	adminSrv := &http.Server{Handler: newAdminMux(system)}
	go func() {
		if err := adminSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("hubctl: admin server", "error", err)
		}
	}()
	defer adminSrv.Close()

	if remote != nil {
		bridge, err := startRemoteBridge(ctx, system, projectIDForDataDir(dataDir), *remote, logger)
		if err != nil {
			return runtimeError(fmt.Errorf("remote bridge: %w", err))
		}
		defer bridge.Close()
	}

	if tui {
		if err := monitor.Run(ctx, system); err != nil {
			return runtimeError(fmt.Errorf("monitor: %w", err))
		}
		return nil
	}

	logger.Info("hubctl: controller running", "data_dir", dataDir, "host_url", hostURL, "admin_addr", adminAddr)
	<-ctx.Done()
	logger.Info("hubctl: shutting down")
	if err := system.SaveTasks(); err != nil {
		logger.Error("hubctl: save tasks on shutdown", "error", err)
	}
	return nil
}

func loadWorktreeEntries(dataDir string, logger *slog.Logger) []worktreeEntry {
	path := filepath.Join(dataDir, "worktrees.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries []worktreeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("hubctl: invalid worktrees.json, ignoring", "error", err)
		return nil
	}
	return entries
}
