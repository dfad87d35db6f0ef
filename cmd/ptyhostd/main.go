// Command ptyhostd runs the PTY Host process: it owns the live PTY
// sessions and speaks the controller<->host wire protocol described in
// spec §6 over a websocket.
//
// ptyhostd is deliberately a separate process from the controller (spec
// §9: "the controller must ... be prepared to respawn the host") so a
// host crash never takes the controller, its task queue, or its session
// registry down with it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trybotster/botster-core/internal/config"
	"github.com/trybotster/botster-core/internal/ptyhost"
)

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	addr := os.Getenv("BOTSTER_PTYHOSTD_ADDR")
	if addr == "" {
		addr = "127.0.0.1:4570"
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("ptyhostd: load config", "error", err)
		os.Exit(1)
	}

	host := ptyhost.New(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ptyhost", ptyhost.ServeHTTP(host, logger))

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go purgeTrashLoop(ctx, host, cfg.PollBaseInterval)

	go func() {
		logger.Info("ptyhostd: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ptyhostd: serve", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("ptyhostd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "ptyhostd: graceful shutdown failed:", err)
		os.Exit(1)
	}
}

// purgeTrashLoop evicts expired trashed sessions on the same cadence the
// worktree monitor polls at, since there's no dedicated trash-TTL config
// knob and this one is already in the right ballpark (seconds, not
// milliseconds).
func purgeTrashLoop(ctx context.Context, host *ptyhost.Host, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			host.PurgeExpiredTrash(now)
		}
	}
}
