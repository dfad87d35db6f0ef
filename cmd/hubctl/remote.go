package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/atotto/clipboard"
	"golang.org/x/term"

	"github.com/trybotster/botster-core/internal/controller"
	"github.com/trybotster/botster-core/internal/remote"
)

// startRemoteBridge brings up the optional SSH-over-tailnet fast path (spec
// §9) against system's existing PTY Host connection, prints (and copies to
// the clipboard) a pairing URL for a new project, and returns the running
// bridge for the caller to Close on shutdown.
func startRemoteBridge(ctx context.Context, system *controller.System, projectID string, flags remoteFlags, logger *slog.Logger) (*remote.Bridge, error) {
	bridge, err := remote.New(remote.Config{
		ProjectID:    projectID,
		HeadscaleURL: flags.headscaleURL,
		AuthKey:      flags.authKey,
		Ephemeral:    flags.ephemeral,
	}, system.HostClient(), logger)
	if err != nil {
		return nil, fmt.Errorf("remote bridge: %w", err)
	}

	ln, err := bridge.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote bridge: %w", err)
	}
	go func() {
		if err := bridge.Serve(ctx, ln); err != nil && ctx.Err() == nil {
			logger.Error("hubctl: remote bridge serve", "error", err)
		}
	}()

	if err := printPairingInstructions(projectID); err != nil {
		logger.Warn("hubctl: pairing instructions", "error", err)
	}
	return bridge, nil
}

// remoteFlags bundles the --remote-* cobra flags runController needs to
// hand to startRemoteBridge.
type remoteFlags struct {
	headscaleURL string
	authKey      string
	ephemeral    bool
}

// printPairingInstructions issues (or reuses) a pairing token for
// projectID, prints an ssh connection string and its QR code sized to fit
// the local terminal, and copies the connection string to the clipboard
// for pasting into a phone's SSH client.
func printPairingInstructions(projectID string) error {
	token, err := remote.LoadPairingToken(projectID)
	if err != nil {
		token, err = remote.NewPairingToken()
		if err != nil {
			return fmt.Errorf("generate pairing token: %w", err)
		}
		if err := remote.StorePairingToken(projectID, token); err != nil {
			return fmt.Errorf("store pairing token: %w", err)
		}
	}

	pairingURL := fmt.Sprintf("botster-remote://%s?token=%s", projectID, token)

	maxWidth, maxHeight := uint16(60), uint16(30)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		maxWidth, maxHeight = uint16(w), uint16(h-4)
	}

	fmt.Println("remote bridge pairing URL:")
	fmt.Println(pairingURL)
	for _, line := range remote.QRLines(pairingURL, maxWidth, maxHeight, false) {
		fmt.Println(line)
	}

	if err := clipboard.WriteAll(pairingURL); err != nil {
		fmt.Println("(could not copy pairing URL to clipboard:", err, ")")
	} else {
		fmt.Println("(pairing URL copied to clipboard)")
	}
	return nil
}
