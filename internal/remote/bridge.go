// Package remote implements the optional renderer-direct fast path spec §9
// leaves as an Open Question: an SSH-reachable byte stream onto a PTY Host
// session, carried entirely over a Tailscale mesh so no port needs to be
// exposed to reach it.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
	"tailscale.com/tsnet"

	"github.com/trybotster/botster-core/internal/ptyhost"
)

const sessionUserPrefix = "agent-"

// Config configures a Bridge's tsnet identity and control server.
type Config struct {
	// ProjectID seeds the tsnet hostname and pairing-token storage key
	// (controller.ProjectID), so the same worktree gets the same identity
	// across restarts.
	ProjectID    string
	HeadscaleURL string
	AuthKey      string
	StateDir     string // defaults to ~/.botster/remote/tsnet/<ProjectID>
	Ephemeral    bool

	// PollInterval sets how often a connected viewer's screen is
	// refreshed from get-snapshot. Defaults to 200ms.
	PollInterval time.Duration
}

// Bridge exposes a PTY Host's sessions over SSH, reached over the
// Tailscale mesh rather than an exposed TCP port.
type Bridge struct {
	cfg    Config
	server *tsnet.Server
	client *ptyhost.Client
	logger *slog.Logger

	hostSigner gossh.Signer

	mu       sync.Mutex
	watchers map[string][]chan ptyhost.Event
}

// New constructs a Bridge. client must already be wired to a PTY Host (see
// internal/controller); New does not dial it.
func New(cfg Config, client *ptyhost.Client, logger *slog.Logger) (*Bridge, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("remote: ProjectID is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("remote: home dir: %w", err)
		}
		stateDir = filepath.Join(home, ".botster", "remote", "tsnet", cfg.ProjectID)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("remote: create state dir: %w", err)
	}

	hostname := "botster-" + shortID(cfg.ProjectID)
	server := &tsnet.Server{
		Hostname:   hostname,
		Dir:        stateDir,
		ControlURL: cfg.HeadscaleURL,
		AuthKey:    cfg.AuthKey,
		Ephemeral:  cfg.Ephemeral,
		Logf:       func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	signer, err := loadOrCreateHostSigner(stateDir)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		cfg:        cfg,
		server:     server,
		client:     client,
		logger:     logger,
		hostSigner: signer,
		watchers:   make(map[string][]chan ptyhost.Event),
	}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Start connects to the tailnet and returns a listener for Serve.
func (b *Bridge) Start(ctx context.Context) (net.Listener, error) {
	status, err := b.server.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: tailnet up: %w", err)
	}
	b.logger.Info("remote: connected to tailnet", "hostname", b.server.Hostname, "ips", status.TailscaleIPs)
	return b.server.Listen("tcp", ":22")
}

// Close tears down the tailnet connection.
func (b *Bridge) Close() error {
	return b.server.Close()
}

// Serve runs the SSH server on ln and the PTY Host event dispatcher until
// ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	srv := &ssh.Server{
		Handler:     b.handleSession,
		PtyCallback: func(ctx ssh.Context, pty ssh.Pty) bool { return true },
		SubsystemHandlers: map[string]ssh.SubsystemHandler{
			"sftp": nil,
		},
	}
	srv.AddHostKey(b.hostSigner)

	go b.dispatch(ctx)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				b.logger.Error("remote: accept", "error", err)
				continue
			}
		}
		go srv.HandleConn(conn)
	}
}

// dispatch fans PTY Host events out to every subscriber registered for
// their session id, the same registration-list shape internal/eventbus
// uses for its own Subscribe/Publish.
func (b *Bridge) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.client.Events():
			if !ok {
				return
			}
			b.mu.Lock()
			for _, ch := range b.watchers[ev.SessionID] {
				select {
				case ch <- ev:
				default:
					b.logger.Warn("remote: viewer buffer full, dropping frame", "session", ev.SessionID)
				}
			}
			b.mu.Unlock()
		}
	}
}

func (b *Bridge) subscribe(sessionID string) (chan ptyhost.Event, func()) {
	ch := make(chan ptyhost.Event, 8)
	b.mu.Lock()
	b.watchers[sessionID] = append(b.watchers[sessionID], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.watchers[sessionID]
		for i, c := range subs {
			if c == ch {
				b.watchers[sessionID] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (b *Bridge) handleSession(sess ssh.Session) {
	user := sess.User()
	if len(user) <= len(sessionUserPrefix) || user[:len(sessionUserPrefix)] != sessionUserPrefix {
		fmt.Fprintln(sess, "connect as agent-<session-id>")
		sess.Exit(1)
		return
	}
	sessionID := user[len(sessionUserPrefix):]

	_, winCh, isPty := sess.Pty()
	if !isPty {
		fmt.Fprintln(sess, "a pty is required")
		sess.Exit(1)
		return
	}

	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); b.mirrorFrames(ctx, sessionID, sess) }()
	go func() { defer wg.Done(); b.forwardResizes(ctx, sessionID, winCh) }()
	go func() { defer wg.Done(); b.forwardInput(ctx, sessionID, sess); cancel() }()
	wg.Wait()
}

// mirrorFrames polls get-snapshot on the bridge's poll interval and writes
// each returned frame to w, clearing the screen between frames.
//
// This is a periodic mirror, not a live byte-for-byte stream: the PTY
// Host's zero-copy ring buffer (internal/ring) is an in-process transport
// for the local renderer, and the controller<->host wire protocol
// (internal/ptyhost's Request/Event) never forwards raw ring bytes across
// that boundary. A remote SSH viewer sits on the far side of both
// boundaries, so it gets the same rendered-screen snapshot get-snapshot
// already produces for suspend/resume, refreshed on an interval instead of
// streamed.
func (b *Bridge) mirrorFrames(ctx context.Context, sessionID string, w io.Writer) {
	ch, unsubscribe := b.subscribe(sessionID)
	defer unsubscribe()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.Send(ptyhost.Request{Kind: ptyhost.ReqGetSnapshot, SessionID: sessionID}); err != nil {
				return
			}
		case ev := <-ch:
			if ev.Kind == ptyhost.EventData && ev.Snapshot != nil {
				fmt.Fprint(w, "\x1b[2J\x1b[H")
				w.Write(ev.Snapshot)
			}
			if ev.Kind == ptyhost.EventExit {
				fmt.Fprintf(w, "\r\n[session exited with code %d]\r\n", ev.ExitCode)
				return
			}
		}
	}
}

func (b *Bridge) forwardResizes(ctx context.Context, sessionID string, winCh <-chan ssh.Window) {
	for {
		select {
		case <-ctx.Done():
			return
		case win, ok := <-winCh:
			if !ok {
				return
			}
			_ = b.client.Send(ptyhost.Request{
				Kind:      ptyhost.ReqResize,
				SessionID: sessionID,
				Rows:      uint16(win.Height),
				Cols:      uint16(win.Width),
			})
		}
	}
}

func (b *Bridge) forwardInput(ctx context.Context, sessionID string, r io.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			line := append([]byte(nil), buf[:n]...)
			if sendErr := b.client.Send(ptyhost.Request{Kind: ptyhost.ReqWrite, SessionID: sessionID, Bytes: line}); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
