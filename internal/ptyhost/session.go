// Package ptyhost implements the PTY Host described in spec §4.3: an
// isolated process with its own event loop that spawns and supervises
// child pseudo-terminals, streams their output through per-session ring
// buffers, and serves a discriminated request/event protocol to the
// controller.
package ptyhost

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/notification"
	"github.com/trybotster/botster-core/internal/ring"
	"github.com/trybotster/botster-core/internal/state"
)

// Tier is a session's current activity tier (spec §4.3 set-activity-tier).
type Tier string

const (
	TierActive     Tier = "active"
	TierBackground Tier = "background"
)

// SpawnConfig mirrors spec §4.3's spawn request payload.
type SpawnConfig struct {
	Cwd   string
	Shell string
	Args  []string
	Env   []string
	Rows  uint16
	Cols  uint16
}

// Session is one supervised child PTY plus its streaming/scrollback state.
// A Session with no live child (pending spawn, or post-exit) is still a
// valid object — it just rejects writes.
type Session struct {
	ID string

	mu    sync.Mutex
	ptmx  *os.File
	cmd   *exec.Cmd
	rows  uint16
	cols  uint16
	tier  Tier
	ring  *ring.Ring // allocated only while tier == active
	scr   *screen    // always present: backs get-snapshot/replay-history/wake-terminal

	machine *state.Machine

	exited   bool
	exitCode int

	trashedAt  time.Time
	trashTTL   time.Duration
	paused     bool
	done       chan struct{}
	readerWg   sync.WaitGroup
	onEvent    func(Event)
	logger     *slog.Logger
}

// newSession constructs a Session in the background tier, with no child
// spawned yet. Call Spawn to start a child process.
func newSession(id string, worktreeID string, onEvent func(Event), logger *slog.Logger, now time.Time) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:      id,
		tier:    TierBackground,
		scr:     newScreen(80, 24),
		machine: state.New(id, worktreeID, now),
		done:    make(chan struct{}),
		onEvent: onEvent,
		logger:  logger,
	}
}

// Spawn creates the child process inside a PTY of the given size and starts
// its reader loop. Spawn failures are classified into the closed sub-code
// set from spec §4.3.
func (s *Session) Spawn(cfg SpawnConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = append(os.Environ(), cfg.Env...)

	rows, cols := cfg.Rows, cfg.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		sub := coreerrors.ClassifySpawnError(err)
		return coreerrors.SpawnFailure(sub, err)
	}

	s.ptmx = ptmx
	s.cmd = cmd
	s.rows, s.cols = rows, cols
	s.scr.Resize(int(cols), int(rows))

	s.readerWg.Add(1)
	go s.readerLoop()

	return nil
}

// readerLoop streams child output either into the active-tier ring (framed
// by the host for the wire protocol) or into the background-tier terminal
// emulator/scrollback, depending on the session's current tier. Matches the
// reference implementation's dedicated-reader-goroutine-per-session shape.
func (s *Session) readerLoop() {
	defer s.readerWg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.ptmx.Read(buf)
		if err != nil {
			s.onExit(err)
			return
		}
		if n == 0 {
			continue
		}
		chunk := append([]byte(nil), buf[:n]...)

		s.mu.Lock()
		paused := s.paused
		tier := s.tier
		s.mu.Unlock()
		if paused {
			continue // spec §4.3 suspend/resume: streaming is globally paused
		}

		for _, note := range notification.Detect(chunk) {
			s.applyNotificationCue(note)
		}

		if tier == TierActive {
			s.writeActive(chunk)
		} else {
			s.writeBackground(chunk)
		}
	}
}

func (s *Session) writeActive(chunk []byte) {
	s.mu.Lock()
	r := s.ring
	s.mu.Unlock()
	if r == nil {
		return
	}
	if ok := r.Write(chunk); !ok && s.logger != nil {
		s.logger.Warn("ptyhost: ring full, dropping output", "session", s.ID, "bytes", len(chunk))
	}
	if s.onEvent != nil {
		s.onEvent(Event{Kind: EventData, SessionID: s.ID})
	}
}

func (s *Session) writeBackground(chunk []byte) {
	_, _ = s.scr.Write(chunk)
}

// notificationTrigger maps a detected OSC cue to the state-machine trigger
// it signals and a confidence above both triggers' thresholds (spec §4.4:
// explicit cues are higher-confidence than output-quiescence heuristics).
func notificationTrigger(note notification.Notification) (state.Trigger, float64) {
	text := note.Message + note.Title + note.Body
	switch {
	case containsAny(text, "waiting", "input needed", "your turn"):
		return state.TriggerWaitingCue, 0.85
	case containsAny(text, "failed", "error"):
		return state.TriggerFailureCue, 0.85
	case containsAny(text, "done", "complete", "finished"):
		return state.TriggerCompletionCue, 0.85
	default:
		return "", 0
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func (s *Session) applyNotificationCue(note notification.Notification) {
	trigger, confidence := notificationTrigger(note)
	if trigger == "" {
		return
	}
	if _, err := s.machine.Apply(trigger, confidence, time.Now()); err == nil && s.onEvent != nil {
		s.onEvent(Event{Kind: EventAgentState, SessionID: s.ID})
	}
}

func (s *Session) onExit(readErr error) {
	s.mu.Lock()
	s.exited = true
	code := -1
	if s.cmd != nil {
		_ = s.cmd.Wait()
		if s.cmd.ProcessState != nil {
			code = s.cmd.ProcessState.ExitCode()
		}
	}
	s.exitCode = code
	s.mu.Unlock()

	if s.onEvent != nil {
		s.onEvent(Event{Kind: EventExit, SessionID: s.ID, ExitCode: code})
	}
	if readErr != nil && readErr != io.EOF && s.logger != nil {
		s.logger.Debug("ptyhost: pty read ended", "session", s.ID, "error", readErr)
	}
}

// Write forwards bytes to the child's stdin. Fails fast with Disconnected
// if the session has no live child (spec §5: "write/submit never block
// indefinitely — they fail fast with DISCONNECTED if the session is gone").
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptmx == nil || s.exited {
		return coreerrors.New(coreerrors.Disconnected, "session has no live child: "+s.ID)
	}
	_, err := s.ptmx.Write(p)
	if err != nil {
		return coreerrors.Wrap(coreerrors.IOError, "write failed", err)
	}
	return nil
}

// Submit appends a trailing newline atomically (spec §4.3 "submit appends
// newline atomically").
func (s *Session) Submit(line string) error {
	return s.Write([]byte(line + "\n"))
}

// Resize adjusts the PTY window size. Idempotent when size is unchanged.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows == s.rows && cols == s.cols {
		return nil
	}
	s.rows, s.cols = rows, cols
	s.scr.Resize(int(cols), int(rows))
	if s.ptmx != nil {
		if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
			return coreerrors.Wrap(coreerrors.IOError, "resize failed", err)
		}
	}
	return nil
}

// Kill sends a termination signal to the child and waits for its reader
// loop to finish.
func (s *Session) Kill() error {
	s.mu.Lock()
	cmd := s.cmd
	ptmx := s.ptmx
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && s.logger != nil {
			s.logger.Warn("ptyhost: kill failed", "session", s.ID, "error", err)
		}
	}
	if ptmx != nil {
		_ = ptmx.Close()
	}
	s.readerWg.Wait()
	return nil
}

// SetTier transitions the session between active (full ring streaming) and
// background (ring drained and deallocated; scrollback/snapshot only).
func (s *Session) SetTier(tier Tier, capacity uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tier == tier {
		return nil
	}
	switch tier {
	case TierActive:
		r, err := ring.New(capacity)
		if err != nil {
			return err
		}
		s.ring = r
	case TierBackground:
		s.ring = nil // deallocate; screen state lives in s.scr
	default:
		return coreerrors.New(coreerrors.InvalidState, "unknown tier: "+string(tier))
	}
	s.tier = tier
	return nil
}

// DrainRing reads up to k bytes from the active-tier ring, for the host's
// write loop to package into wire packets. Returns nil if the session
// isn't active or has nothing buffered.
func (s *Session) DrainRing(k uint32) []byte {
	s.mu.Lock()
	r := s.ring
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	out, _ := r.ReadUpTo(k)
	return out
}

// RingUtilization reports the active-tier ring's fill fraction in [0,1], or
// 0 if the session has no ring (background tier).
func (s *Session) RingUtilization() float64 {
	s.mu.Lock()
	r := s.ring
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.Utilization() / 100
}

// Trash marks the session pending-deletion with an expiry; it keeps
// accepting data if its child is still alive until the expiry elapses.
func (s *Session) Trash(ttl time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trashedAt = now
	s.trashTTL = ttl
}

// Restore cancels a pending trash.
func (s *Session) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trashedAt = time.Time{}
	s.trashTTL = 0
}

// IsExpired reports whether a trashed session's expiry has elapsed.
func (s *Session) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trashedAt.IsZero() {
		return false
	}
	return now.Sub(s.trashedAt) >= s.trashTTL
}

// SetPaused globally suspends or resumes output streaming for this session
// (spec §4.3 pause-all/resume-all, and suspend/resume handling).
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// CurrentTier returns the session's current activity tier.
func (s *Session) CurrentTier() Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// Exited reports whether the child has exited, and its exit code.
func (s *Session) Exited() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited, s.exitCode
}

// State returns the session's current state machine snapshot.
func (s *Session) State() state.State {
	return s.machine.Current()
}

// Apply feeds an externally observed trigger (e.g. a transition-state
// request) into the session's state machine.
func (s *Session) Apply(trigger state.Trigger, confidence float64, now time.Time) (state.Transition, error) {
	return s.machine.Apply(trigger, confidence, now)
}

// Snapshot renders the session's current compact serialised screen, for
// get-snapshot/get-all-snapshots/wake-terminal (spec §4.3).
func (s *Session) Snapshot() []byte {
	return s.scr.Snapshot()
}

// ReplayHistory returns the last n lines of scrollback as synthetic data
// (spec §4.3 replay-history).
func (s *Session) ReplayHistory(n int) []string {
	return s.scr.ReplayLines(n)
}
