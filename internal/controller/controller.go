// Package controller implements the process that owns the durable state
// spec §5 assigns to the controller side of the split: the task store, the
// event bus, the session registry, and the orchestrator, wired together
// against a PTY Host reached over the wire protocol in internal/ptyhost.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/eventbus"
	"github.com/trybotster/botster-core/internal/orchestrator"
	"github.com/trybotster/botster-core/internal/ptyhost"
	"github.com/trybotster/botster-core/internal/task"
	"github.com/trybotster/botster-core/internal/worktree"
)

// Config configures a System.
type Config struct {
	DataDir string // holds sessions.db and tasks.json
	HostURL string // ws[s]://... endpoint served by internal/ptyhost.ServeHTTP
	Router  orchestrator.Router
	Logger  *slog.Logger
}

// System wires every controller-side collaborator together in the order
// spec §5 implies: durable store, event bus, task queue, PTY Host client,
// worktree monitors, orchestrator. It implements
// orchestrator.SessionProvider and orchestrator.InputForwarder itself,
// translating between the PTY Host's session/event view and the
// orchestrator's narrower one.
type System struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry
	store    *task.Store
	queue    *task.Queue
	bus      *eventbus.Bus
	client   *ptyhost.Client
	orch     *orchestrator.Orchestrator

	mu              sync.Mutex
	sessions        map[string]orchestrator.Session
	monitors        map[string]*worktree.Monitor
	snapshotWaiters map[string]chan []byte
}

// NewSystem opens the registry and task store under cfg.DataDir and wires
// the event bus, PTY Host client, and orchestrator. It does not connect to
// the host or start polling any worktree; call Connect and AttachWorktree
// for that.
func NewSystem(cfg Config) (*System, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry, err := OpenRegistry(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return nil, err
	}

	store := task.NewStore(cfg.DataDir)
	queue, err := store.Load(time.Now)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("controller: load task store: %w", err)
	}

	bus := eventbus.New(cfg.Logger)
	client := ptyhost.NewClient(cfg.HostURL, cfg.Logger)

	s := &System{
		cfg:             cfg,
		logger:          cfg.Logger,
		registry:        registry,
		store:           store,
		queue:           queue,
		bus:             bus,
		client:          client,
		sessions:        make(map[string]orchestrator.Session),
		monitors:        make(map[string]*worktree.Monitor),
		snapshotWaiters: make(map[string]chan []byte),
	}
	s.orch = orchestrator.New(queue, s, s, bus, cfg.Router)
	return s, nil
}

// Close releases the registry's database handle. It does not touch the
// task store, which is just a plain file.
func (s *System) Close() error {
	return s.registry.Close()
}

// Bus returns the shared event bus, for callers (CLI, monitor TUI) that
// want to subscribe to task/session events directly.
func (s *System) Bus() *eventbus.Bus { return s.bus }

// Queue returns the task queue, for callers that create/enqueue tasks.
func (s *System) Queue() *task.Queue { return s.queue }

// HostClient returns the PTY Host client this System drives, so other
// front ends (the remote bridge's SSH server) can share the same
// connection instead of opening a second one.
func (s *System) HostClient() *ptyhost.Client { return s.client }

// SaveTasks persists the current task queue via the write-through store.
func (s *System) SaveTasks() error { return s.store.Save(s.queue) }

// Connect dials the PTY Host over the configured URL.
func (s *System) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

// ListSessions implements orchestrator.SessionProvider over the live
// session view this System maintains from PTY Host events.
func (s *System) ListSessions() []orchestrator.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orchestrator.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// ForwardInput implements orchestrator.InputForwarder by submitting the
// task's payload as a line of terminal input (spec §4.8 step 4: "forward
// the task's payload into the session as if typed").
func (s *System) ForwardInput(ctx context.Context, sessionID string, payload any) error {
	line, _ := payload.(string)
	return s.client.Send(ptyhost.Request{Kind: ptyhost.ReqSubmit, SessionID: sessionID, Line: line})
}

// SendRawInput writes data directly into a session's PTY, bypassing the
// task queue/orchestrator path ForwardInput serves. The monitor TUI uses
// this for interactive keystrokes against the selected session.
func (s *System) SendRawInput(sessionID string, data []byte) error {
	return s.client.Send(ptyhost.Request{Kind: ptyhost.ReqWrite, SessionID: sessionID, Bytes: data})
}

// SpawnAgentSession asks the PTY Host to spawn a new agent session bound to
// worktreeID, registers it for crash-recovery bookkeeping, and adds it to
// the live session view the orchestrator sees.
func (s *System) SpawnAgentSession(spawn ptyhost.SpawnConfig, worktreeID string) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now()
	if err := s.registry.RecordSpawn(sessionID, worktreeID, "agent", now); err != nil {
		return "", err
	}
	if err := s.client.Send(ptyhost.Request{Kind: ptyhost.ReqSpawn, SessionID: sessionID, Spawn: spawn, WorktreeID: worktreeID}); err != nil {
		_ = s.registry.Remove(sessionID)
		return "", err
	}

	s.mu.Lock()
	s.sessions[sessionID] = orchestrator.Session{
		ID:         sessionID,
		Kind:       "agent",
		State:      orchestrator.SessionIdle,
		WorktreeID: worktreeID,
	}
	s.mu.Unlock()

	return sessionID, nil
}

// HandleHostEvent folds one PTY Host event into the registry and the live
// session view, and drives the orchestrator's completion/failure hooks.
// Callers run this from the loop draining s.client.Events() (see Pump).
func (s *System) HandleHostEvent(ctx context.Context, ev ptyhost.Event) error {
	switch ev.Kind {
	case ptyhost.EventData:
		if ev.Snapshot == nil {
			return nil
		}
		s.mu.Lock()
		waiter, ok := s.snapshotWaiters[ev.SessionID]
		s.mu.Unlock()
		if ok {
			select {
			case waiter <- ev.Snapshot:
			default:
			}
		}

	case ptyhost.EventSpawnResult:
		if ev.Err != nil {
			s.mu.Lock()
			delete(s.sessions, ev.SessionID)
			s.mu.Unlock()
			_ = s.registry.Remove(ev.SessionID)
			return nil
		}

	case ptyhost.EventAgentState:
		next := orchestrator.SessionState(ev.Transition.Next)
		s.mu.Lock()
		if sess, ok := s.sessions[ev.SessionID]; ok {
			sess.State = next
			s.sessions[ev.SessionID] = sess
		}
		s.mu.Unlock()
		_ = s.registry.UpdateState(ev.SessionID, string(ev.Transition.Next), "", time.Now())

		switch ev.Transition.Next {
		case "completed":
			return s.orch.OnAgentCompleted(ctx, ev.SessionID, &task.Result{})
		case "failed":
			return s.orch.OnAgentFailed(ctx, ev.SessionID, "agent reported failure")
		}

	case ptyhost.EventExit:
		s.mu.Lock()
		delete(s.sessions, ev.SessionID)
		s.mu.Unlock()
		_ = s.registry.Remove(ev.SessionID)
		if ev.ExitCode != 0 {
			return s.orch.OnAgentFailed(ctx, ev.SessionID, fmt.Sprintf("session exited with code %d", ev.ExitCode))
		}
	}
	return nil
}

// Pump drains PTY Host events and folds each into System state, retrying
// assignment after every event that could have freed up a session or
// surfaced new work. It blocks until ctx is cancelled or the client's event
// channel closes.
func (s *System) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.client.Events():
			if !ok {
				return
			}
			if err := s.HandleHostEvent(ctx, ev); err != nil {
				s.logger.Error("controller: handling host event", "kind", ev.Kind, "session", ev.SessionID, "error", err)
			}
			if err := s.orch.TryAssign(ctx); err != nil {
				s.logger.Error("controller: try-assign after host event", "error", err)
			}
		}
	}
}

// AttachWorktree starts an adaptive monitor for one worktree, publishing
// its snapshots and AI-summary triggers onto the shared event bus and
// cascading task cancellation through the orchestrator when the worktree
// is removed (spec §4.8: "worktree removal cancels every non-terminal task
// bound to it").
func (s *System) AttachWorktree(ctx context.Context, cfg worktree.Config) error {
	cfg.OnSnapshot = func(snap worktree.Snapshot) {
		s.bus.Publish(eventbus.Event{Kind: "worktree:snapshot", Payload: snap})
	}
	cfg.OnSummaryTrigger = func(worktreeID string) {
		s.bus.Publish(eventbus.Event{Kind: "worktree:summary-trigger", Payload: worktreeID})
	}
	cfg.OnRemoved = func(worktreeID string) {
		s.bus.Publish(eventbus.Event{Kind: "worktree:removed", Payload: worktreeID})
		for _, err := range s.orch.OnWorktreeRemoved(worktreeID) {
			s.logger.Error("controller: cancel task on worktree removal", "worktree", worktreeID, "error", err)
		}
		s.mu.Lock()
		delete(s.monitors, worktreeID)
		s.mu.Unlock()
	}

	m, err := worktree.New(cfg)
	if err != nil {
		return fmt.Errorf("controller: attach worktree %s: %w", cfg.WorktreeID, err)
	}

	s.mu.Lock()
	s.monitors[cfg.WorktreeID] = m
	s.mu.Unlock()

	go m.Run(ctx)
	return nil
}

// Reconcile asks the registry which of its tracked sessions a freshly
// (re)started host does not report as live, and drops them from both the
// registry and the live session view — they were lost in whatever crash
// caused the respawn (spec §4.3: "reconcile which sessions existed").
func (s *System) Reconcile(liveSessionIDs []string) ([]SessionRecord, error) {
	lost, err := s.registry.Reconcile(liveSessionIDs)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, rec := range lost {
		delete(s.sessions, rec.SessionID)
	}
	s.mu.Unlock()
	for _, rec := range lost {
		_ = s.registry.Remove(rec.SessionID)
	}
	return lost, nil
}

// DumpSnapshot requests a session's current rendered screen from the PTY
// Host and waits up to timeout for the response, correlating it against
// concurrent Pump traffic on the same event channel by session id (spec
// §6's CLI surface: "dump a snapshot").
func (s *System) DumpSnapshot(ctx context.Context, sessionID string, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if _, busy := s.snapshotWaiters[sessionID]; busy {
		s.mu.Unlock()
		return nil, coreerrors.New(coreerrors.Unavailable, "a snapshot request for this session is already in flight")
	}
	waiter := make(chan []byte, 1)
	s.snapshotWaiters[sessionID] = waiter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.snapshotWaiters, sessionID)
		s.mu.Unlock()
	}()

	if err := s.client.Send(ptyhost.Request{Kind: ptyhost.ReqGetSnapshot, SessionID: sessionID}); err != nil {
		return nil, err
	}

	select {
	case data := <-waiter:
		return data, nil
	case <-time.After(timeout):
		return nil, coreerrors.New(coreerrors.Timeout, "snapshot request timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetWorktreeBreaker force-resets the circuit breaker on an attached
// worktree's monitor (spec §6's CLI surface: "force-reset a circuit
// breaker"). It returns NotFound if no monitor is attached for worktreeID.
func (s *System) ResetWorktreeBreaker(worktreeID string) error {
	s.mu.Lock()
	m, ok := s.monitors[worktreeID]
	s.mu.Unlock()
	if !ok {
		return coreerrors.New(coreerrors.NotFound, "no monitor attached for worktree "+worktreeID)
	}
	m.Reset()
	return nil
}

// SuperviseHost runs newCmd in a loop, restarting it with newCmd() whenever
// it exits, classifying the exit via ClassifyHostExit and publishing it on
// the bus (spec §4.3/§7: "the controller must surface this and be prepared
// to respawn the host"). It returns when ctx is cancelled, after the
// current child (if any) has been waited on.
func (s *System) SuperviseHost(ctx context.Context, newCmd func() *exec.Cmd) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cmd := newCmd()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("controller: start host: %w", err)
		}

		waitErr := cmd.Wait()
		kind := ClassifyHostExit(cmd.ProcessState)
		s.bus.Publish(eventbus.Event{Kind: "host:crashed", Payload: HostCrashEvent{Kind: kind, Err: waitErr}})

		if kind == CrashCleanExit && ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("controller: pty host exited, respawning", "classification", kind, "error", waitErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// HostCrashEvent is published on eventbus kind "host:crashed" every time
// SuperviseHost observes the host process exit.
type HostCrashEvent struct {
	Kind CrashKind
	Err  error
}
