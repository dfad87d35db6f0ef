// Package orchestrator implements the Task Orchestrator described in spec
// §4.8: a single-producer coordinator that matches queued tasks to idle or
// waiting sessions and reacts to worktree removal and session state
// transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/eventbus"
	"github.com/trybotster/botster-core/internal/task"
)

// SessionState is the subset of internal/state.State the orchestrator cares
// about when picking a session to run a task.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionWaiting SessionState = "waiting"
)

// Session is the orchestrator's view of a PTY host session: just enough to
// decide availability and worktree binding.
type Session struct {
	ID         string
	Kind       string // "agent" per spec §4.8 step 2; other kinds are never assignable
	State      SessionState
	WorktreeID string // "" if unbound
}

// SessionProvider supplies the current set of sessions. The controller
// implements this over its session registry (internal/controller).
type SessionProvider interface {
	ListSessions() []Session
}

// InputForwarder delivers a task's payload into a session as terminal input,
// via the PTY Host (spec §4.8 step 4).
type InputForwarder interface {
	ForwardInput(ctx context.Context, sessionID string, payload any) error
}

// Router picks a session for a task with routing hints (spec §4.8 step 3).
// It returns ok=false to fall back to "pick the first available session".
type Router func(hints *task.RoutingHints, available []Session) (sessionID string, ok bool)

// Orchestrator matches queued tasks to sessions. It serialises assignment
// attempts with a singleflight group keyed on a constant key, giving it the
// "single in-flight flag" spec §4.8 calls for without a bespoke mutex+bool.
type Orchestrator struct {
	queue     *task.Queue
	sessions  SessionProvider
	forwarder InputForwarder
	bus       *eventbus.Bus
	router    Router

	assignGroup singleflight.Group

	mu         sync.Mutex
	bindings   map[string]string // sessionID -> taskID, until agent:completed/failed
	runCounter uint64
}

// New constructs an Orchestrator. router may be nil (no routing hints are
// ever honoured; the first available session is always picked).
func New(q *task.Queue, sessions SessionProvider, forwarder InputForwarder, bus *eventbus.Bus, router Router) *Orchestrator {
	return &Orchestrator{
		queue:     q,
		sessions:  sessions,
		forwarder: forwarder,
		bus:       bus,
		router:    router,
		bindings:  make(map[string]string),
	}
}

const assignKey = "assign"

// TryAssign runs one assignment attempt: peek the top queued task, find an
// available session for it, and mark it running. It is safe to call
// concurrently — singleflight collapses overlapping calls into one attempt,
// and the caller should re-invoke TryAssign after any event that might have
// produced new queued work or newly available sessions (new queued task,
// agent:completed, agent:failed).
func (o *Orchestrator) TryAssign(ctx context.Context) error {
	_, err, _ := o.assignGroup.Do(assignKey, func() (any, error) {
		return nil, o.tryAssignOnce(ctx)
	})
	return err
}

func (o *Orchestrator) tryAssignOnce(ctx context.Context) error {
	t := o.queue.DequeueNext()
	if t == nil {
		return nil
	}

	available := o.availableSessions(t.WorktreeID)
	if len(available) == 0 {
		return nil
	}

	sessionID, ok := "", false
	if t.RoutingHints != nil && o.router != nil {
		if id, routed := o.router(t.RoutingHints, available); routed {
			if sessionAvailable(available, id) {
				sessionID, ok = id, true
			}
		}
	}
	if !ok {
		sessionID, ok = available[0].ID, true
	}

	o.mu.Lock()
	o.runCounter++
	runID := fmt.Sprintf("run-%d", o.runCounter)
	o.mu.Unlock()

	if _, err := o.queue.MarkRunning(t.ID, sessionID, runID); err != nil {
		return err
	}

	o.mu.Lock()
	o.bindings[sessionID] = t.ID
	o.mu.Unlock()

	if err := o.forwarder.ForwardInput(ctx, sessionID, t.Description); err != nil {
		// Spec §4.8: "failures to spawn or to deliver input are surfaced as
		// task failures; the corresponding session is left alone."
		o.mu.Lock()
		delete(o.bindings, sessionID)
		o.mu.Unlock()
		_, _ = o.queue.MarkFailed(t.ID, err.Error())
		o.bus.Publish(eventbus.Event{Kind: "task:failed", Payload: TaskFailedEvent{TaskID: t.ID, Error: err.Error()}})
		return nil
	}

	o.bus.Publish(eventbus.Event{Kind: "task:assigned", Payload: TaskAssignedEvent{TaskID: t.ID, SessionID: sessionID, RunID: runID}})
	return nil
}

// availableSessions returns sessions with kind "agent" and state idle or
// waiting, excluding any already bound to a worktree other than worktreeID
// (when worktreeID is non-empty).
func (o *Orchestrator) availableSessions(worktreeID string) []Session {
	all := o.sessions.ListSessions()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		if s.Kind != "agent" {
			continue
		}
		if s.State != SessionIdle && s.State != SessionWaiting {
			continue
		}
		if worktreeID != "" && s.WorktreeID != "" && s.WorktreeID != worktreeID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func sessionAvailable(available []Session, id string) bool {
	for _, s := range available {
		if s.ID == id {
			return true
		}
	}
	return false
}

// OnAgentCompleted handles an agent:completed event for the task currently
// bound to sessionID, if any, then re-runs assignment for the next task
// (spec §4.8 step 5).
func (o *Orchestrator) OnAgentCompleted(ctx context.Context, sessionID string, result *task.Result) error {
	taskID, ok := o.unbind(sessionID)
	if !ok {
		return nil
	}
	if _, err := o.queue.MarkCompleted(taskID, result); err != nil {
		return err
	}
	o.bus.Publish(eventbus.Event{Kind: "task:completed", Payload: TaskCompletedEvent{TaskID: taskID, SessionID: sessionID}})
	return o.TryAssign(ctx)
}

// OnAgentFailed handles an agent:failed event analogously to
// OnAgentCompleted, marking the bound task failed instead.
func (o *Orchestrator) OnAgentFailed(ctx context.Context, sessionID string, errMsg string) error {
	taskID, ok := o.unbind(sessionID)
	if !ok {
		return nil
	}
	if _, err := o.queue.MarkFailed(taskID, errMsg); err != nil {
		return err
	}
	o.bus.Publish(eventbus.Event{Kind: "task:failed", Payload: TaskFailedEvent{TaskID: taskID, Error: errMsg}})
	return o.TryAssign(ctx)
}

func (o *Orchestrator) unbind(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	taskID, ok := o.bindings[sessionID]
	if ok {
		delete(o.bindings, sessionID)
	}
	return taskID, ok
}

// OnWorktreeRemoved cancels every non-terminal task bound to the removed
// worktree, cascading to dependents, per spec §4.8.
func (o *Orchestrator) OnWorktreeRemoved(worktreeID string) []error {
	var errs []error
	for _, t := range o.queue.ListTasks(task.Filter{Worktree: worktreeID}) {
		if t.Status.Terminal() {
			continue
		}
		if _, err := o.queue.Cancel(t.ID); err != nil {
			var ce *coreerrors.Error
			if errors.As(err, &ce) && ce.Kind == coreerrors.InvalidState {
				continue // became terminal between the list and the cancel call
			}
			errs = append(errs, err)
		}
	}
	return errs
}

// TaskAssignedEvent is published on eventbus kind "task:assigned".
type TaskAssignedEvent struct {
	TaskID    string
	SessionID string
	RunID     string
}

// TaskCompletedEvent is published on eventbus kind "task:completed".
type TaskCompletedEvent struct {
	TaskID    string
	SessionID string
}

// TaskFailedEvent is published on eventbus kind "task:failed".
type TaskFailedEvent struct {
	TaskID string
	Error  string
}
