// Package state implements the per-session state machine described in spec
// §4.4: idle/working/waiting/completed/failed, driven by confidence-scored
// triggers rather than direct mutation.
package state

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the five session states spec §3/§4.4 allow.
type State string

const (
	Idle      State = "idle"
	Working   State = "working"
	Waiting   State = "waiting"
	Completed State = "completed"
	Failed    State = "failed"
)

func (s State) terminal() bool {
	return s == Completed || s == Failed
}

// Trigger identifies the event that is attempting to move a session between
// states.
type Trigger string

const (
	TriggerUserInput        Trigger = "user_input"
	TriggerOutputQuiescence Trigger = "output_quiescence"
	TriggerWaitingCue       Trigger = "waiting_cue"
	TriggerCompletionCue    Trigger = "completion_cue"
	TriggerFailureCue       Trigger = "failure_cue"
	TriggerRestart          Trigger = "restart"
)

// defaultThresholds are the per-trigger confidence thresholds a transition
// must clear to be accepted (spec §4.4: "a transition is accepted only when
// confidence exceeds a per-event threshold"). Not contractual — configurable
// like the worktree monitor's intervals (spec §9).
var defaultThresholds = map[Trigger]float64{
	TriggerUserInput:        0.5,
	TriggerOutputQuiescence: 0.6,
	TriggerWaitingCue:       0.7,
	TriggerCompletionCue:    0.8,
	TriggerFailureCue:       0.8,
	TriggerRestart:          0,
}

// transitions enumerates the legal (from, trigger) -> to edges. Anything not
// listed is rejected as an illegal transition, including any transition out
// of a terminal state other than TriggerRestart (handled separately since it
// constructs a new session id rather than mutating the existing one).
var transitions = map[State]map[Trigger]State{
	Idle: {
		TriggerUserInput: Working,
	},
	Working: {
		TriggerOutputQuiescence: Idle,
		TriggerWaitingCue:       Waiting,
		TriggerCompletionCue:    Completed,
		TriggerFailureCue:       Failed,
	},
	Waiting: {
		TriggerUserInput:     Working,
		TriggerCompletionCue: Completed,
		TriggerFailureCue:    Failed,
	},
}

// Transition is the accepted event record emitted on every successful
// transition (spec §4.4): previous state, new state, timestamp, trigger,
// confidence, and — when present — the worktree binding.
type Transition struct {
	SessionID  string
	Previous   State
	Next       State
	Trigger    Trigger
	Confidence float64
	At         time.Time
	WorktreeID string
}

// ErrIllegalTransition is returned when a (state, trigger) pair has no edge,
// or confidence didn't clear the threshold.
type ErrIllegalTransition struct {
	From       State
	Trigger    Trigger
	Confidence float64
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("state: illegal transition from %s on trigger %s (confidence %.2f)", e.From, e.Trigger, e.Confidence)
}

// Machine tracks one session's state and enforces spec §4.4's invariant that
// last-state-change timestamps never decrease, and that terminal states
// cannot be left except via Restart.
type Machine struct {
	mu           sync.Mutex
	sessionID    string
	current      State
	lastChange   time.Time
	thresholds   map[Trigger]float64
	worktreeID   string
}

// New creates a Machine for a session starting in Idle, matching spec §3's
// session lifecycle (created by a spawn request).
func New(sessionID string, worktreeID string, now time.Time) *Machine {
	return &Machine{
		sessionID:  sessionID,
		current:    Idle,
		lastChange: now,
		thresholds: defaultThresholds,
		worktreeID: worktreeID,
	}
}

// Current returns the session's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// LastChange returns the timestamp of the most recent accepted transition.
func (m *Machine) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// Apply attempts a transition triggered by an event with the given
// confidence. It returns the resulting Transition record on success, or an
// ErrIllegalTransition if the (state, trigger) pair has no edge or the
// confidence does not exceed the threshold. A now earlier than the machine's
// last recorded change time is clamped to that time, so the recorded
// timestamps never decrease; the caller (the PTY host's per-session mailbox,
// spec §5) is responsible for serialising calls per session.
func (m *Machine) Apply(trigger Trigger, confidence float64, now time.Time) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.terminal() {
		return Transition{}, ErrIllegalTransition{From: m.current, Trigger: trigger, Confidence: confidence}
	}

	edges, ok := transitions[m.current]
	if !ok {
		return Transition{}, ErrIllegalTransition{From: m.current, Trigger: trigger, Confidence: confidence}
	}
	next, ok := edges[trigger]
	if !ok {
		return Transition{}, ErrIllegalTransition{From: m.current, Trigger: trigger, Confidence: confidence}
	}

	threshold := m.thresholds[trigger]
	if confidence <= threshold {
		return Transition{}, ErrIllegalTransition{From: m.current, Trigger: trigger, Confidence: confidence}
	}

	if now.Before(m.lastChange) {
		now = m.lastChange // monotonic non-decreasing invariant (spec §4.4, §8)
	}

	prev := m.current
	m.current = next
	m.lastChange = now

	return Transition{
		SessionID:  m.sessionID,
		Previous:   prev,
		Next:       next,
		Trigger:    trigger,
		Confidence: confidence,
		At:         now,
		WorktreeID: m.worktreeID,
	}, nil
}

// Restart replaces a terminal session's machine with a fresh one under a new
// session id, per spec §4.4: "transitions from terminal states are not
// permitted except via restart (which constructs a new session id)".
func Restart(newSessionID, worktreeID string, now time.Time) *Machine {
	return New(newSessionID, worktreeID, now)
}
