// Package task implements the DAG-structured task store described in spec
// §4.7: create/enqueue/dequeue, dependency graph with cycle detection,
// cascading failure/cancellation, and persistence.
package task

import "time"

// Status is one of the task lifecycle states from spec §3.
type Status string

const (
	Draft     Status = "draft"
	Queued    Status = "queued"
	Blocked   Status = "blocked"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

func (s Status) NonTerminal() bool {
	return !s.Terminal()
}

// RoutingHints optionally steers orchestrator assignment (spec §3, §4.8).
type RoutingHints struct {
	RequiredCapabilities []string
	PreferredDomains     []string
}

// Result carries a task's outcome: either a payload on success, or an error
// message on failure/cancellation.
type Result struct {
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Task is one DAG node (spec §3). Dependencies/Dependents are kept as sets
// for O(1) membership tests during cycle detection and cascades.
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    int

	Dependencies map[string]struct{} // deps this task waits on
	Dependents   map[string]struct{} // reverse index: tasks waiting on this one
	BlockedBy    map[string]struct{} // subset of Dependencies not yet satisfied

	Status          Status
	WorktreeID      string
	RoutingHints    *RoutingHints
	AssignedSession string
	RunID           string

	CreatedAt   time.Time
	QueuedAt    time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Result *Result
}

// Spec is the input to CreateTask.
type Spec struct {
	ID           string
	Title        string
	Description  string
	Priority     int
	Dependencies []string
	WorktreeID   string
	RoutingHints *RoutingHints
}

func newTask(spec Spec, now time.Time) *Task {
	deps := make(map[string]struct{}, len(spec.Dependencies))
	for _, d := range spec.Dependencies {
		deps[d] = struct{}{}
	}
	return &Task{
		ID:           spec.ID,
		Title:        spec.Title,
		Description:  spec.Description,
		Priority:     spec.Priority,
		Dependencies: deps,
		Dependents:   make(map[string]struct{}),
		BlockedBy:    make(map[string]struct{}),
		Status:       Draft,
		WorktreeID:   spec.WorktreeID,
		RoutingHints: spec.RoutingHints,
		CreatedAt:    now,
	}
}

// clone returns a shallow copy safe to hand to a caller without exposing
// the queue's internal maps to mutation.
func (t *Task) clone() *Task {
	cp := *t
	cp.Dependencies = cloneSet(t.Dependencies)
	cp.Dependents = cloneSet(t.Dependents)
	cp.BlockedBy = cloneSet(t.BlockedBy)
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	return &cp
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
