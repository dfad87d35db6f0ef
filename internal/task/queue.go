package task

import (
	"sort"
	"sync"
	"time"

	"github.com/trybotster/botster-core/internal/coreerrors"
)

// Queue is the DAG-structured task store described in spec §4.7. It keeps a
// map for O(1) lookups and an ordered slice for stable iteration, the same
// dual-structure pattern used by the reference implementation's agent
// registry (see DESIGN.md).
//
// The controller's orchestration logic is expected to run on a single
// cooperative goroutine (spec §5), which is what makes the DAG operations
// "trivially race-free" there; Queue still takes its own mutex so it is safe
// to call from tests or callers that don't honour that assumption.
type Queue struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	orderedIDs []string
	now        func() time.Time
}

// NewQueue creates an empty Queue. now defaults to time.Now when nil; tests
// pass a fixed clock to make created_at tie-break deterministic.
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		tasks: make(map[string]*Task),
		now:   now,
	}
}

// Stats summarises the queue's current composition (spec §4.7 get_stats).
type Stats struct {
	Total    int
	ByStatus map[Status]int
}

// CreateTask validates dependencies exist and that adding them preserves
// acyclicity, then inserts the task in draft status (spec §4.7, §3).
func (q *Queue) CreateTask(spec Spec) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[spec.ID]; exists {
		return nil, coreerrors.New(coreerrors.InvalidState, "task id already exists: "+spec.ID)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := q.tasks[dep]; !ok {
			return nil, coreerrors.New(coreerrors.DependencyMissing, "dependency not found: "+dep)
		}
		if dep == spec.ID {
			return nil, coreerrors.New(coreerrors.CycleDetected, "self-loop: "+spec.ID)
		}
	}
	t := newTask(spec, q.now())
	q.tasks[t.ID] = t
	q.orderedIDs = append(q.orderedIDs, t.ID)
	for dep := range t.Dependencies {
		q.tasks[dep].Dependents[t.ID] = struct{}{}
	}
	return t.clone(), nil
}

// reaches reports whether a DFS from `from` over Dependencies edges reaches
// `to`, i.e. whether `from` already depends on `to`, directly or
// transitively. Used by AddDependency's cycle check: recording "a depends on
// b" is rejected when b already reaches a.
func (q *Queue) reaches(from, to string) bool {
	visited := make(map[string]bool)
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if id == to {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		t := q.tasks[id]
		if t == nil {
			return false
		}
		for dep := range t.Dependencies {
			if dfs(dep) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// AddDependency records that a depends on b (b must complete before a runs).
// Rejects self-loops and anything that would create a cycle, per spec §4.7
// and the literal scenario in spec §8 ("DAG cycle rejection").
func (q *Queue) AddDependency(a, b string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ta, ok := q.tasks[a]
	if !ok {
		return coreerrors.New(coreerrors.NotFound, "task not found: "+a)
	}
	tb, ok := q.tasks[b]
	if !ok {
		return coreerrors.New(coreerrors.NotFound, "task not found: "+b)
	}
	if a == b {
		return coreerrors.New(coreerrors.CycleDetected, "self-loop: "+a)
	}
	if _, already := ta.Dependencies[b]; already {
		return nil
	}
	// a would depend on b; reject if b can already reach a (that would close
	// a cycle once a -> b is added).
	if q.reaches(b, a) {
		return coreerrors.New(coreerrors.CycleDetected, "adding "+b+" -> "+a+" would create a cycle")
	}

	ta.Dependencies[b] = struct{}{}
	tb.Dependents[a] = struct{}{}
	if ta.Status == Queued || ta.Status == Blocked {
		ta.BlockedBy[b] = struct{}{}
		ta.Status = Blocked
	}
	return nil
}

// RemoveDependency drops the edge a->b. If a was blocked solely on b (and any
// other now-satisfied deps), it is re-evaluated from blocked back to queued.
func (q *Queue) RemoveDependency(a, b string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ta, ok := q.tasks[a]
	if !ok {
		return coreerrors.New(coreerrors.NotFound, "task not found: "+a)
	}
	tb, ok := q.tasks[b]
	if !ok {
		return coreerrors.New(coreerrors.NotFound, "task not found: "+b)
	}

	delete(ta.Dependencies, b)
	delete(tb.Dependents, a)
	delete(ta.BlockedBy, b)

	if ta.Status == Blocked && len(ta.BlockedBy) == 0 {
		ta.Status = Queued
	}
	return nil
}

// Enqueue transitions a draft task to queued (no unmet deps) or blocked (any
// unmet dep), recording the queue timestamp.
func (q *Queue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return coreerrors.New(coreerrors.NotFound, "task not found: "+id)
	}
	if t.Status != Draft {
		return coreerrors.New(coreerrors.InvalidState, "enqueue requires draft status, got "+string(t.Status))
	}

	for dep := range t.Dependencies {
		if depTask := q.tasks[dep]; depTask != nil && depTask.Status != Completed {
			t.BlockedBy[dep] = struct{}{}
		}
	}

	t.QueuedAt = q.now()
	if len(t.BlockedBy) > 0 {
		t.Status = Blocked
	} else {
		t.Status = Queued
	}
	return nil
}

// DequeueNext returns the highest-priority queued task (tie-break: older
// created_at), or nil if none is queued. Blocked tasks are never returned.
func (q *Queue) DequeueNext() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Task
	for _, id := range q.orderedIDs {
		t := q.tasks[id]
		if t.Status != Queued {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		if t.Priority > best.Priority {
			best = t
			continue
		}
		if t.Priority == best.Priority && t.CreatedAt.Before(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	return best.clone()
}

// MarkRunning transitions id from queued to running, recording the
// assignment. Legal only from queued.
func (q *Queue) MarkRunning(id, sessionID, runID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, coreerrors.New(coreerrors.NotFound, "task not found: "+id)
	}
	if t.Status != Queued {
		return nil, coreerrors.New(coreerrors.InvalidState, "mark_running requires queued status, got "+string(t.Status))
	}
	t.Status = Running
	t.AssignedSession = sessionID
	t.RunID = runID
	t.StartedAt = q.now()
	return t.clone(), nil
}

// MarkCompleted transitions id from running to completed and cascades:
// every dependent with all dependencies now satisfied moves blocked ->
// queued.
func (q *Queue) MarkCompleted(id string, result *Result) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, coreerrors.New(coreerrors.NotFound, "task not found: "+id)
	}
	if t.Status != Running {
		return nil, coreerrors.New(coreerrors.InvalidState, "mark_completed requires running status, got "+string(t.Status))
	}
	t.Status = Completed
	t.CompletedAt = q.now()
	t.Result = result

	for depID := range t.Dependents {
		dep := q.tasks[depID]
		if dep == nil || dep.Status != Blocked {
			continue
		}
		delete(dep.BlockedBy, id)
		if len(dep.BlockedBy) == 0 {
			dep.Status = Queued
		}
	}
	return t.clone(), nil
}

// MarkFailed transitions id from running to failed and cascades failure to
// every direct-or-transitive dependent still in a non-terminal state.
func (q *Queue) MarkFailed(id, errMsg string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, coreerrors.New(coreerrors.NotFound, "task not found: "+id)
	}
	if t.Status != Running {
		return nil, coreerrors.New(coreerrors.InvalidState, "mark_failed requires running status, got "+string(t.Status))
	}
	t.Status = Failed
	t.CompletedAt = q.now()
	t.Result = &Result{Error: errMsg}

	q.cascade(id, Failed, "Upstream task "+id+" failed: "+errMsg)
	return t.clone(), nil
}

// Cancel transitions id (legal from any non-terminal state) to cancelled and
// cascades the same way as failure but with the cancelled status.
func (q *Queue) Cancel(id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, coreerrors.New(coreerrors.NotFound, "task not found: "+id)
	}
	if t.Status.Terminal() {
		return nil, coreerrors.New(coreerrors.InvalidState, "cancel requires non-terminal status, got "+string(t.Status))
	}
	t.Status = Cancelled
	t.CompletedAt = q.now()
	t.Result = &Result{Error: "cancelled"}

	q.cascade(id, Cancelled, "Upstream task "+id+" was cancelled")
	return t.clone(), nil
}

// cascade walks the reverse-dependency index breadth-first from id, moving
// every direct-or-transitive dependent still in a non-terminal state to
// status with a composed message.
func (q *Queue) cascade(id string, status Status, message string) {
	visited := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		t := q.tasks[cur]
		if t == nil {
			continue
		}
		for depID := range t.Dependents {
			if visited[depID] {
				continue
			}
			visited[depID] = true
			dep := q.tasks[depID]
			if dep == nil || dep.Status.Terminal() {
				continue
			}
			dep.Status = status
			dep.CompletedAt = q.now()
			dep.Result = &Result{Error: message}
			queue = append(queue, depID)
		}
	}
}

// Filter selects tasks for ListTasks.
type Filter struct {
	Statuses  map[Status]bool
	Worktree  string
	Limit     int
	SortBy    SortField
	Ascending bool
}

// SortField is a ListTasks sort key.
type SortField string

const (
	SortByPriority  SortField = "priority"
	SortByCreatedAt SortField = "created_at"
)

// ListTasks returns a filtered, sorted snapshot. Default sort is priority
// descending.
func (q *Queue) ListTasks(f Filter) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.orderedIDs))
	for _, id := range q.orderedIDs {
		t := q.tasks[id]
		if f.Statuses != nil && !f.Statuses[t.Status] {
			continue
		}
		if f.Worktree != "" && t.WorktreeID != f.Worktree {
			continue
		}
		out = append(out, t.clone())
	}

	switch f.SortBy {
	case SortByCreatedAt:
		sort.Slice(out, func(i, j int) bool {
			if f.Ascending {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			if out[i].Priority != out[j].Priority {
				if f.Ascending {
					return out[i].Priority < out[j].Priority
				}
				return out[i].Priority > out[j].Priority
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// GetBlockedTasks returns every task currently in the blocked status.
func (q *Queue) GetBlockedTasks() []*Task {
	return q.ListTasks(Filter{Statuses: map[Status]bool{Blocked: true}})
}

// GetStats summarises the queue's composition.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Total: len(q.tasks), ByStatus: make(map[Status]int)}
	for _, t := range q.tasks {
		stats.ByStatus[t.Status]++
	}
	return stats
}

// Get returns a single task by id.
func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = make(map[string]*Task)
	q.orderedIDs = nil
}
