package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// record is the on-disk representation of a Task. Dependency/dependent sets
// are serialised as sorted slices since JSON has no set type.
type record struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Priority        int           `json:"priority"`
	Dependencies    []string      `json:"dependencies"`
	Dependents      []string      `json:"dependents"`
	BlockedBy       []string      `json:"blocked_by"`
	Status          Status        `json:"status"`
	WorktreeID      string        `json:"worktree_id,omitempty"`
	RoutingHints    *RoutingHints `json:"routing_hints,omitempty"`
	AssignedSession string        `json:"assigned_session,omitempty"`
	RunID           string        `json:"run_id,omitempty"`
	CreatedAt       string        `json:"created_at"`
	QueuedAt        string        `json:"queued_at,omitempty"`
	StartedAt       string        `json:"started_at,omitempty"`
	CompletedAt     string        `json:"completed_at,omitempty"`
	Result          *Result       `json:"result,omitempty"`
}

// Store is an opt-in write-through persistence layer for a Queue: every
// mutating Queue call is followed by a Save so the on-disk file always
// reflects the in-memory graph (spec §4.7 "an opt-in write-through store").
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a Store writing to <dir>/tasks.json.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "tasks.json")}
}

// Save writes the queue's full task set to disk, atomically via a temp file
// rename so a crash mid-write can't corrupt the store.
func (s *Store) Save(q *Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q.mu.Lock()
	records := make([]record, 0, len(q.orderedIDs))
	for _, id := range q.orderedIDs {
		records = append(records, toRecord(q.tasks[id]))
	}
	q.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("task store: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("task store: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("task store: write: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load reads the on-disk task set into a fresh Queue. Any task found in
// running is demoted to queued, per spec §4.7: "on restart ... any task in
// running is demoted to queued (assuming its run did not survive)".
func (s *Store) Load(now func() time.Time) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := NewQueue(now)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task store: read: %w", err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("task store: unmarshal: %w", err)
	}

	for _, r := range records {
		t := fromRecord(r)
		if t.Status == Running {
			t.Status = Queued
			t.AssignedSession = ""
			t.RunID = ""
		}
		q.tasks[t.ID] = t
		q.orderedIDs = append(q.orderedIDs, t.ID)
	}
	return q, nil
}

func toRecord(t *Task) record {
	r := record{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Priority:        t.Priority,
		Dependencies:    sortedKeys(t.Dependencies),
		Dependents:      sortedKeys(t.Dependents),
		BlockedBy:       sortedKeys(t.BlockedBy),
		Status:          t.Status,
		WorktreeID:      t.WorktreeID,
		RoutingHints:    t.RoutingHints,
		AssignedSession: t.AssignedSession,
		RunID:           t.RunID,
		Result:          t.Result,
	}
	if !t.CreatedAt.IsZero() {
		r.CreatedAt = t.CreatedAt.Format(timeLayout)
	}
	if !t.QueuedAt.IsZero() {
		r.QueuedAt = t.QueuedAt.Format(timeLayout)
	}
	if !t.StartedAt.IsZero() {
		r.StartedAt = t.StartedAt.Format(timeLayout)
	}
	if !t.CompletedAt.IsZero() {
		r.CompletedAt = t.CompletedAt.Format(timeLayout)
	}
	return r
}

func fromRecord(r record) *Task {
	t := &Task{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		Priority:        r.Priority,
		Dependencies:    toSet(r.Dependencies),
		Dependents:      toSet(r.Dependents),
		BlockedBy:       toSet(r.BlockedBy),
		Status:          r.Status,
		WorktreeID:      r.WorktreeID,
		RoutingHints:    r.RoutingHints,
		AssignedSession: r.AssignedSession,
		RunID:           r.RunID,
		Result:          r.Result,
	}
	t.CreatedAt = parseTime(r.CreatedAt)
	t.QueuedAt = parseTime(r.QueuedAt)
	t.StartedAt = parseTime(r.StartedAt)
	t.CompletedAt = parseTime(r.CompletedAt)
	return t
}

func sortedKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

const timeLayout = time.RFC3339Nano
