package worktree

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWorktreeCircuitBreakerTripsAfterThreeFailures(t *testing.T) {
	var snapshots []Snapshot
	calls := 0
	cfg := Config{
		WorktreeID:       "wt1",
		Path:             "/tmp/wt1",
		BreakerThreshold: 3,
		Now:              fixedNow(time.Unix(0, 0)),
		OnSnapshot:       func(s Snapshot) { snapshots = append(snapshots, s) },
		statusFetcher: func() ([]FileDelta, string, error) {
			calls++
			return nil, "", errors.New("vcs: unreachable")
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		m.RunCycle(ctx)
		if m.BreakerTripped() {
			t.Fatalf("breaker tripped too early at call %d", i+1)
		}
	}

	m.RunCycle(ctx)
	if !m.BreakerTripped() {
		t.Fatal("expected breaker tripped after 3rd consecutive failure")
	}
	if len(snapshots) != 1 || snapshots[0].Mood != MoodError {
		t.Fatalf("expected one error-mood snapshot, got %+v", snapshots)
	}

	// Polling stops while tripped: RunCycle short-circuits without calling
	// the fetcher again.
	callsBefore := calls
	m.RunCycle(ctx)
	if calls != callsBefore {
		t.Fatal("expected RunCycle to skip the fetcher while breaker is tripped")
	}

	m.Reset()
	if m.BreakerTripped() {
		t.Fatal("expected breaker cleared after Reset")
	}
}

func TestWorktreeIndexLockedDoesNotCountAsFailure(t *testing.T) {
	cfg := Config{
		WorktreeID: "wt1",
		Path:       "/tmp/wt1",
		Now:        fixedNow(time.Unix(0, 0)),
		statusFetcher: func() ([]FileDelta, string, error) {
			return nil, "", errors.New("unable to create '.git/index.lock': File exists")
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.RunCycle(ctx)
	}
	if m.BreakerTripped() {
		t.Fatal("index-locked errors must not trip the breaker")
	}
}

func TestWorktreeRemovedStopsMonitor(t *testing.T) {
	removed := ""
	cfg := Config{
		WorktreeID: "wt1",
		Now:        fixedNow(time.Unix(0, 0)),
		OnRemoved:  func(id string) { removed = id },
		statusFetcher: func() ([]FileDelta, string, error) {
			return nil, "", errWorktreeRemoved
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, stop := m.RunCycle(context.Background())
	if !stop {
		t.Fatal("expected RunCycle to report removal")
	}
	if removed != "wt1" {
		t.Fatalf("expected OnRemoved callback with id wt1, got %q", removed)
	}
}

func TestWorktreeCleanToDirtyTriggersImmediateSummary(t *testing.T) {
	triggered := 0
	calls := 0
	cfg := Config{
		WorktreeID: "wt1",
		Now:        fixedNow(time.Unix(0, 0)),
		OnSummaryTrigger: func(string) { triggered++ },
		statusFetcher: func() ([]FileDelta, string, error) {
			calls++
			if calls == 1 {
				return nil, "main", nil // clean
			}
			return []FileDelta{{Path: "a.go", Status: "M"}}, "main", nil // dirty
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	m.RunCycle(ctx) // clean
	m.RunCycle(ctx) // clean -> dirty
	if triggered != 1 {
		t.Fatalf("expected exactly one immediate summary trigger, got %d", triggered)
	}
}

func TestWorktreeUnchangedHashSkipsSnapshot(t *testing.T) {
	snapshots := 0
	cfg := Config{
		WorktreeID: "wt1",
		Now:        fixedNow(time.Unix(0, 0)),
		OnSnapshot: func(Snapshot) { snapshots++ },
		statusFetcher: func() ([]FileDelta, string, error) {
			return []FileDelta{{Path: "a.go", Status: "M"}}, "main", nil
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	m.RunCycle(ctx)
	m.RunCycle(ctx)
	m.RunCycle(ctx)
	if snapshots != 1 {
		t.Fatalf("expected exactly one snapshot for an unchanged hash, got %d", snapshots)
	}
}

func TestWorktreeForceRefreshReemitsSnapshot(t *testing.T) {
	snapshots := 0
	cfg := Config{
		WorktreeID: "wt1",
		Now:        fixedNow(time.Unix(0, 0)),
		OnSnapshot: func(Snapshot) { snapshots++ },
		statusFetcher: func() ([]FileDelta, string, error) {
			return []FileDelta{{Path: "a.go", Status: "M"}}, "main", nil
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	m.RunCycle(ctx)
	m.ForceRefresh()
	m.RunCycle(ctx)
	if snapshots != 2 {
		t.Fatalf("expected a snapshot on both the initial and force-refreshed cycle, got %d", snapshots)
	}
}

func TestWorktreeIntervalRespectsBaseAndMaxBounds(t *testing.T) {
	cfg := Config{
		WorktreeID:   "wt1",
		BaseInterval: 2 * time.Second,
		MaxInterval:  10 * time.Second,
		Now:          fixedNow(time.Unix(0, 0)),
		statusFetcher: func() ([]FileDelta, string, error) {
			return nil, "main", nil
		},
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.interval(0); got != cfg.BaseInterval {
		t.Fatalf("expected base interval floor, got %v", got)
	}
	if got := m.interval(100 * time.Second); got != cfg.MaxInterval {
		t.Fatalf("expected max interval ceiling, got %v", got)
	}
}
