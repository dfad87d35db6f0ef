package task

import (
	"testing"
	"time"
)

func TestStoreRoundTripAndRestartDemotion(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	store := NewStore(dir)

	q := NewQueue(fixedClock(base))
	mustCreate(t, q, Spec{ID: "A"})
	mustCreate(t, q, Spec{ID: "B", Dependencies: []string{"A"}})
	if err := q.Enqueue("A"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue("B"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.MarkRunning("A", "sess-1", "run-1"); err != nil {
		t.Fatal(err)
	}

	if err := store.Save(q); err != nil {
		t.Fatal(err)
	}

	restored, err := store.Load(fixedClock(base))
	if err != nil {
		t.Fatal(err)
	}

	a, ok := restored.Get("A")
	if !ok {
		t.Fatal("task A missing after restart")
	}
	if a.Status != Queued {
		t.Fatalf("A.Status = %s, want queued (running tasks are demoted on restart)", a.Status)
	}
	if a.AssignedSession != "" {
		t.Fatalf("A.AssignedSession = %q, want cleared on demotion", a.AssignedSession)
	}

	b, ok := restored.Get("B")
	if !ok {
		t.Fatal("task B missing after restart")
	}
	if b.Status != Blocked {
		t.Fatalf("B.Status = %s, want blocked (unchanged)", b.Status)
	}
	if len(b.Dependencies) != 1 {
		t.Fatalf("B.Dependencies = %v, want {A}", b.Dependencies)
	}
}

func TestStoreLoadMissingFileReturnsEmptyQueue(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	q, err := store.Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats := q.GetStats(); stats.Total != 0 {
		t.Fatalf("Total = %d, want 0", stats.Total)
	}
}
