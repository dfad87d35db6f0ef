package task

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/trybotster/botster-core/internal/coreerrors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDAGCycleRejection(t *testing.T) {
	base := time.Now()
	q := NewQueue(fixedClock(base))

	if _, err := q.CreateTask(Spec{ID: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.CreateTask(Spec{ID: "B", Dependencies: []string{"A"}}); err != nil {
		t.Fatal(err)
	}

	err := q.AddDependency("A", "B")
	var ce *coreerrors.Error
	if !errors.As(err, &ce) || ce.Kind != coreerrors.CycleDetected {
		t.Fatalf("got %v, want CycleDetected", err)
	}

	// Graph unchanged: A still has no dependencies.
	a, _ := q.Get("A")
	if len(a.Dependencies) != 0 {
		t.Fatalf("A.Dependencies = %v, want empty", a.Dependencies)
	}
}

func TestCascadingFailure(t *testing.T) {
	base := time.Now()
	q := NewQueue(fixedClock(base))

	mustCreate(t, q, Spec{ID: "A"})
	mustCreate(t, q, Spec{ID: "B", Dependencies: []string{"A"}})
	mustCreate(t, q, Spec{ID: "C", Dependencies: []string{"B"}})

	for _, id := range []string{"A", "B", "C"} {
		if err := q.Enqueue(id); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := q.MarkRunning("A", "sess-1", "run-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.MarkFailed("A", "A failed"); err != nil {
		t.Fatal(err)
	}

	b, _ := q.Get("B")
	c, _ := q.Get("C")
	if b.Status != Failed || c.Status != Failed {
		t.Fatalf("B=%s C=%s, want both failed", b.Status, c.Status)
	}
	if !strings.Contains(b.Result.Error, "Upstream") || !strings.Contains(c.Result.Error, "Upstream") {
		t.Fatalf("expected upstream-failure message, got B=%q C=%q", b.Result.Error, c.Result.Error)
	}
}

func TestPriorityTieBreak(t *testing.T) {
	base := time.Now()
	q := NewQueue(fixedClock(base))

	mustCreate(t, q, Spec{ID: "P1", Priority: 5})
	q.now = fixedClock(base.Add(time.Millisecond))
	mustCreate(t, q, Spec{ID: "P2", Priority: 5})
	q.now = fixedClock(base.Add(2 * time.Millisecond))
	mustCreate(t, q, Spec{ID: "P3", Priority: 10})

	for _, id := range []string{"P1", "P2", "P3"} {
		if err := q.Enqueue(id); err != nil {
			t.Fatal(err)
		}
	}

	order := []string{}
	for {
		next := q.DequeueNext()
		if next == nil {
			break
		}
		order = append(order, next.ID)
		if _, err := q.MarkRunning(next.ID, "sess", "run-"+next.ID); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"P3", "P1", "P2"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestEnqueueBlockedWhenDependencyUnmet(t *testing.T) {
	base := time.Now()
	q := NewQueue(fixedClock(base))

	mustCreate(t, q, Spec{ID: "A"})
	mustCreate(t, q, Spec{ID: "B", Dependencies: []string{"A"}})

	if err := q.Enqueue("A"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue("B"); err != nil {
		t.Fatal(err)
	}

	b, _ := q.Get("B")
	if b.Status != Blocked {
		t.Fatalf("B.Status = %s, want blocked", b.Status)
	}
	if q.DequeueNext().ID != "A" {
		t.Fatal("expected A to be the only queued task")
	}

	if _, err := q.MarkRunning("A", "sess", "run-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.MarkCompleted("A", nil); err != nil {
		t.Fatal(err)
	}

	b, _ = q.Get("B")
	if b.Status != Queued {
		t.Fatalf("B.Status = %s, want queued after A completed", b.Status)
	}
}

func TestRemoveDependencyUnblocks(t *testing.T) {
	base := time.Now()
	q := NewQueue(fixedClock(base))

	mustCreate(t, q, Spec{ID: "A"})
	mustCreate(t, q, Spec{ID: "B", Dependencies: []string{"A"}})
	if err := q.Enqueue("B"); err != nil {
		t.Fatal(err)
	}

	b, _ := q.Get("B")
	if b.Status != Blocked {
		t.Fatalf("B.Status = %s, want blocked", b.Status)
	}

	if err := q.RemoveDependency("B", "A"); err != nil {
		t.Fatal(err)
	}
	b, _ = q.Get("B")
	if b.Status != Queued {
		t.Fatalf("B.Status = %s, want queued once its only dependency is removed", b.Status)
	}
}

func TestCancelNonTerminalCascades(t *testing.T) {
	base := time.Now()
	q := NewQueue(fixedClock(base))

	mustCreate(t, q, Spec{ID: "A"})
	mustCreate(t, q, Spec{ID: "B", Dependencies: []string{"A"}})
	if err := q.Enqueue("A"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue("B"); err != nil {
		t.Fatal(err)
	}

	if _, err := q.Cancel("A"); err != nil {
		t.Fatal(err)
	}

	b, _ := q.Get("B")
	if b.Status != Cancelled {
		t.Fatalf("B.Status = %s, want cancelled", b.Status)
	}
}

func TestDependencyMissingRejectsCreate(t *testing.T) {
	q := NewQueue(fixedClock(time.Now()))
	_, err := q.CreateTask(Spec{ID: "A", Dependencies: []string{"ghost"}})
	var ce *coreerrors.Error
	if !errors.As(err, &ce) || ce.Kind != coreerrors.DependencyMissing {
		t.Fatalf("got %v, want DependencyMissing", err)
	}
}

func mustCreate(t *testing.T, q *Queue, spec Spec) *Task {
	t.Helper()
	task, err := q.CreateTask(spec)
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", spec.ID, err)
	}
	return task
}
