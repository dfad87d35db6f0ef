package worktree

import "testing"

func TestComputeHashDeterministicUnderReordering(t *testing.T) {
	a := []FileDelta{{Path: "b.go", Status: "M"}, {Path: "a.go", Status: "A"}}
	b := []FileDelta{{Path: "a.go", Status: "A"}, {Path: "b.go", Status: "M"}}
	if computeHash(a) != computeHash(b) {
		t.Fatal("expected hash to be order-independent over file deltas")
	}
}

func TestComputeHashDiffersOnStatusChange(t *testing.T) {
	a := []FileDelta{{Path: "a.go", Status: "M"}}
	b := []FileDelta{{Path: "a.go", Status: "A"}}
	if computeHash(a) == computeHash(b) {
		t.Fatal("expected hash to change when a delta's status changes")
	}
}

func TestClassifyMood(t *testing.T) {
	cases := []struct {
		count int
		want  Mood
	}{
		{0, MoodClean},
		{1, MoodActive},
		{busyThreshold - 1, MoodActive},
		{busyThreshold, MoodBusy},
	}
	for _, c := range cases {
		if got := classifyMood(c.count); got != c.want {
			t.Fatalf("classifyMood(%d) = %v, want %v", c.count, got, c.want)
		}
	}
}
