package eventbus

import (
	"testing"
)

func TestPublishInvokesSubscribersInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int

	b.Subscribe("task", func(Event) { order = append(order, 1) })
	b.Subscribe("task", func(Event) { order = append(order, 2) })
	b.Subscribe("task", func(Event) { order = append(order, 3) })

	b.Publish(Event{Kind: "task", Payload: nil})

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	called := 0
	sub := b.Subscribe("k", func(Event) { called++ })

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // must not panic or double-remove

	b.Publish(Event{Kind: "k"})
	if called != 0 {
		t.Fatalf("called = %d, want 0", called)
	}
}

func TestSubscriberPanicDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	secondCalled := false

	b.Subscribe("k", func(Event) { panic("boom") })
	b.Subscribe("k", func(Event) { secondCalled = true })

	b.Publish(Event{Kind: "k"})

	if !secondCalled {
		t.Fatal("expected second subscriber to still be invoked after first panicked")
	}
}

func TestDifferentKindsAreIsolated(t *testing.T) {
	b := New(nil)
	var gotA, gotB int

	b.Subscribe("a", func(Event) { gotA++ })
	b.Subscribe("b", func(Event) { gotB++ })

	b.Publish(Event{Kind: "a"})

	if gotA != 1 || gotB != 0 {
		t.Fatalf("gotA=%d gotB=%d", gotA, gotB)
	}
}
