package ptyhost

import (
	"testing"
	"time"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/state"
)

func TestWireRequestRoundTrip(t *testing.T) {
	req := Request{
		Kind:      ReqSpawn,
		SessionID: "s1",
		Spawn:     SpawnConfig{Shell: "/bin/zsh", Rows: 30, Cols: 100},
		TrashTTL:  3 * time.Second,
	}
	got := fromWireRequest(toWireRequest(req))
	if got.Kind != req.Kind || got.SessionID != req.SessionID || got.Spawn != req.Spawn {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, req)
	}
	if got.TrashTTL != req.TrashTTL {
		t.Fatalf("trash ttl mismatch: got %v want %v", got.TrashTTL, req.TrashTTL)
	}
}

func TestWireEventRoundTripWithError(t *testing.T) {
	ev := Event{
		Kind:      EventError,
		SessionID: "s1",
		Err:       coreerrors.New(coreerrors.Disconnected, "gone").WithRef("abc"),
	}
	got := fromWireEvent(toWireEvent(ev))
	var ce *coreerrors.Error
	gotErr, ok := got.Err.(*coreerrors.Error)
	if !ok {
		t.Fatalf("expected *coreerrors.Error, got %T", got.Err)
	}
	ce = gotErr
	if ce.Kind != coreerrors.Disconnected || ce.Ref != "abc" || ce.Message != "gone" {
		t.Fatalf("error round trip mismatch: %+v", ce)
	}
}

func TestWireEventRoundTripWithTransition(t *testing.T) {
	ev := Event{
		Kind:      EventAgentState,
		SessionID: "s1",
		Transition: state.Transition{
			SessionID: "s1",
			Previous:  state.Idle,
			Next:      state.Working,
			Trigger:   state.TriggerUserInput,
		},
	}
	got := fromWireEvent(toWireEvent(ev))
	if got.Transition.Next != state.Working || got.Transition.Previous != state.Idle {
		t.Fatalf("transition round trip mismatch: %+v", got.Transition)
	}
}

func TestWireEventNilErrorStaysNil(t *testing.T) {
	ev := Event{Kind: EventData, SessionID: "s1"}
	got := fromWireEvent(toWireEvent(ev))
	if got.Err != nil {
		t.Fatalf("expected nil error, got %v", got.Err)
	}
}
