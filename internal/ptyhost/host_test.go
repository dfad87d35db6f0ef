package ptyhost

import (
	"context"
	"testing"
	"time"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/state"
)

func drainReady(t *testing.T, h *Host) {
	t.Helper()
	select {
	case e := <-h.Events():
		if e.Kind != EventReady {
			t.Fatalf("expected ready event first, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ready event")
	}
}

func nextEvent(t *testing.T, h *Host) Event {
	t.Helper()
	select {
	case e := <-h.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHostEmitsReadyOnConstruction(t *testing.T) {
	h := New(nil)
	drainReady(t, h)
}

func TestHostSpawnWriteKill(t *testing.T) {
	h := New(nil)
	drainReady(t, h)

	ctx := context.Background()
	h.Handle(ctx, Request{Kind: ReqSpawn, SessionID: "s1", Spawn: SpawnConfig{Shell: "/bin/sh", Rows: 24, Cols: 80}})

	e := nextEvent(t, h)
	if e.Kind != EventSpawnResult || e.Err != nil {
		t.Fatalf("expected clean spawn-result, got %+v", e)
	}

	h.Handle(ctx, Request{Kind: ReqSubmit, SessionID: "s1", Line: "echo hi"})

	h.Handle(ctx, Request{Kind: ReqKill, SessionID: "s1"})
}

func TestHostWriteUnknownSessionEmitsDisconnected(t *testing.T) {
	h := New(nil)
	drainReady(t, h)

	h.Handle(context.Background(), Request{Kind: ReqWrite, SessionID: "ghost", Bytes: []byte("x")})

	e := nextEvent(t, h)
	if e.Kind != EventError {
		t.Fatalf("expected error event, got %v", e.Kind)
	}
	var ce *coreerrors.Error
	if !errorsAs(e.Err, &ce) || ce.Kind != coreerrors.Disconnected {
		t.Fatalf("expected Disconnected error, got %v", e.Err)
	}
}

func TestHostTransitionStateEmitsAgentState(t *testing.T) {
	h := New(nil)
	drainReady(t, h)

	ctx := context.Background()
	h.Handle(ctx, Request{Kind: ReqSpawn, SessionID: "s1", Spawn: SpawnConfig{Shell: "/bin/sh"}})
	nextEvent(t, h) // spawn-result

	h.Handle(ctx, Request{Kind: ReqTransitionState, SessionID: "s1", Trigger: state.TriggerUserInput, Confidence: 0.9})
	e := nextEvent(t, h)
	if e.Kind != EventAgentState || e.Transition.Next != state.Working {
		t.Fatalf("expected agent-state to working, got %+v", e)
	}
}

func TestHostWatermarkPausesAndResumes(t *testing.T) {
	h := New(nil)
	drainReady(t, h)
	sess := newSession("s1", "", h.onSessionEvent, nil, time.Now())
	h.mu.Lock()
	h.sessions["s1"] = sess
	h.mu.Unlock()

	if err := sess.SetTier(TierActive, 16); err != nil {
		t.Fatalf("SetTier: %v", err)
	}

	sess.writeActive(make([]byte, 15)) // 15/16 = 93.75% >= 90%
	drained := drainAllUpTo(t, h, EventTerminalStatus)
	if drained.Status != StatusPaused {
		t.Fatalf("expected paused status, got %v", drained.Status)
	}
}

func drainAllUpTo(t *testing.T, h *Host, kind EventKind) Event {
	t.Helper()
	for i := 0; i < 10; i++ {
		select {
		case e := <-h.Events():
			if e.Kind == kind {
				return e
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
	t.Fatalf("never observed event kind %v", kind)
	return Event{}
}

func TestHostHealthCheckHandshakeCancelledByPong(t *testing.T) {
	h := New(nil)
	drainReady(t, h)

	h.Handle(context.Background(), Request{Kind: ReqHealthCheck})
	e := nextEvent(t, h)
	if e.Kind != EventPong {
		t.Fatalf("expected pong, got %v", e.Kind)
	}
	h.HandlePong()

	h.mu.Lock()
	pending := h.healthPending
	h.mu.Unlock()
	if pending {
		t.Fatal("expected health check to no longer be pending after pong")
	}
}

func TestHostPauseAllResumeAll(t *testing.T) {
	h := New(nil)
	drainReady(t, h)
	ctx := context.Background()
	h.Handle(ctx, Request{Kind: ReqSpawn, SessionID: "s1", Spawn: SpawnConfig{Shell: "/bin/sh"}})
	nextEvent(t, h)

	h.Handle(ctx, Request{Kind: ReqPauseAll})
	h.mu.Lock()
	sess := h.sessions["s1"]
	h.mu.Unlock()
	if !sess.paused {
		t.Fatal("expected session paused after pause-all")
	}

	h.Handle(ctx, Request{Kind: ReqResumeAll})
	if sess.paused {
		t.Fatal("expected session resumed after resume-all")
	}
}

// errorsAs is a tiny local shim so this file doesn't need to import errors
// twice under two names; kept trivial on purpose.
func errorsAs(err error, target **coreerrors.Error) bool {
	ce, ok := err.(*coreerrors.Error)
	if !ok {
		return false
	}
	*target = ce
	return true
}
