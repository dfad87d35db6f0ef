package remote

import (
	"testing"

	"github.com/trybotster/botster-core/internal/ptyhost"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	client := ptyhost.NewClient("ws://unused.invalid/", nil)
	b, err := New(Config{ProjectID: "proj-1", StateDir: t.TempDir(), Ephemeral: true}, client, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewRequiresProjectID(t *testing.T) {
	client := ptyhost.NewClient("ws://unused.invalid/", nil)
	if _, err := New(Config{}, client, nil); err == nil {
		t.Fatal("expected an error constructing a Bridge without a ProjectID")
	}
}

func TestNewDefaultsPollInterval(t *testing.T) {
	b := newTestBridge(t)
	if b.cfg.PollInterval <= 0 {
		t.Fatalf("expected a positive default poll interval, got %v", b.cfg.PollInterval)
	}
}

func TestShortIDTruncates(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID long = %q, want %q", got, "01234567")
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID short = %q, want %q", got, "abc")
	}
}

func TestSubscribeFansOutToMultipleWatchers(t *testing.T) {
	b := newTestBridge(t)

	ch1, unsub1 := b.subscribe("sess-1")
	defer unsub1()
	ch2, unsub2 := b.subscribe("sess-1")
	defer unsub2()

	ev := ptyhost.Event{Kind: ptyhost.EventData, SessionID: "sess-1", Snapshot: []byte("frame")}
	b.mu.Lock()
	for _, ch := range b.watchers["sess-1"] {
		ch <- ev
	}
	b.mu.Unlock()

	select {
	case got := <-ch1:
		if string(got.Snapshot) != "frame" {
			t.Fatalf("ch1 got %q", got.Snapshot)
		}
	default:
		t.Fatal("expected ch1 to receive the fanned-out event")
	}
	select {
	case got := <-ch2:
		if string(got.Snapshot) != "frame" {
			t.Fatalf("ch2 got %q", got.Snapshot)
		}
	default:
		t.Fatal("expected ch2 to receive the fanned-out event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBridge(t)

	ch, unsub := b.subscribe("sess-1")
	unsub()

	b.mu.Lock()
	remaining := len(b.watchers["sess-1"])
	b.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no watchers left after unsubscribe, got %d", remaining)
	}

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event delivered after unsubscribe: %+v", ev)
		}
	default:
	}
}
