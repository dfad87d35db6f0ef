package monitor

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/trybotster/botster-core/internal/controller"
	"github.com/trybotster/botster-core/internal/eventbus"
	"github.com/trybotster/botster-core/internal/orchestrator"
	"github.com/trybotster/botster-core/internal/task"
)

func newTestSystem(t *testing.T) *controller.System {
	t.Helper()
	dir := t.TempDir()
	s, err := controller.NewSystem(controller.Config{DataDir: dir, HostURL: "ws://unused.invalid/"})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRefreshWithNoSessionsOrTasks(t *testing.T) {
	m := New(newTestSystem(t))
	m.refresh()
	if len(m.sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(m.sessions))
	}
	if m.currentSession() != nil {
		t.Fatal("expected no current session when the list is empty")
	}
}

func TestRefreshPicksUpQueuedTasks(t *testing.T) {
	system := newTestSystem(t)
	if _, err := system.Queue().CreateTask(task.Spec{ID: "t1", Title: "do the thing", Priority: 1}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	m := New(system)
	m.refresh()
	if len(m.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(m.tasks))
	}
}

func TestAppendLogTruncatesAtMax(t *testing.T) {
	m := New(newTestSystem(t))
	for i := 0; i < maxLogLines+10; i++ {
		m.appendLog(eventbus.Event{Kind: "task:assigned"})
	}
	if len(m.logLines) != maxLogLines {
		t.Fatalf("expected log capped at %d lines, got %d", maxLogLines, len(m.logLines))
	}
}

func TestSelectedSessionClampsOnRefresh(t *testing.T) {
	m := New(newTestSystem(t))
	m.selectedSession = 5
	m.refresh()
	if m.selectedSession != 0 {
		t.Fatalf("expected selection clamped to 0 with no sessions, got %d", m.selectedSession)
	}
}

func TestUpdateQuitKeySetsQuitting(t *testing.T) {
	m := New(newTestSystem(t))
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	mm := updated.(model)
	if !mm.quitting {
		t.Fatal("expected quitting to be set after 'q'")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}

func TestUpdateWindowSizeResizesLogViewport(t *testing.T) {
	m := New(newTestSystem(t))
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	mm := updated.(model)
	if mm.log.Width != 96 {
		t.Fatalf("expected log width 96, got %d", mm.log.Width)
	}
	if mm.log.Height != 30 {
		t.Fatalf("expected log height 30, got %d", mm.log.Height)
	}
}

func TestViewRendersHeaderAndFooter(t *testing.T) {
	m := New(newTestSystem(t))
	m.refresh()
	out := m.View()
	if !strings.Contains(out, "Botster Monitor") {
		t.Fatalf("expected title in view, got %q", out)
	}
	if !strings.Contains(out, "reconcile") {
		t.Fatalf("expected footer hint in view, got %q", out)
	}
}

func TestSessionStateStyleCoversAllStates(t *testing.T) {
	for _, s := range []orchestrator.SessionState{orchestrator.SessionIdle, orchestrator.SessionWaiting, orchestrator.SessionState("working")} {
		if sessionStateStyle(s).String() == "" {
			// styles with no attributes can render empty for plain text;
			// this just exercises every branch without panicking.
			_ = s
		}
	}
}
