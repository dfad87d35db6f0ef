// Package monitor implements the live terminal dashboard subcommand: a
// Bubble Tea program that observes session and task state over the shared
// event bus and renders it, following the Elm architecture the reference
// hub's TUI uses (Model/Update/View).
//
// Unlike the reference TUI, this one doesn't own the sessions or the task
// queue directly — it observes a *controller.System from the outside,
// the same way any other event-bus subscriber would.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/trybotster/botster-core/internal/controller"
	"github.com/trybotster/botster-core/internal/eventbus"
	"github.com/trybotster/botster-core/internal/orchestrator"
	"github.com/trybotster/botster-core/internal/task"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	logBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	waitingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

const maxLogLines = 500

// busEventMsg wraps an eventbus.Event as a tea.Msg, delivered via the
// program handle a subscriber closure captures in Run.
type busEventMsg eventbus.Event

type tickMsg time.Time

// model holds the dashboard's render state. It is rebuilt from the
// controller.System on every relevant event and on a periodic tick, rather
// than incrementally patched, since session/task lists are cheap to
// re-snapshot and this avoids the dashboard drifting out of sync with
// System's own view.
type model struct {
	system *controller.System

	width, height   int
	selectedSession int
	quitting        bool

	sessions []orchestrator.Session
	tasks    []*task.Task

	log      viewport.Model
	logLines []string
}

// New builds the dashboard model for system. Call Run to start it.
func New(system *controller.System) model {
	vp := viewport.New(0, 0)
	return model{
		system: system,
		log:    vp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(refreshCmd, tickCmd())
}

func refreshCmd() tea.Msg {
	return busEventMsg{Kind: "monitor:refresh"}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		logHeight := msg.Height - 10
		if logHeight < 3 {
			logHeight = 3
		}
		m.log.Width = msg.Width - 4
		m.log.Height = logHeight
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedSession > 0 {
				m.selectedSession--
			}
			return m, nil
		case "down", "j":
			if m.selectedSession < len(m.sessions)-1 {
				m.selectedSession++
			}
			return m, nil
		case "r":
			return m, reconcileCmd(m.system, m.sessions)
		default:
			if sess := m.currentSession(); sess != nil {
				_ = m.system.SendRawInput(sess.ID, []byte(msg.String()))
			}
			return m, nil
		}

	case busEventMsg:
		m.refresh()
		m.appendLog(eventbus.Event(msg))
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

func reconcileCmd(system *controller.System, sessions []orchestrator.Session) tea.Cmd {
	return func() tea.Msg {
		ids := make([]string, 0, len(sessions))
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
		lost, err := system.Reconcile(ids)
		if err != nil {
			return busEventMsg{Kind: "monitor:error", Payload: err.Error()}
		}
		return busEventMsg{Kind: "monitor:reconciled", Payload: lost}
	}
}

func (m *model) refresh() {
	m.sessions = m.system.ListSessions()
	sort.Slice(m.sessions, func(i, j int) bool { return m.sessions[i].ID < m.sessions[j].ID })
	if m.selectedSession >= len(m.sessions) {
		m.selectedSession = len(m.sessions) - 1
	}
	if m.selectedSession < 0 {
		m.selectedSession = 0
	}
	m.tasks = m.system.Queue().ListTasks(task.Filter{SortBy: task.SortByPriority})
}

func (m *model) appendLog(ev eventbus.Event) {
	line := fmt.Sprintf("[%s] %s %v", time.Now().Format("15:04:05"), ev.Kind, ev.Payload)
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.log.SetContent(strings.Join(m.logLines, "\n"))
	m.log.GotoBottom()
}

func (m model) currentSession() *orchestrator.Session {
	if m.selectedSession < 0 || m.selectedSession >= len(m.sessions) {
		return nil
	}
	return &m.sessions[m.selectedSession]
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder

	statusCounts := make(map[task.Status]int)
	for _, t := range m.tasks {
		statusCounts[t.Status]++
	}

	title := titleStyle.Render("Botster Monitor")
	status := statusStyle.Render(fmt.Sprintf(" | sessions: %d | queued: %d | running: %d | failed: %d",
		len(m.sessions), statusCounts[task.Queued], statusCounts[task.Running], statusCounts[task.Failed]))
	b.WriteString(title + status + "\n\n")

	if len(m.sessions) == 0 {
		b.WriteString("No sessions. Waiting for agents...\n\n")
	} else {
		for i, sess := range m.sessions {
			line := fmt.Sprintf("[%s] %s  worktree=%s", sessionStateStyle(sess.State).Render(string(sess.State)), sess.ID, sess.WorktreeID)
			if i == m.selectedSession {
				line = selectedStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(logBorderStyle.Render(m.log.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("q: quit | ↑/↓: select session | r: reconcile | other keys: type into selected session"))

	return b.String()
}

func sessionStateStyle(state orchestrator.SessionState) lipgloss.Style {
	switch state {
	case orchestrator.SessionWaiting:
		return waitingStyle
	case orchestrator.SessionIdle:
		return idleStyle
	default:
		return workingStyle
	}
}

// Run subscribes to system's event bus and runs the dashboard until the
// user quits or ctx is cancelled.
func Run(ctx context.Context, system *controller.System) error {
	m := New(system)
	m.refresh()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	kinds := []eventbus.Kind{
		"task:assigned", "task:completed", "task:failed",
		"worktree:snapshot", "worktree:summary-trigger", "worktree:removed",
		"host:crashed",
	}
	var subs []eventbus.Subscription
	for _, kind := range kinds {
		k := kind
		subs = append(subs, system.Bus().Subscribe(k, func(ev eventbus.Event) {
			p.Send(busEventMsg(ev))
		}))
	}
	defer func() {
		for _, sub := range subs {
			system.Bus().Unsubscribe(sub)
		}
	}()

	_, err := p.Run()
	return err
}
