package ptyhost

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// maxScrollbackLines bounds the screen snapshotter's scrolled-off history,
// matching the reference terminal emulator wrapper's generous default.
const maxScrollbackLines = 50000

// screen wraps charmbracelet/x/vt with scrollback capture via ScrollOut, so
// a background-tier session (spec §4.3: "writes into an in-process
// scrollback and updates a screen snapshot") can reconstruct a reconnecting
// client's view without ever allocating a ring.
//
// All methods are safe for concurrent use.
type screen struct {
	mu sync.Mutex

	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int
	altScreen  bool
	hidden     bool
	cols, rows int
}

func newScreen(cols, rows int) *screen {
	s := &screen{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, maxScrollbackLines),
		cols:       cols,
		rows:       rows,
	}
	s.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if s.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if s.sbLen == len(s.scrollback) {
					s.scrollback[s.sbHead] = ""
				}
				s.scrollback[s.sbHead] = rendered
				s.sbHead = (s.sbHead + 1) % len(s.scrollback)
				if s.sbLen < len(s.scrollback) {
					s.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range s.scrollback {
				s.scrollback[i] = ""
			}
			s.sbLen, s.sbHead = 0, 0
		},
		AltScreen: func(on bool) { s.altScreen = on },
		CursorVisibility: func(visible bool) {
			s.hidden = !visible
		},
	})
	return s
}

// Write feeds child output into the emulator.
func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emu.Write(p)
}

// Resize changes the terminal dimensions.
func (s *screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Resize(cols, rows)
	s.cols, s.rows = cols, rows
}

// Snapshot renders a compact, directly-replayable payload: scrollback lines
// followed by a full grid repaint and cursor restore, for `get-snapshot`/
// `get-all-snapshots`/`wake-terminal` (spec §4.3).
func (s *screen) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf strings.Builder

	lines := s.scrollbackLinesLocked()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range s.rows - 1 {
			buf.WriteByte('\n')
		}
	}

	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(s.emu.Render())

	pos := s.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if s.hidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}

	return []byte(buf.String())
}

func (s *screen) scrollbackLinesLocked() []string {
	if s.sbLen == 0 {
		return nil
	}
	lines := make([]string, s.sbLen)
	start := (s.sbHead - s.sbLen + len(s.scrollback)) % len(s.scrollback)
	for i := 0; i < s.sbLen; i++ {
		lines[i] = s.scrollback[(start+i)%len(s.scrollback)]
	}
	return lines
}

// ReplayLines returns the last n lines of scrollback, oldest first, for the
// `replay-history` request (spec §4.3).
func (s *screen) ReplayLines(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.scrollbackLinesLocked()
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// Close releases the emulator's resources.
func (s *screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emu.Close()
}
