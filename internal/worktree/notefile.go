package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// noteMaxLen caps the current note at 500 characters with an ellipsis
// (spec §9: "the note's last-line, trimmed, is taken as the current note
// (with a 500-char cap and ellipsis)").
const noteMaxLen = 500

// NoteFile is the plain-text UTF-8 append log backing one worktree's note
// (spec §9: "a plain-text UTF-8 file under the repository's metadata
// directory"). Append-only; CurrentNote reads back just the last line.
type NoteFile struct {
	path string
}

// NewNoteFile returns a NoteFile rooted at <metaDir>/<worktreeID>.note,
// creating the metadata directory if needed.
func NewNoteFile(metaDir, worktreeID string) (*NoteFile, error) {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("worktree: creating note dir: %w", err)
	}
	return &NoteFile{path: filepath.Join(metaDir, worktreeID+".note")}, nil
}

// Append adds a line to the note file.
func (n *NoteFile) Append(line string) error {
	f, err := os.OpenFile(n.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("worktree: opening note file: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(strings.TrimRight(line, "\n") + "\n")
	return err
}

// CurrentNote returns the trimmed last line of the note file, capped at
// noteMaxLen characters with an ellipsis. Returns "" if the file doesn't
// exist or has no lines.
func (n *NoteFile) CurrentNote() (string, error) {
	f, err := os.Open(n.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("worktree: opening note file: %w", err)
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("worktree: reading note file: %w", err)
	}

	return capNote(last), nil
}

func capNote(s string) string {
	r := []rune(s)
	if len(r) <= noteMaxLen {
		return s
	}
	return string(r[:noteMaxLen-1]) + "…"
}
