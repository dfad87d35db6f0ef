package worktree

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Dotfile names a worktree may carry to customise how it's populated and
// torn down (spec §12 "Worktree dotfiles" supplemented feature, carried
// from the reference's .botster_copy/.botster_init/.botster_teardown).
const (
	copyFile      = ".botster_copy"
	initFile      = ".botster_init"
	teardownFile  = ".botster_teardown"
)

// ReadCopyPatterns reads the repo's copy-pattern dotfile and returns its
// non-comment, non-blank lines as glob patterns.
func ReadCopyPatterns(repoPath string) ([]string, error) {
	return readLines(filepath.Join(repoPath, copyFile))
}

// ReadInitCommands reads the repo's post-create shell command dotfile.
func ReadInitCommands(repoPath string) ([]string, error) {
	return readLines(filepath.Join(repoPath, initFile))
}

// ReadTeardownCommands reads the repo's pre-delete shell command dotfile.
func ReadTeardownCommands(repoPath string) ([]string, error) {
	return readLines(filepath.Join(repoPath, teardownFile))
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("worktree: opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// CopyMatchingFiles copies every file under sourceRepo matching one of the
// repo's .botster_copy glob patterns into destWorktree, preserving the
// relative path and file mode.
func CopyMatchingFiles(sourceRepo, destWorktree string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	patterns, err := ReadCopyPatterns(sourceRepo)
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		return nil
	}

	var globs []glob.Glob
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			logger.Warn("worktree: invalid copy glob pattern", "pattern", p, "error", err)
			continue
		}
		globs = append(globs, g)
	}
	if len(globs) == 0 {
		return nil
	}

	return filepath.WalkDir(sourceRepo, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(sourceRepo, path)
		if err != nil {
			return nil
		}
		for _, g := range globs {
			if !g.Match(rel) {
				continue
			}
			dest := filepath.Join(destWorktree, rel)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				logger.Warn("worktree: creating copy dest dir failed", "path", dest, "error", err)
				return nil
			}
			if err := copyFileContents(path, dest); err != nil {
				logger.Warn("worktree: copy failed", "src", rel, "dest", dest, "error", err)
			}
			break
		}
		return nil
	})
}

func copyFileContents(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, info.Mode())
}
