package worktree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadCopyPatternsSkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	content := "# comment\n\n*.env\nconfig/*.local.yml\n"
	if err := os.WriteFile(filepath.Join(dir, copyFile), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	patterns, err := ReadCopyPatterns(dir)
	if err != nil {
		t.Fatalf("ReadCopyPatterns: %v", err)
	}
	want := []string{"*.env", "config/*.local.yml"}
	if len(patterns) != len(want) {
		t.Fatalf("expected %v, got %v", want, patterns)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, patterns)
		}
	}
}

func TestReadCopyPatternsMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	patterns, err := ReadCopyPatterns(dir)
	if err != nil {
		t.Fatalf("expected no error for missing dotfile, got %v", err)
	}
	if patterns != nil {
		t.Fatalf("expected nil patterns, got %v", patterns)
	}
}

func TestCopyMatchingFilesCopiesOnlyMatchedPaths(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	if err := os.WriteFile(filepath.Join(src, copyFile), []byte("*.env\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, ".env"), []byte("SECRET=1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := CopyMatchingFiles(src, dest, nil); err != nil {
		t.Fatalf("CopyMatchingFiles: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, ".env")); err != nil {
		t.Fatalf("expected .env copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "main.go")); !os.IsNotExist(err) {
		t.Fatal("expected main.go to not be copied")
	}
}
