package treeop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadBench(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	writeTestFile(t, root, "a", "12345")
	writeTestFile(t, sub, "b", "123")
	// Sidecars are skipped.
	writeTestFile(t, root, DirDbFileName, "not counted")

	opts := testOptions()
	result, err := ReadBench([]string{NormalizePath(root)}, opts)
	if err != nil {
		t.Fatalf("ReadBench failed: %v", err)
	}
	if result.Files != 2 {
		t.Errorf("Expected 2 files, got %d", result.Files)
	}
	if result.Dirs != 2 {
		t.Errorf("Expected 2 dirs, got %d", result.Dirs)
	}
	if result.Bytes != 8 {
		t.Errorf("Expected 8 bytes, got %d", result.Bytes)
	}
	if result.Seconds < 0 {
		t.Errorf("Negative elapsed time: %f", result.Seconds)
	}
}

func TestReadBench_SmallBuffer(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "file", "0123456789abcdef")

	// A tiny buffer forces multiple read chunks.
	opts := (&Options{BufSize: 4}).Normalized()
	result, err := ReadBench([]string{NormalizePath(root)}, opts)
	if err != nil {
		t.Fatalf("ReadBench failed: %v", err)
	}
	if result.Bytes != 16 {
		t.Errorf("Expected 16 bytes, got %d", result.Bytes)
	}
}
