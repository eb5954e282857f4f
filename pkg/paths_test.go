package treeop

import (
	"path/filepath"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	if p := NormalizePath("/a/b/"); p != "/a/b" {
		t.Errorf("Trailing separator should be dropped, got %q", p)
	}
	if p := NormalizePath("/a/./b/../c"); p != "/a/c" {
		t.Errorf("Lexical normalization failed, got %q", p)
	}
	if p := NormalizePath("/"); p != "/" {
		t.Errorf("Root must stay the root, got %q", p)
	}
	// Relative paths resolve against the working directory.
	if p := NormalizePath("x"); !filepath.IsAbs(p) {
		t.Errorf("Expected absolute path, got %q", p)
	}
}

func TestIsPathWithin(t *testing.T) {
	cases := []struct {
		root, path string
		want       bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/b/c/d", true},
		// Component-wise, not string-prefix: /a/bc is not within /a/b.
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/x/y", false},
		{"/", "/a", true},
		{"/", "/", true},
		{"/a/b/", "/a/b/c", true},
	}
	for _, c := range cases {
		if got := IsPathWithin(c.root, c.path); got != c.want {
			t.Errorf("IsPathWithin(%q, %q) = %v, want %v", c.root, c.path, got, c.want)
		}
	}
}
