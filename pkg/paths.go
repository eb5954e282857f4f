package treeop

import (
	"path/filepath"
	"strings"
)

// NormalizePath resolves a root or destination path to its canonical
// absolute, lexically normalized form. Resolution failures fall back to
// the lexical form. Trailing separators are dropped for everything but a
// filesystem root.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// pathComponents splits a cleaned path into its components. An absolute
// path keeps a leading empty component so that "/" is a one-component
// prefix of every absolute path.
func pathComponents(path string) []string {
	path = filepath.Clean(path)
	vol := filepath.VolumeName(path)
	path = path[len(vol):]
	parts := strings.Split(path, string(filepath.Separator))
	// Clean("/") yields a bare separator which splits into two empties.
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// IsPathWithin reports whether path lies within root (or is root itself).
// The comparison is component-wise: /a/bc is not within /a/b.
func IsPathWithin(root, path string) bool {
	rootParts := pathComponents(root)
	pathParts := pathComponents(path)
	if len(rootParts) > len(pathParts) {
		return false
	}
	for i, part := range rootParts {
		if pathParts[i] != part {
			return false
		}
	}
	return true
}
