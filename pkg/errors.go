package treeop

import "fmt"

// UsageError reports invalid or conflicting options. Flag conflicts and
// the --bufsize, --min-size and --max-hardlinks values are rejected before
// any directory is scanned; the --size-histogram and --max-size values
// are checked only after the scan, when the histogram is printed.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// Usagef builds a UsageError.
func Usagef(format string, args ...interface{}) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// PathError reports a missing or unsuitable input path (does not exist,
// not a directory).
type PathError struct {
	Path string
	Msg  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path '%s' %s", e.Path, e.Msg)
}

// FormatError reports a malformed sidecar file. Field names the offending
// part of the format (tag, version, entry size, name index, ...).
type FormatError struct {
	Path  string // sidecar path
	Field string // offending field
	Msg   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid .dirdb %s: %s in %s", e.Field, e.Msg, e.Path)
}

func formatErrf(path, field, format string, args ...interface{}) error {
	return &FormatError{Path: path, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// PolicyError reports an operation refused by policy rather than by the
// filesystem: an extract destination that already exists, no free
// temporary name for a hardlink replacement, and the like.
type PolicyError struct {
	Op   string
	Path string
	Msg  string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Path, e.Msg)
}
