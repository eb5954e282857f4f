package treeop

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var sizeUnits = []string{"bytes", "kB", "MB", "GB", "TB", "PB", "EB"}

// formatSizeFixed renders a byte count with a binary-scaled unit and
// fixed precision. Zero renders as "0", sub-kB counts as exact integers.
func formatSizeFixed(bytes uint64, precision int) string {
	if bytes == 0 {
		return "0"
	}
	value := float64(bytes)
	unitIndex := 0
	whole := bytes
	for whole >= 1024 && unitIndex+1 < len(sizeUnits) {
		whole >>= 10
		value /= 1024.0
		unitIndex++
	}
	if unitIndex == 0 {
		return fmt.Sprintf("%d %s", bytes, sizeUnits[unitIndex])
	}
	return fmt.Sprintf("%.*f %s", precision, value, sizeUnits[unitIndex])
}

// formatSizeFixedFloat is formatSizeFixed for fractional byte counts
// (averages). Non-positive values render as "0".
func formatSizeFixedFloat(bytes float64, precision int) string {
	if bytes <= 0.0 {
		return "0"
	}
	value := bytes
	whole := uint64(bytes)
	unitIndex := 0
	for whole >= 1024 && unitIndex+1 < len(sizeUnits) {
		whole >>= 10
		value /= 1024.0
		unitIndex++
	}
	return fmt.Sprintf("%.*f %s", precision, value, sizeUnits[unitIndex])
}

// FormatSize renders a byte count for human output ("1.500 kB").
func FormatSize(bytes uint64) string {
	return formatSizeFixed(bytes, 3)
}

func formatPercent(percent float64) string {
	return fmt.Sprintf("%.1f%%", percent)
}

func percentOf(part, total uint64) string {
	if total == 0 {
		return formatPercent(0.0)
	}
	return formatPercent(100.0 * float64(part) / float64(total))
}

func formatCount(count uint64) string {
	return strconv.FormatUint(count, 10)
}

// windowsToUnixEpoch is the offset between the FILETIME epoch
// (1601-01-01) and the Unix epoch, in seconds.
const windowsToUnixEpoch = 11644473600

// filetimeFromUnix converts a Unix timestamp with nanoseconds to FILETIME
// ticks (100ns since 1601-01-01 UTC). Negative seconds clamp to 0.
func filetimeFromUnix(sec, nsec int64) uint64 {
	if sec < 0 {
		return 0
	}
	ft := (uint64(sec) + windowsToUnixEpoch) * 10000000
	ft += uint64(nsec) / 100
	return ft
}

// formatFileTime renders FILETIME ticks as a UTC timestamp. Zero and
// pre-Unix-epoch values render as the all-zero placeholder.
func formatFileTime(fileTime uint64) string {
	if fileTime == 0 {
		return "0000-00-00 00:00:00"
	}
	seconds := fileTime / 10000000
	if seconds < windowsToUnixEpoch {
		return "0000-00-00 00:00:00"
	}
	t := time.Unix(int64(seconds-windowsToUnixEpoch), 0).UTC()
	return t.Format("2006-01-02 15:04:05")
}

// formatElapsed renders a duration in seconds for the stats panel.
func formatElapsed(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// ParseSize parses a size argument with optional binary suffix k/M/G/T/P/E
// (powers of 1024, case-insensitive). A fractional numeric part is
// allowed ("1.5M").
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size value")
	}
	numEnd := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			numEnd = i
			break
		}
	}
	numPart := s[:numEnd]
	suffix := strings.TrimSpace(s[numEnd:])
	if numPart == "" {
		return 0, fmt.Errorf("invalid size value '%s'", s)
	}
	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value '%s': %w", s, err)
	}
	var shift uint
	switch strings.ToLower(suffix) {
	case "":
		shift = 0
	case "k":
		shift = 10
	case "m":
		shift = 20
	case "g":
		shift = 30
	case "t":
		shift = 40
	case "p":
		shift = 50
	case "e":
		shift = 60
	default:
		return 0, fmt.Errorf("unknown size suffix '%s' in '%s' (expected one of kMGTPE)", suffix, s)
	}
	value := num * float64(uint64(1)<<shift)
	if value < 0 {
		return 0, fmt.Errorf("size must not be negative: '%s'", s)
	}
	if value >= float64(^uint64(0)) {
		return 0, fmt.Errorf("size too large: '%s'", s)
	}
	return uint64(value), nil
}

// statLine is one row of an aligned statistics panel.
type statLine struct {
	label string
	value string
	extra string
}

// statDecimalPos returns the column of the decimal point within the
// number part of a value (its length when there is none).
func statDecimalPos(value string) int {
	number := value
	if i := strings.IndexByte(value, ' '); i >= 0 {
		number = value[:i]
	}
	if i := strings.IndexByte(number, '.'); i >= 0 {
		return i
	}
	return len(number)
}

// printStatList prints label/value/extra rows with labels padded to a
// common width and values aligned on their decimal points, the way the
// stats panels are rendered.
func printStatList(w io.Writer, lines []statLine) {
	labelWidth := 0
	maxDecimalPos := 0
	maxExtraDecimalPos := 0
	for _, line := range lines {
		if len(line.label) > labelWidth {
			labelWidth = len(line.label)
		}
		if p := statDecimalPos(line.value); p > maxDecimalPos {
			maxDecimalPos = p
		}
		if line.extra != "" {
			if p := statDecimalPos(line.extra); p > maxExtraDecimalPos {
				maxExtraDecimalPos = p
			}
		}
	}

	alignedValues := make([]string, len(lines))
	maxValueWidth := 0
	for i, line := range lines {
		pad := maxDecimalPos - statDecimalPos(line.value)
		alignedValues[i] = strings.Repeat(" ", pad) + line.value
		if len(alignedValues[i]) > maxValueWidth {
			maxValueWidth = len(alignedValues[i])
		}
	}

	for i, line := range lines {
		out := line.label + strings.Repeat(" ", labelWidth-len(line.label)) + " " + alignedValues[i]
		if line.extra != "" {
			out += strings.Repeat(" ", maxValueWidth-len(alignedValues[i]))
			pad := maxExtraDecimalPos - statDecimalPos(line.extra)
			out += " " + strings.Repeat(" ", pad) + line.extra
		}
		fmt.Fprintln(w, out)
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
