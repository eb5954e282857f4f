package treeop

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ReadBenchResult accumulates raw read throughput figures.
type ReadBenchResult struct {
	Files   uint64
	Dirs    uint64
	Bytes   uint64
	Seconds float64
}

// ReadBench recursively reads every regular file under the given roots
// in BufSize chunks, skipping sidecars, and measures raw read
// throughput. No sidecars are written.
func ReadBench(roots []string, opts *Options) (ReadBenchResult, error) {
	opts = opts.Normalized()
	var result ReadBenchResult
	buf := make([]byte, opts.BufSize)
	start := time.Now()
	for _, root := range roots {
		if err := readBenchWalk(root, opts, buf, &result); err != nil {
			return result, err
		}
	}
	result.Seconds = time.Since(start).Seconds()
	return result, nil
}

func readBenchWalk(dirPath string, opts *Options, buf []byte, result *ReadBenchResult) error {
	opts.Progress.DirStart(dirPath)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to iterate %s: %w", dirPath, err)
	}
	result.Dirs++
	for _, de := range entries {
		name := de.Name()
		path := filepath.Join(dirPath, name)
		if de.IsDir() {
			if err := readBenchWalk(path, opts, buf, result); err != nil {
				if errors.Is(err, fs.ErrPermission) {
					if opts.Verbose > 0 {
						fmt.Fprintf(opts.Stderr, "Skipping entry due to error: %s\n", path)
					}
					continue
				}
				return err
			}
			continue
		}
		if name == DirDbFileName || name == dirDbTempName {
			continue
		}
		if !de.Type().IsRegular() {
			continue
		}
		n, err := readFileChunks(path, buf)
		if err != nil {
			return err
		}
		result.Files++
		result.Bytes += n
		opts.Progress.FileProcessed(n)
	}
	opts.Progress.DirDone()
	return nil
}

func readFileChunks(path string, buf []byte) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	var total uint64
	for {
		n, err := file.Read(buf)
		total += uint64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}

// PrintReadBench prints the throughput panel for a readbench run.
func PrintReadBench(w io.Writer, result ReadBenchResult) {
	rate := 0.0
	if result.Seconds > 0 {
		rate = float64(result.Bytes) / result.Seconds / (1024.0 * 1024.0)
	}
	printStatList(w, []statLine{
		{"files:", formatCount(result.Files), ""},
		{"dirs:", formatCount(result.Dirs), ""},
		{"bytes:", formatSizeFixed(result.Bytes, 3), ""},
		{"elapsed:", formatElapsed(result.Seconds), ""},
		{"read-rate:", fmt.Sprintf("%.1f MB/s", rate), ""},
	})
}
