package treeop

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// DefaultBufSize is the read buffer size used for hashing and readbench
// when none is configured.
const DefaultBufSize = 1 << 20

// Options carries the ambient configuration of one top-level operation:
// read buffer size, digest algorithm, progress sink, verbosity and output
// streams. The zero value is usable; Normalized fills in defaults.
type Options struct {
	BufSize    int
	DigestName string
	Progress   Progress
	Verbose    int
	Stdout     io.Writer
	Stderr     io.Writer
}

// Normalized returns a copy with all unset fields filled with defaults.
func (o *Options) Normalized() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.BufSize <= 0 {
		out.BufSize = DefaultBufSize
	}
	if out.DigestName == "" {
		out.DigestName = DefaultDigestName
	}
	if out.Progress == nil {
		out.Progress = NopProgress()
	}
	if out.Stdout == nil {
		out.Stdout = os.Stdout
	}
	if out.Stderr == nil {
		out.Stderr = os.Stderr
	}
	return &out
}

func (o *Options) newDigest() Digest {
	d, err := NewDigest(o.DigestName)
	if err != nil {
		// DigestName is validated before any operation starts.
		panic(err)
	}
	return d
}

// HashReuseKey identifies a file whose cached hash may be reused during
// an incremental update: same inode, size and mtime (FILETIME ticks).
type HashReuseKey struct {
	Inode uint64
	Size  uint64
	Date  uint64
}

// indexer scans single directories. The read buffer and digest are
// reused across all files of one operation.
type indexer struct {
	opts   *Options
	buf    []byte
	digest Digest
}

func newIndexer(opts *Options) *indexer {
	opts = opts.Normalized()
	return &indexer{
		opts:   opts,
		buf:    make([]byte, opts.BufSize),
		digest: opts.newDigest(),
	}
}

// hashFile streams the file through the digest in BufSize chunks and
// returns the 128-bit content hash and the time spent.
func (ix *indexer) hashFile(path string, size uint64) (Hash128, float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash128{}, 0, fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer file.Close()

	ix.opts.Progress.HashStart(path, size)
	defer ix.opts.Progress.HashEnd()

	ix.digest.Reset()
	start := time.Now()
	for {
		n, err := file.Read(ix.buf)
		if n > 0 {
			ix.digest.Write(ix.buf[:n])
			ix.opts.Progress.HashProgress(uint64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Hash128{}, 0, fmt.Errorf("failed to read %s while hashing: %w", path, err)
		}
	}
	return ix.digest.Sum128(), time.Since(start).Seconds(), nil
}

// buildDirDb scans one directory (non-recursively), hashes regular files
// (reusing cached hashes when the (inode,size,date) key matches), writes
// the sidecar and returns the fresh DirDbData. Any stat, open or read
// failure on an individual file aborts the whole build.
func (ix *indexer) buildDirDb(dirPath string, cache map[HashReuseKey]FileEntry) (DirDbData, error) {
	if ix.opts.Verbose > 0 {
		fmt.Fprintf(ix.opts.Stdout, "Scanning %s\n", dirPath)
	}
	ix.opts.Progress.DirStart(dirPath)

	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return DirDbData{}, fmt.Errorf("failed to scan directory %s: %w", dirPath, err)
	}

	var entries []FileEntry
	var hashedBytes uint64
	var hashSeconds float64
	for _, de := range dirEntries {
		name := de.Name()
		if name == DirDbFileName || name == dirDbTempName {
			continue
		}
		if de.Type()&os.ModeSymlink != 0 {
			continue
		}
		filePath := filepath.Join(dirPath, name)
		info, err := de.Info()
		if err != nil {
			return DirDbData{}, fmt.Errorf("failed to stat %s: %w", filePath, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return DirDbData{}, fmt.Errorf("no stat data for %s", filePath)
		}
		size := uint64(info.Size())
		ix.opts.Progress.FileProcessed(size)
		date := filetimeFromUnix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec))

		var hash Hash128
		reused := false
		if cache != nil {
			if cached, ok := cache[HashReuseKey{Inode: st.Ino, Size: size, Date: date}]; ok {
				hash = cached.Hash
				reused = true
			}
		}
		if !reused {
			var seconds float64
			hash, seconds, err = ix.hashFile(filePath, size)
			if err != nil {
				return DirDbData{}, err
			}
			hashedBytes += size
			hashSeconds += seconds
		}

		entries = append(entries, FileEntry{
			Name:     name,
			Size:     size,
			Hash:     hash,
			Inode:    st.Ino,
			Date:     date,
			NumLinks: uint64(st.Nlink),
		})
	}
	ix.opts.Progress.DirDone()

	sortFileEntries(entries)
	dbSize, err := WriteDirDb(dirPath, entries)
	if err != nil {
		return DirDbData{}, err
	}
	return DirDbData{
		Path:        NormalizePath(dirPath),
		Files:       entries,
		DbSize:      dbSize,
		HashedBytes: hashedBytes,
		HashSeconds: hashSeconds,
	}, nil
}

// readExisting reads a sidecar and reports its contents to the progress
// sink as a directory summary.
func (ix *indexer) readExisting(dirPath string, reportProgress bool) (DirDbData, error) {
	data, err := ReadDirDb(dirPath)
	if err != nil {
		return DirDbData{}, err
	}
	if reportProgress {
		var totalBytes uint64
		for _, file := range data.Files {
			totalBytes += file.Size
		}
		ix.opts.Progress.DirStart(dirPath)
		ix.opts.Progress.DirSummary(uint64(len(data.Files)), totalBytes)
	}
	return data, nil
}

// updateDirDb rebuilds the sidecar reusing hashes from the existing one
// where (inode,size,date) still match.
func (ix *indexer) updateDirDb(dirPath string) (DirDbData, error) {
	existing, err := ix.readExisting(dirPath, false)
	if err != nil {
		if _, ok := err.(*FormatError); ok {
			// Corrupt sidecar (crashed writer): rebuild from scratch.
			return ix.buildDirDb(dirPath, nil)
		}
		return DirDbData{}, err
	}
	cache := make(map[HashReuseKey]FileEntry, len(existing.Files))
	for _, entry := range existing.Files {
		cache[HashReuseKey{Inode: entry.Inode, Size: entry.Size, Date: entry.Date}] = entry
	}
	return ix.buildDirDb(dirPath, cache)
}
