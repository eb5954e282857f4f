package treeop

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/vectorio"
)

// Sidecar file constants.
const (
	DirDbFileName = ".dirdb"
	dirDbTempName = ".dirdb.tmp"

	// DirDbVersion is the current sidecar format version.
	DirDbVersion = 1

	// Minimum per-entry sizes a reader accepts. The header declares the
	// actual sizes; trailing bytes beyond the known layout are skipped.
	tocEntryMinSize  = 16
	fileEntryMinSize = 48
)

// Section tags, encoded as zero-padded ASCII read little endian.
var (
	tagDirDb   = makeTag("DirDB")
	tagToc     = makeTag("TOC")
	tagFiles   = makeTag("FILES")
	tagStrings = makeTag("STRINGS")
)

// makeTag packs up to 8 ASCII characters into a little-endian u64.
func makeTag(tag string) uint64 {
	var value uint64
	for i := 0; i < len(tag) && i < 8; i++ {
		value |= uint64(tag[i]) << (8 * i)
	}
	return value
}

// FileEntry describes one regular file within one directory.
type FileEntry struct {
	Name     string  // leaf name, never a path
	Size     uint64  // byte count
	Hash     Hash128 // 128-bit content hash
	Inode    uint64  // filesystem identity at scan time
	Date     uint64  // mtime in FILETIME ticks
	NumLinks uint64  // hardlink count at scan time
}

// DirDbData is the in-memory image of one directory's sidecar index.
// Files are sorted by size ascending, then name ascending; this ordering
// is an on-disk invariant.
type DirDbData struct {
	Path        string // normalized absolute directory path
	Files       []FileEntry
	DbSize      uint64  // byte size of the sidecar on disk
	HashedBytes uint64  // bytes hashed during the last build (0 when read)
	HashSeconds float64 // time spent hashing during the last build
}

// sortFileEntries establishes the (size asc, name asc) on-disk ordering.
func sortFileEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Size != entries[j].Size {
			return entries[i].Size < entries[j].Size
		}
		return entries[i].Name < entries[j].Name
	})
}

type tocEntry struct {
	size      uint64
	fileIndex uint64
}

// buildToc derives one TOC entry per run of equal sizes from a sorted
// entry list.
func buildToc(entries []FileEntry) []tocEntry {
	var toc []tocEntry
	for i, entry := range entries {
		if i == 0 || entry.Size != entries[i-1].Size {
			toc = append(toc, tocEntry{size: entry.Size, fileIndex: uint64(i)})
		}
	}
	return toc
}

// appendLengthString appends a length-prefixed string: lengths up to 0xfc
// in one byte, then 0xff/0xfe/0xfd escapes for 2/4/8 byte little-endian
// lengths.
func appendLengthString(dst []byte, s string) []byte {
	n := uint64(len(s))
	switch {
	case n <= 0xfc:
		dst = append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xff, byte(n), byte(n>>8))
	case n <= 0xffffffff:
		dst = append(dst, 0xfe, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	default:
		dst = append(dst, 0xfd)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		dst = append(dst, b[:]...)
	}
	return append(dst, s...)
}

// readLengthString decodes the length-prefixed string at offset within
// the STRINGS blob.
func readLengthString(strings []byte, offset uint64, dbPath string) (string, error) {
	if offset >= uint64(len(strings)) {
		return "", formatErrf(dbPath, "name index", "string offset %d beyond %d string bytes", offset, len(strings))
	}
	pos := offset
	prefix := strings[pos]
	pos++
	var n uint64
	var prefixLen uint64
	switch {
	case prefix <= 0xfc:
		n = uint64(prefix)
	case prefix == 0xff:
		prefixLen = 2
	case prefix == 0xfe:
		prefixLen = 4
	case prefix == 0xfd:
		prefixLen = 8
	default:
		return "", formatErrf(dbPath, "string prefix", "invalid length prefix 0x%02x", prefix)
	}
	if prefixLen > 0 {
		if pos+prefixLen > uint64(len(strings)) {
			return "", formatErrf(dbPath, "string prefix", "%d-byte length escape truncated", prefixLen)
		}
		for i := uint64(0); i < prefixLen; i++ {
			n |= uint64(strings[pos+i]) << (8 * i)
		}
		pos += prefixLen
	}
	if pos+n > uint64(len(strings)) {
		return "", formatErrf(dbPath, "string length", "string of %d bytes overruns STRINGS", n)
	}
	return string(strings[pos : pos+n]), nil
}

// dirDbReader walks a raw sidecar image, producing named-field errors on
// truncation.
type dirDbReader struct {
	path string
	data []byte
	pos  int
}

func (r *dirDbReader) u64(field string) (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, formatErrf(r.path, field, "unexpected end of file at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *dirDbReader) skipTo(offset int, field string) error {
	if offset > len(r.data) {
		return formatErrf(r.path, field, "entry overruns file at offset %d", r.pos)
	}
	r.pos = offset
	return nil
}

// ReadDirDb reads and validates the sidecar of dirPath. The returned
// DirDbData carries zero performance counters; DbSize is the on-disk
// size.
func ReadDirDb(dirPath string) (DirDbData, error) {
	dbPath := filepath.Join(dirPath, DirDbFileName)
	raw, err := os.ReadFile(dbPath)
	if err != nil {
		return DirDbData{}, fmt.Errorf("failed to read sidecar: %w", err)
	}
	r := &dirDbReader{path: dbPath, data: raw}

	tag, err := r.u64("DirDB tag")
	if err != nil {
		return DirDbData{}, err
	}
	if tag != tagDirDb {
		return DirDbData{}, formatErrf(dbPath, "DirDB tag", "got 0x%016x", tag)
	}
	version, err := r.u64("version")
	if err != nil {
		return DirDbData{}, err
	}
	if version != DirDbVersion {
		return DirDbData{}, formatErrf(dbPath, "version", "unsupported version %d (expected %d)", version, DirDbVersion)
	}

	tag, err = r.u64("TOC tag")
	if err != nil {
		return DirDbData{}, err
	}
	if tag != tagToc {
		return DirDbData{}, formatErrf(dbPath, "TOC tag", "got 0x%016x", tag)
	}
	tocCount, err := r.u64("TOC count")
	if err != nil {
		return DirDbData{}, err
	}
	tocEntrySize, err := r.u64("TOC entry size")
	if err != nil {
		return DirDbData{}, err
	}
	if tocEntrySize < tocEntryMinSize {
		return DirDbData{}, formatErrf(dbPath, "TOC entry size", "%d below minimum %d", tocEntrySize, tocEntryMinSize)
	}
	toc := make([]tocEntry, 0, tocCount)
	for i := uint64(0); i < tocCount; i++ {
		start := r.pos
		size, err := r.u64("TOC size")
		if err != nil {
			return DirDbData{}, err
		}
		fileIndex, err := r.u64("TOC file index")
		if err != nil {
			return DirDbData{}, err
		}
		// Consume exactly the declared entry size; future fields are
		// skipped.
		if err := r.skipTo(start+int(tocEntrySize), "TOC entry size"); err != nil {
			return DirDbData{}, err
		}
		toc = append(toc, tocEntry{size: size, fileIndex: fileIndex})
	}

	tag, err = r.u64("FILES tag")
	if err != nil {
		return DirDbData{}, err
	}
	if tag != tagFiles {
		return DirDbData{}, formatErrf(dbPath, "FILES tag", "got 0x%016x", tag)
	}
	fileCount, err := r.u64("file count")
	if err != nil {
		return DirDbData{}, err
	}
	fileEntrySize, err := r.u64("file entry size")
	if err != nil {
		return DirDbData{}, err
	}
	if fileEntrySize < fileEntryMinSize {
		return DirDbData{}, formatErrf(dbPath, "file entry size", "%d below minimum %d", fileEntrySize, fileEntryMinSize)
	}
	type rawFileEntry struct {
		nameIndex uint64
		hash      Hash128
		inode     uint64
		date      uint64
		numLinks  uint64
	}
	rawEntries := make([]rawFileEntry, 0, fileCount)
	for i := uint64(0); i < fileCount; i++ {
		start := r.pos
		var entry rawFileEntry
		if entry.nameIndex, err = r.u64("name index"); err != nil {
			return DirDbData{}, err
		}
		if entry.hash.Lo, err = r.u64("hash lo"); err != nil {
			return DirDbData{}, err
		}
		if entry.hash.Hi, err = r.u64("hash hi"); err != nil {
			return DirDbData{}, err
		}
		if entry.inode, err = r.u64("inode"); err != nil {
			return DirDbData{}, err
		}
		if entry.date, err = r.u64("date"); err != nil {
			return DirDbData{}, err
		}
		if entry.numLinks, err = r.u64("link count"); err != nil {
			return DirDbData{}, err
		}
		if err := r.skipTo(start+int(fileEntrySize), "file entry size"); err != nil {
			return DirDbData{}, err
		}
		rawEntries = append(rawEntries, entry)
	}

	tag, err = r.u64("STRINGS tag")
	if err != nil {
		return DirDbData{}, err
	}
	if tag != tagStrings {
		return DirDbData{}, formatErrf(dbPath, "STRINGS tag", "got 0x%016x", tag)
	}
	stringsSize, err := r.u64("strings size")
	if err != nil {
		return DirDbData{}, err
	}
	if uint64(r.pos)+stringsSize > uint64(len(raw)) {
		return DirDbData{}, formatErrf(dbPath, "strings size", "%d string bytes overrun file", stringsSize)
	}
	stringData := raw[r.pos : uint64(r.pos)+stringsSize]

	// Reconstruct per-entry sizes from the TOC spans.
	sizes := make([]uint64, fileCount)
	if len(rawEntries) > 0 && len(toc) == 0 {
		return DirDbData{}, formatErrf(dbPath, "TOC count", "file entries present but TOC is empty")
	}
	for i := range toc {
		start := toc[i].fileIndex
		end := fileCount
		if i+1 < len(toc) {
			end = toc[i+1].fileIndex
		}
		if start > end || end > fileCount {
			return DirDbData{}, formatErrf(dbPath, "TOC file index", "span [%d,%d) invalid for %d entries", start, end, fileCount)
		}
		for j := start; j < end; j++ {
			sizes[j] = toc[i].size
		}
	}

	data := DirDbData{
		Path:   NormalizePath(dirPath),
		DbSize: uint64(len(raw)),
	}
	data.Files = make([]FileEntry, 0, fileCount)
	for i, rawEntry := range rawEntries {
		name, err := readLengthString(stringData, rawEntry.nameIndex, dbPath)
		if err != nil {
			return DirDbData{}, err
		}
		data.Files = append(data.Files, FileEntry{
			Name:     name,
			Size:     sizes[i],
			Hash:     rawEntry.hash,
			Inode:    rawEntry.inode,
			Date:     rawEntry.date,
			NumLinks: rawEntry.numLinks,
		})
	}
	return data, nil
}

// serializeDirDb renders the sidecar sections for a sorted entry list.
// The sections are returned separately so the writer can emit them as one
// iovec batch.
func serializeDirDb(entries []FileEntry) (header, tocBytes, fileBytes, stringBytes []byte) {
	toc := buildToc(entries)

	tocBytes = make([]byte, 0, len(toc)*tocEntryMinSize)
	for _, t := range toc {
		tocBytes = appendU64(tocBytes, t.size)
		tocBytes = appendU64(tocBytes, t.fileIndex)
	}

	fileBytes = make([]byte, 0, len(entries)*fileEntryMinSize)
	for _, entry := range entries {
		fileBytes = appendU64(fileBytes, uint64(len(stringBytes)))
		stringBytes = appendLengthString(stringBytes, entry.Name)
		fileBytes = appendU64(fileBytes, entry.Hash.Lo)
		fileBytes = appendU64(fileBytes, entry.Hash.Hi)
		fileBytes = appendU64(fileBytes, entry.Inode)
		fileBytes = appendU64(fileBytes, entry.Date)
		fileBytes = appendU64(fileBytes, entry.NumLinks)
	}

	header = make([]byte, 0, 5*8)
	header = appendU64(header, tagDirDb)
	header = appendU64(header, DirDbVersion)
	header = appendU64(header, tagToc)
	header = appendU64(header, uint64(len(toc)))
	header = appendU64(header, tocEntryMinSize)
	return header, tocBytes, fileBytes, stringBytes
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// WriteDirDb writes the sidecar for dirPath from a size-then-name sorted
// entry list. The payload is assembled into section buffers, written to a
// temporary file in one vectored write, synced and renamed into place.
// Returns the on-disk size.
func WriteDirDb(dirPath string, entries []FileEntry) (uint64, error) {
	header, tocBytes, fileBytes, stringBytes := serializeDirDb(entries)

	filesHeader := make([]byte, 0, 3*8)
	filesHeader = appendU64(filesHeader, tagFiles)
	filesHeader = appendU64(filesHeader, uint64(len(entries)))
	filesHeader = appendU64(filesHeader, fileEntryMinSize)

	stringsHeader := make([]byte, 0, 2*8)
	stringsHeader = appendU64(stringsHeader, tagStrings)
	stringsHeader = appendU64(stringsHeader, uint64(len(stringBytes)))

	sections := [][]byte{header, tocBytes, filesHeader, fileBytes, stringsHeader, stringBytes}
	var iovecs []syscall.Iovec
	var total int
	for _, section := range sections {
		if len(section) == 0 {
			continue
		}
		iovecs = append(iovecs, syscall.Iovec{
			Base: &section[0],
			Len:  uint64(len(section)),
		})
		total += len(section)
	}

	tmpPath := filepath.Join(dirPath, dirDbTempName)
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create sidecar temp file %s: %w", tmpPath, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(tmpPath)
	}
	if nw, err := vectorio.WritevRaw(uintptr(file.Fd()), iovecs); err != nil {
		cleanup()
		return 0, fmt.Errorf("failed to write sidecar %s: %w", tmpPath, err)
	} else if nw != total {
		cleanup()
		return 0, fmt.Errorf("short sidecar write to %s: wrote %d of %d bytes", tmpPath, nw, total)
	}
	if err := file.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("failed to sync sidecar %s: %w", tmpPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close sidecar %s: %w", tmpPath, err)
	}
	dbPath := filepath.Join(dirPath, DirDbFileName)
	if err := os.Rename(tmpPath, dbPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename sidecar into place: %w", err)
	}
	return uint64(total), nil
}
