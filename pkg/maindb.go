package treeop

import (
	"fmt"
	"io"
	"math/bits"
	"path/filepath"
	"sort"
	"strings"
)

// RootData is one command-line root with its scan wall time.
type RootData struct {
	Path           string
	ElapsedSeconds float64
}

// MainDb holds every loaded directory index across all roots. A
// directory belongs to a root iff the root path is a component-wise
// ancestor of the directory path.
type MainDb struct {
	roots        []RootData
	dirs         []DirDbData
	sameFilename bool
	opts         *Options
	content      *contentMap // lazily built, reset by AddDir
}

// NewMainDb creates an aggregator over the given (already normalized)
// roots. With sameFilename the content key additionally requires the
// leaf name to match.
func NewMainDb(roots []string, sameFilename bool, opts *Options) *MainDb {
	db := &MainDb{
		sameFilename: sameFilename,
		opts:         opts.Normalized(),
	}
	for _, root := range roots {
		db.roots = append(db.roots, RootData{Path: root})
	}
	return db
}

// AddDir adds one loaded directory index.
func (db *MainDb) AddDir(dir DirDbData) {
	db.dirs = append(db.dirs, dir)
	db.content = nil
}

// SetRootElapsed records the wall time spent loading a root.
func (db *MainDb) SetRootElapsed(root string, seconds float64) {
	for i := range db.roots {
		if db.roots[i].Path == root {
			db.roots[i].ElapsedSeconds = seconds
			break
		}
	}
}

// NumRoots returns the number of roots.
func (db *MainDb) NumRoots() int {
	return len(db.roots)
}

// contentKey derives the ContentKey of a file entry, applying the
// same-filename policy when active.
func (db *MainDb) contentKey(file FileEntry) ContentKey {
	if db.sameFilename {
		return ContentKey{
			Size: file.Size,
			Hash: combineHashWithName(db.opts.newDigest, file.Hash, file.Name),
		}
	}
	return ContentKey{Size: file.Size, Hash: file.Hash}
}

// getContentMap groups every file of every root by ContentKey, building
// the grouping on first use. A directory lying within several
// (overlapping) roots contributes refs under each of them.
func (db *MainDb) getContentMap() *contentMap {
	if db.content != nil {
		return db.content
	}
	m := newContentMap()
	for rootIdx := range db.roots {
		for _, dir := range db.dirs {
			if !IsPathWithin(db.roots[rootIdx].Path, dir.Path) {
				continue
			}
			for _, file := range dir.Files {
				m.add(db.contentKey(file), fileRef{
					Path:     filepath.Join(dir.Path, file.Name),
					Size:     file.Size,
					Hash:     file.Hash,
					Inode:    file.Inode,
					Date:     file.Date,
					NumLinks: file.NumLinks,
					Root:     rootIdx,
				})
			}
		}
	}
	db.content = m
	return m
}

// PrintStats prints the per-root statistics panel: file and directory
// counts, total and redundant sizes, sidecar overhead and hash
// throughput.
func (db *MainDb) PrintStats(w io.Writer) {
	for _, rootData := range db.roots {
		var dirCount, fileCount uint64
		var totalSize, totalDbSize, totalHashedBytes uint64
		var totalHashSeconds float64
		contentCounts := make(map[ContentKey]uint64)
		for _, dir := range db.dirs {
			if !IsPathWithin(rootData.Path, dir.Path) {
				continue
			}
			dirCount++
			fileCount += uint64(len(dir.Files))
			for _, file := range dir.Files {
				totalSize += file.Size
				contentCounts[db.contentKey(file)]++
			}
			totalDbSize += dir.DbSize
			totalHashedBytes += dir.HashedBytes
			totalHashSeconds += dir.HashSeconds
		}

		var redundantFiles, redundantSize uint64
		for key, count := range contentCounts {
			if count > 1 {
				extra := count - 1
				redundantFiles += extra
				redundantSize += extra * key.Size
			}
		}

		dbBytesPerFile := 0.0
		if fileCount > 0 {
			dbBytesPerFile = float64(totalDbSize) / float64(fileCount)
		}
		stats := []statLine{
			{"files:", formatCount(fileCount), ""},
			{"dirs:", formatCount(dirCount), ""},
			{"total-size:", formatSizeFixed(totalSize, 3), ""},
			{"redundant-files:", formatCount(redundantFiles), "(" + percentOf(redundantFiles, fileCount) + ")"},
			{"redundant-size:", formatSizeFixed(redundantSize, 3), "(" + percentOf(redundantSize, totalSize) + ")"},
			{"dirdb-size:", formatSizeFixed(totalDbSize, 3), "(" + percentOf(totalDbSize, totalSize) + ")"},
			{"dirdb-bytes-per-file:", formatSizeFixedFloat(dbBytesPerFile, 1), ""},
		}
		if totalHashedBytes > 0 && totalHashSeconds > 0 {
			rateMb := float64(totalHashedBytes) / totalHashSeconds / (1024.0 * 1024.0)
			stats = append(stats,
				statLine{"hash-size:", formatSizeFixed(totalHashedBytes, 3), ""},
				statLine{"hash-rate:", fmt.Sprintf("%.1f MB/s", rateMb), ""})
		}
		if rootData.ElapsedSeconds > 0 {
			stats = append(stats, statLine{"elapsed:", formatElapsed(rootData.ElapsedSeconds), ""})
		}

		fmt.Fprintln(w, rootData.Path)
		printStatList(w, stats)
	}
}

// IntersectRootStats splits one root's files into content unique to the
// root versus content shared with at least one other root.
type IntersectRootStats struct {
	UniqueFiles uint64
	UniqueBytes uint64
	SharedFiles uint64
	SharedBytes uint64
}

// Intersect computes per-root unique/shared statistics across all roots.
func (db *MainDb) Intersect() []IntersectRootStats {
	stats := make([]IntersectRootStats, len(db.roots))
	db.getContentMap().forEach(func(key ContentKey, refs []fileRef) bool {
		counts := make([]uint64, len(db.roots))
		rootsWithKey := 0
		for _, ref := range refs {
			if counts[ref.Root] == 0 {
				rootsWithKey++
			}
			counts[ref.Root]++
		}
		for i, count := range counts {
			if count == 0 {
				continue
			}
			if rootsWithKey >= 2 {
				stats[i].SharedFiles += count
				stats[i].SharedBytes += count * key.Size
			} else {
				stats[i].UniqueFiles += count
				stats[i].UniqueBytes += count * key.Size
			}
		}
		return true
	})
	return stats
}

// PrintIntersectStats prints the intersect panel. For two roots it uses
// the classic only-A/both-A/both-B/only-B layout; for more roots it
// prints per-root unique/shared figures plus totals.
func (db *MainDb) PrintIntersectStats(w io.Writer) {
	stats := db.Intersect()
	if len(db.roots) == 2 {
		a, b := stats[0], stats[1]
		totalFilesA := a.UniqueFiles + a.SharedFiles
		totalBytesA := a.UniqueBytes + a.SharedBytes
		totalFilesB := b.UniqueFiles + b.SharedFiles
		totalBytesB := b.UniqueBytes + b.SharedBytes
		lines := []statLine{
			{"only-A-files:", formatCount(a.UniqueFiles), "(" + percentOf(a.UniqueFiles, totalFilesA) + " of A)"},
			{"only-A-size:", formatSizeFixed(a.UniqueBytes, 3), "(" + percentOf(a.UniqueBytes, totalBytesA) + " of A)"},
			{"both-A-files:", formatCount(a.SharedFiles), "(" + percentOf(a.SharedFiles, totalFilesA) + " of A)"},
			{"both-A-size:", formatSizeFixed(a.SharedBytes, 3), "(" + percentOf(a.SharedBytes, totalBytesA) + " of A)"},
			{"both-B-files:", formatCount(b.SharedFiles), "(" + percentOf(b.SharedFiles, totalFilesB) + " of B)"},
			{"both-B-size:", formatSizeFixed(b.SharedBytes, 3), "(" + percentOf(b.SharedBytes, totalBytesB) + " of B)"},
			{"only-B-files:", formatCount(b.UniqueFiles), "(" + percentOf(b.UniqueFiles, totalFilesB) + " of B)"},
			{"only-B-size:", formatSizeFixed(b.UniqueBytes, 3), "(" + percentOf(b.UniqueBytes, totalBytesB) + " of B)"},
		}
		fmt.Fprintf(w, "A: %s\nB: %s\n", db.roots[0].Path, db.roots[1].Path)
		printStatList(w, lines)
		return
	}

	var totals IntersectRootStats
	for i, rootStats := range stats {
		totalFiles := rootStats.UniqueFiles + rootStats.SharedFiles
		totalBytes := rootStats.UniqueBytes + rootStats.SharedBytes
		fmt.Fprintln(w, db.roots[i].Path)
		printStatList(w, []statLine{
			{"unique-files:", formatCount(rootStats.UniqueFiles), "(" + percentOf(rootStats.UniqueFiles, totalFiles) + ")"},
			{"unique-size:", formatSizeFixed(rootStats.UniqueBytes, 3), "(" + percentOf(rootStats.UniqueBytes, totalBytes) + ")"},
			{"shared-files:", formatCount(rootStats.SharedFiles), "(" + percentOf(rootStats.SharedFiles, totalFiles) + ")"},
			{"shared-size:", formatSizeFixed(rootStats.SharedBytes, 3), "(" + percentOf(rootStats.SharedBytes, totalBytes) + ")"},
		})
		totals.UniqueFiles += rootStats.UniqueFiles
		totals.UniqueBytes += rootStats.UniqueBytes
		totals.SharedFiles += rootStats.SharedFiles
		totals.SharedBytes += rootStats.SharedBytes
	}
	totalFiles := totals.UniqueFiles + totals.SharedFiles
	totalBytes := totals.UniqueBytes + totals.SharedBytes
	fmt.Fprintln(w, "total:")
	printStatList(w, []statLine{
		{"unique-files:", formatCount(totals.UniqueFiles), "(" + percentOf(totals.UniqueFiles, totalFiles) + ")"},
		{"unique-size:", formatSizeFixed(totals.UniqueBytes, 3), "(" + percentOf(totals.UniqueBytes, totalBytes) + ")"},
		{"shared-files:", formatCount(totals.SharedFiles), "(" + percentOf(totals.SharedFiles, totalFiles) + ")"},
		{"shared-size:", formatSizeFixed(totals.SharedBytes, 3), "(" + percentOf(totals.SharedBytes, totalBytes) + ")"},
	})
}

// rootPresence returns how many refs each root contributed to a bucket.
func rootPresence(refs []fileRef, numRoots int) []uint64 {
	counts := make([]uint64, numRoots)
	for _, ref := range refs {
		counts[ref.Root]++
	}
	return counts
}

// ListOnly prints the files whose content appears only in root rootIdx
// (two-root intersect listing). At verbosity >= 1 the rows carry
// metadata columns.
func (db *MainDb) ListOnly(w io.Writer, rootIdx int, header string) {
	fmt.Fprintln(w, header)
	var refs []fileRef
	db.getContentMap().forEach(func(key ContentKey, bucketRefs []fileRef) bool {
		counts := rootPresence(bucketRefs, len(db.roots))
		for i, count := range counts {
			if i != rootIdx && count > 0 {
				return true
			}
		}
		if counts[rootIdx] == 0 {
			return true
		}
		for _, ref := range bucketRefs {
			if ref.Root == rootIdx {
				refs = append(refs, ref)
			}
		}
		return true
	})
	if db.opts.Verbose > 0 {
		db.printListRows(w, refs, db.opts.Verbose > 1, db.uniqueHashHexLen())
		return
	}
	for _, ref := range refs {
		fmt.Fprintln(w, ref.Path)
	}
}

// ListBoth prints the files whose content appears in both roots of a
// two-root intersect, labeled by side.
func (db *MainDb) ListBoth(w io.Writer) {
	fmt.Fprintln(w, "in-both:")
	var refs []fileRef
	db.getContentMap().forEach(func(key ContentKey, bucketRefs []fileRef) bool {
		counts := rootPresence(bucketRefs, len(db.roots))
		if counts[0] == 0 || counts[1] == 0 {
			return true
		}
		for _, side := range []int{0, 1} {
			label := "A: "
			if side == 1 {
				label = "B: "
			}
			for _, ref := range bucketRefs {
				if ref.Root == side {
					labeled := ref
					labeled.Path = label + labeled.Path
					refs = append(refs, labeled)
				}
			}
		}
		return true
	})
	if db.opts.Verbose > 0 {
		db.printListRows(w, refs, db.opts.Verbose > 1, db.uniqueHashHexLen())
		return
	}
	for _, ref := range refs {
		fmt.Fprintln(w, ref.Path)
	}
}

// ListFiles prints every loaded file with its stored metadata. The hash
// column shows the leading uniqueHashHexLen nibbles of Hash128.Hex. That
// length comes from minUniqueHashBits, which counts bits from the hi
// half, while Hex starts with the lo half, so the shown prefixes of
// distinct hashes are not guaranteed to differ.
func (db *MainDb) ListFiles(w io.Writer) {
	hashLen := db.uniqueHashHexLen()
	var refs []fileRef
	for _, dir := range db.dirs {
		for _, file := range dir.Files {
			refs = append(refs, fileRef{
				Path:     filepath.Join(dir.Path, file.Name),
				Size:     file.Size,
				Hash:     file.Hash,
				Inode:    file.Inode,
				Date:     file.Date,
				NumLinks: file.NumLinks,
			})
		}
	}
	db.printListRows(w, refs, db.opts.Verbose > 1, hashLen)
}

// printListRows prints aligned metadata rows: size, hash prefix,
// optionally inode, date, optionally link count, path.
func (db *MainDb) printListRows(w io.Writer, refs []fileRef, showInodeLinks bool, hashLen int) {
	type row struct {
		size, hash, inode, date, numLinks, name string
	}
	rows := make([]row, 0, len(refs))
	var widthSize, widthHash, widthInode, widthDate, widthLinks int
	for _, ref := range refs {
		r := row{
			size:     formatCount(ref.Size),
			hash:     ref.Hash.Hex()[:hashLen],
			inode:    formatCount(ref.Inode),
			date:     formatFileTime(ref.Date),
			numLinks: formatCount(ref.NumLinks),
			name:     ref.Path,
		}
		widthSize = max(widthSize, len(r.size))
		widthHash = max(widthHash, len(r.hash))
		if showInodeLinks {
			widthInode = max(widthInode, len(r.inode))
			widthLinks = max(widthLinks, len(r.numLinks))
		}
		widthDate = max(widthDate, len(r.date))
		rows = append(rows, r)
	}
	for _, r := range rows {
		var sb strings.Builder
		sb.WriteString(padLeft(r.size, widthSize))
		sb.WriteString(" ")
		sb.WriteString(padLeft(r.hash, widthHash))
		sb.WriteString(" ")
		if showInodeLinks {
			sb.WriteString(padLeft(r.inode, widthInode))
			sb.WriteString(" ")
		}
		sb.WriteString(padLeft(r.date, widthDate))
		sb.WriteString(" ")
		if showInodeLinks {
			sb.WriteString(padLeft(r.numLinks, widthLinks))
			sb.WriteString(" ")
		}
		sb.WriteString(r.name)
		fmt.Fprintln(w, sb.String())
	}
}

// allHashes collects every stored content hash across all loaded dirs.
func (db *MainDb) allHashes() []Hash128 {
	var hashes []Hash128
	for _, dir := range db.dirs {
		for _, file := range dir.Files {
			hashes = append(hashes, file.Hash)
		}
	}
	return hashes
}

// minUniqueHashBits returns the minimum number of leading bits after
// which no two distinct hashes collide. After sorting, the longest common
// prefix between any two distinct hashes occurs between neighbours, so
// only adjacent pairs need checking. Returns 0 for fewer than two
// distinct hashes; the result is clamped to 128.
func minUniqueHashBits(hashes []Hash128) int {
	if len(hashes) <= 1 {
		return 0
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	distinct := hashes[:1]
	for _, h := range hashes[1:] {
		if h != distinct[len(distinct)-1] {
			distinct = append(distinct, h)
		}
	}
	if len(distinct) <= 1 {
		return 0
	}
	maxCommonPrefix := 0
	for i := 1; i < len(distinct); i++ {
		hiXor := distinct[i].Hi ^ distinct[i-1].Hi
		var common int
		if hiXor == 0 {
			loXor := distinct[i].Lo ^ distinct[i-1].Lo
			common = 64 + bits.LeadingZeros64(loXor)
		} else {
			common = bits.LeadingZeros64(hiXor)
		}
		if common > maxCommonPrefix {
			maxCommonPrefix = common
		}
	}
	if maxCommonPrefix+1 > 128 {
		return 128
	}
	return maxCommonPrefix + 1
}

// uniqueHashHexLen converts the minimum unique bit length to whole
// nibbles, clamped to [4, 32].
func (db *MainDb) uniqueHashHexLen() int {
	nibbles := (minUniqueHashBits(db.allHashes()) + 3) / 4
	if nibbles < 4 {
		nibbles = 4
	}
	if nibbles > 32 {
		nibbles = 32
	}
	return nibbles
}

// PrintUniqueHashLen prints the minimum hash bit length that keeps all
// observed content distinguishable.
func (db *MainDb) PrintUniqueHashLen(w io.Writer) {
	fmt.Fprintf(w, "unique-hash-len: %d\n", minUniqueHashBits(db.allHashes()))
}

// histogramUnit scales histogram boundaries to the unit of the bucket
// width.
type histogramUnit struct {
	factor uint64
	label  string
}

func getHistogramUnit(batchSize uint64) histogramUnit {
	units := []histogramUnit{
		{1, "bytes"},
		{1 << 10, "kB"},
		{1 << 20, "MB"},
		{1 << 30, "GB"},
		{1 << 40, "TB"},
		{1 << 50, "PB"},
		{1 << 60, "EB"},
	}
	index := 0
	size := batchSize
	for size >= 1024 && index+1 < len(units) {
		size >>= 10
		index++
	}
	return units[index]
}

func decimalPos(value string) int {
	if i := strings.IndexByte(value, '.'); i >= 0 {
		return i
	}
	return len(value)
}

func splitSizeStr(value string) (number, suffix string) {
	if i := strings.LastIndexByte(value, ' '); i >= 0 {
		return value[:i], value[i+1:]
	}
	return value, ""
}

func formatSizeAligned(value string, decimalCol, suffixWidth int) string {
	number, suffix := splitSizeStr(value)
	if pad := decimalCol - decimalPos(number); pad > 0 {
		number = strings.Repeat(" ", pad) + number
	}
	if suffixWidth == 0 {
		return number
	}
	return number + " " + padRight(suffix, suffixWidth)
}

// PrintSizeHistogram prints a bucketed file-size histogram with bucket
// width batchSize. Files above maxSizeLimit are excluded when hasMaxSize
// is set. Verbosity adds the bucket end boundary and a bar column.
func (db *MainDb) PrintSizeHistogram(w io.Writer, batchSize, maxSizeLimit uint64, hasMaxSize bool) error {
	if batchSize == 0 {
		return Usagef("size-histogram batch size must be greater than 0")
	}

	type bucket struct {
		count     uint64
		totalSize uint64
	}
	buckets := make(map[uint64]bucket)
	var maxSize uint64
	hasFiles := false
	for _, dir := range db.dirs {
		for _, file := range dir.Files {
			if hasMaxSize && file.Size > maxSizeLimit {
				continue
			}
			start := (file.Size / batchSize) * batchSize
			b := buckets[start]
			b.count++
			b.totalSize += file.Size
			buckets[start] = b
			if !hasFiles || file.Size > maxSize {
				maxSize = file.Size
				hasFiles = true
			}
		}
	}

	unit := getHistogramUnit(batchSize)
	showEnd := db.opts.Verbose > 0
	showBar := db.opts.Verbose > 1
	var maxStart uint64
	if hasFiles {
		maxStart = (maxSize / batchSize) * batchSize
	}

	widthStartNum, widthEndNum := 0, 0
	for start := uint64(0); ; start += batchSize {
		widthStartNum = max(widthStartNum, len(formatCount(start/unit.factor)))
		if showEnd {
			widthEndNum = max(widthEndNum, len(formatCount((start+batchSize)/unit.factor)))
		}
		if start >= maxStart {
			break
		}
	}
	widthStart := widthStartNum + 1 + len(unit.label)
	widthEnd := 0
	if showEnd {
		widthEnd = widthEndNum + 1 + len(unit.label)
	}

	widthCount, widthTotal := 0, 0
	totalDecimalPos, totalSuffixWidth := 0, 0
	var bucketTotalStrings []string
	var bucketTotals []uint64
	var maxBucketTotal uint64
	for start := uint64(0); ; start += batchSize {
		b := buckets[start]
		widthCount = max(widthCount, len(formatCount(b.count)))
		totalStr := formatSizeFixed(b.totalSize, 3)
		number, suffix := splitSizeStr(totalStr)
		totalDecimalPos = max(totalDecimalPos, decimalPos(number))
		totalSuffixWidth = max(totalSuffixWidth, len(suffix))
		bucketTotalStrings = append(bucketTotalStrings, totalStr)
		bucketTotals = append(bucketTotals, b.totalSize)
		if b.totalSize > maxBucketTotal {
			maxBucketTotal = b.totalSize
		}
		if start >= maxStart {
			break
		}
	}
	for _, totalStr := range bucketTotalStrings {
		number, _ := splitSizeStr(totalStr)
		numberWidth := len(number) + max(0, totalDecimalPos-decimalPos(number))
		widthTotal = max(widthTotal, numberWidth+1+totalSuffixWidth)
	}

	rangeWidth := widthStart + 1
	if showEnd {
		rangeWidth = widthStart + 2 + widthEnd + 1
	}
	baseWidth := rangeWidth + 1 + widthCount + 1 + widthTotal
	barAvailable := 0
	if showBar && baseWidth+1 < 79 {
		barAvailable = 79 - baseWidth - 1
	}

	bucketIndex := 0
	for start := uint64(0); ; start += batchSize {
		b := buckets[start]
		startStr := padLeft(formatCount(start/unit.factor), widthStartNum) + " " + unit.label
		totalStr := formatSizeAligned(bucketTotalStrings[bucketIndex], totalDecimalPos, totalSuffixWidth)
		totalStr = padRight(totalStr, widthTotal)
		var rangeLabel string
		if showEnd {
			endStr := padLeft(formatCount((start+batchSize)/unit.factor), widthEndNum) + " " + unit.label
			rangeLabel = padRight(startStr, widthStart) + ".." + padRight(endStr, widthEnd) + ":"
		} else {
			rangeLabel = padRight(startStr, widthStart) + ":"
		}
		fmt.Fprintf(w, "%s %s %s", padRight(rangeLabel, rangeWidth), padLeft(formatCount(b.count), widthCount), totalStr)
		if barAvailable > 0 && maxBucketTotal > 0 {
			barLen := int(bucketTotals[bucketIndex] * uint64(barAvailable) / maxBucketTotal)
			if bucketTotals[bucketIndex] > 0 && barLen == 0 {
				barLen = 1
			}
			fmt.Fprintf(w, " %s", strings.Repeat("#", barLen))
		}
		fmt.Fprintln(w)
		bucketIndex++
		if start >= maxStart {
			break
		}
	}
	return nil
}
