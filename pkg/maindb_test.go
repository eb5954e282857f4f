package treeop

import (
	"bytes"
	"strings"
	"testing"
)

// makeDir builds an in-memory DirDbData for aggregation tests.
func makeDir(path string, files ...FileEntry) DirDbData {
	return DirDbData{Path: path, Files: files}
}

func entry(name string, size uint64, hash Hash128) FileEntry {
	return FileEntry{Name: name, Size: size, Hash: hash}
}

func TestContentMap_OrderedIteration(t *testing.T) {
	m := newContentMap()
	keys := []ContentKey{
		{Size: 5, Hash: Hash128{Hi: 1}},
		{Size: 1, Hash: Hash128{Hi: 9}},
		{Size: 5, Hash: Hash128{Hi: 0, Lo: 3}},
		{Size: 3, Hash: Hash128{}},
	}
	for _, k := range keys {
		m.add(k, fileRef{Size: k.Size})
	}
	m.add(keys[0], fileRef{Size: keys[0].Size}) // duplicate key, second ref

	var got []ContentKey
	var counts []int
	m.forEach(func(key ContentKey, refs []fileRef) bool {
		got = append(got, key)
		counts = append(counts, len(refs))
		return true
	})
	want := []ContentKey{
		{Size: 1, Hash: Hash128{Hi: 9}},
		{Size: 3, Hash: Hash128{}},
		{Size: 5, Hash: Hash128{Hi: 0, Lo: 3}},
		{Size: 5, Hash: Hash128{Hi: 1}},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d buckets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Bucket %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if counts[3] != 2 {
		t.Errorf("Expected 2 refs in the duplicated bucket, got %d", counts[3])
	}
	if m.len() != 4 {
		t.Errorf("Expected 4 buckets, got %d", m.len())
	}
}

func TestMainDb_RootContainment(t *testing.T) {
	opts := testOptions()
	db := NewMainDb([]string{"/roots/a"}, false, opts)
	db.AddDir(makeDir("/roots/a", entry("in", 1, Hash128{Lo: 1})))
	db.AddDir(makeDir("/roots/a/sub", entry("deeper", 2, Hash128{Lo: 2})))
	db.AddDir(makeDir("/roots/ab", entry("out", 3, Hash128{Lo: 3})))

	m := db.getContentMap()
	total := 0
	m.forEach(func(key ContentKey, refs []fileRef) bool {
		total += len(refs)
		return true
	})
	// /roots/ab is not within /roots/a.
	if total != 2 {
		t.Errorf("Expected 2 aggregated files, got %d", total)
	}
}

func TestMainDb_Stats_RedundantCounts(t *testing.T) {
	opts := testOptions()
	h := Hash128{Lo: 7}
	db := NewMainDb([]string{"/r"}, false, opts)
	db.AddDir(makeDir("/r",
		entry("a", 100, h),
		entry("b", 100, h),
		entry("c", 100, h),
		entry("d", 50, Hash128{Lo: 8})))

	var out bytes.Buffer
	db.PrintStats(&out)
	text := out.String()
	if !strings.Contains(text, "files:") || !strings.Contains(text, "redundant-files:") {
		t.Fatalf("Stats panel missing expected labels:\n%s", text)
	}
	// Three copies of the same 100-byte content: 2 redundant files, 200
	// redundant bytes. Compare whitespace-collapsed to ignore alignment.
	flat := strings.Join(strings.Fields(text), " ")
	if !strings.Contains(flat, "redundant-files: 2 (50.0%)") {
		t.Errorf("Expected 2 redundant files:\n%s", text)
	}
	if !strings.Contains(flat, "redundant-size: 200 bytes") {
		t.Errorf("Expected 200 redundant bytes:\n%s", text)
	}
}

// Scenario: three roots, key K appears twice in A, once in B, never in
// C. Shared counts are A=2, B=1, C=0.
func threeRootDb(opts *Options) *MainDb {
	k := Hash128{Lo: 0xfeed}
	db := NewMainDb([]string{"/A", "/B", "/C"}, false, opts)
	db.AddDir(makeDir("/A", entry("k1", 10, k), entry("k2", 10, k), entry("solo", 4, Hash128{Lo: 1})))
	db.AddDir(makeDir("/B", entry("k3", 10, k)))
	db.AddDir(makeDir("/C", entry("other", 9, Hash128{Lo: 2})))
	return db
}

func TestMainDb_Intersect_ThreeRoots(t *testing.T) {
	db := threeRootDb(testOptions())
	stats := db.Intersect()
	if len(stats) != 3 {
		t.Fatalf("Expected 3 root stats, got %d", len(stats))
	}
	if stats[0].SharedFiles != 2 || stats[0].SharedBytes != 20 {
		t.Errorf("Root A: expected 2 shared files / 20 bytes, got %+v", stats[0])
	}
	if stats[0].UniqueFiles != 1 || stats[0].UniqueBytes != 4 {
		t.Errorf("Root A: expected 1 unique file / 4 bytes, got %+v", stats[0])
	}
	if stats[1].SharedFiles != 1 || stats[1].UniqueFiles != 0 {
		t.Errorf("Root B: expected 1 shared / 0 unique, got %+v", stats[1])
	}
	if stats[2].SharedFiles != 0 || stats[2].UniqueFiles != 1 {
		t.Errorf("Root C: expected 0 shared / 1 unique, got %+v", stats[2])
	}
}

func TestMainDb_Intersect_TwoRootPanel(t *testing.T) {
	opts := testOptions()
	k := Hash128{Lo: 5}
	db := NewMainDb([]string{"/A", "/B"}, false, opts)
	db.AddDir(makeDir("/A", entry("both", 10, k), entry("onlya", 3, Hash128{Lo: 6})))
	db.AddDir(makeDir("/B", entry("both2", 10, k)))

	var out bytes.Buffer
	db.PrintIntersectStats(&out)
	text := out.String()
	for _, label := range []string{"only-A-files:", "both-A-files:", "both-B-files:", "only-B-files:"} {
		if !strings.Contains(text, label) {
			t.Errorf("Missing %q in two-root panel:\n%s", label, text)
		}
	}
	if !strings.HasPrefix(text, "A: /A\nB: /B\n") {
		t.Errorf("Missing root header:\n%s", text)
	}
}

func TestMainDb_SameFilenamePolicy(t *testing.T) {
	opts := testOptions()
	h := Hash128{Lo: 1}

	// Same content, different names: shared without the policy, unique
	// with it.
	plain := NewMainDb([]string{"/A", "/B"}, false, opts)
	plain.AddDir(makeDir("/A", entry("x", 10, h)))
	plain.AddDir(makeDir("/B", entry("y", 10, h)))
	stats := plain.Intersect()
	if stats[0].SharedFiles != 1 || stats[1].SharedFiles != 1 {
		t.Errorf("Without policy expected shared content, got %+v", stats)
	}

	named := NewMainDb([]string{"/A", "/B"}, true, opts)
	named.AddDir(makeDir("/A", entry("x", 10, h)))
	named.AddDir(makeDir("/B", entry("y", 10, h)))
	stats = named.Intersect()
	if stats[0].UniqueFiles != 1 || stats[1].UniqueFiles != 1 {
		t.Errorf("With policy expected unique content, got %+v", stats)
	}

	samename := NewMainDb([]string{"/A", "/B"}, true, opts)
	samename.AddDir(makeDir("/A", entry("x", 10, h)))
	samename.AddDir(makeDir("/B", entry("x", 10, h)))
	stats = samename.Intersect()
	if stats[0].SharedFiles != 1 || stats[1].SharedFiles != 1 {
		t.Errorf("Equal names and content must stay shared, got %+v", stats)
	}
}

func TestMinUniqueHashBits(t *testing.T) {
	// Scenario: 0x0000..00, 0x0000..01 and 0x8000..00 force full length.
	full := []Hash128{
		{Hi: 0, Lo: 0},
		{Hi: 0, Lo: 1},
		{Hi: 0x8000000000000000, Lo: 0},
	}
	if bits := minUniqueHashBits(full); bits != 128 {
		t.Errorf("Expected 128 bits, got %d", bits)
	}

	// Two hashes differing only in the lowest bit.
	lowBit := []Hash128{{Hi: 0, Lo: 0}, {Hi: 0, Lo: 1}}
	if bits := minUniqueHashBits(lowBit); bits != 128 {
		t.Errorf("Expected 128 bits for low-bit difference, got %d", bits)
	}

	// Top nibble differs: 4 bits suffice.
	nibble := []Hash128{
		{Hi: 0xA000000000000000, Lo: 0},
		{Hi: 0xB000000000000000, Lo: 0},
	}
	if bits := minUniqueHashBits(nibble); bits != 4 {
		t.Errorf("Expected 4 bits for top-nibble difference, got %d", bits)
	}

	// Degenerate sets.
	if bits := minUniqueHashBits(nil); bits != 0 {
		t.Errorf("Expected 0 bits for empty set, got %d", bits)
	}
	if bits := minUniqueHashBits([]Hash128{{Hi: 1}}); bits != 0 {
		t.Errorf("Expected 0 bits for single hash, got %d", bits)
	}
	if bits := minUniqueHashBits([]Hash128{{Hi: 1}, {Hi: 1}, {Hi: 1}}); bits != 0 {
		t.Errorf("Expected 0 bits for duplicates only, got %d", bits)
	}

	// Top bit differs immediately: 1 bit.
	topBit := []Hash128{{Hi: 0, Lo: 0}, {Hi: 0x8000000000000000, Lo: 0}}
	if bits := minUniqueHashBits(topBit); bits != 1 {
		t.Errorf("Expected 1 bit for top-bit difference, got %d", bits)
	}
}

func TestUniqueHashHexLen_Clamping(t *testing.T) {
	opts := testOptions()

	// One distinct hash: 0 bits, clamped up to 4 nibbles.
	db := NewMainDb([]string{"/r"}, false, opts)
	db.AddDir(makeDir("/r", entry("a", 1, Hash128{Lo: 1})))
	if n := db.uniqueHashHexLen(); n != 4 {
		t.Errorf("Expected clamp to 4 nibbles, got %d", n)
	}

	// Full 128 bits: 32 nibbles.
	db2 := NewMainDb([]string{"/r"}, false, opts)
	db2.AddDir(makeDir("/r",
		entry("a", 1, Hash128{Hi: 0, Lo: 0}),
		entry("b", 1, Hash128{Hi: 0, Lo: 1})))
	if n := db2.uniqueHashHexLen(); n != 32 {
		t.Errorf("Expected 32 nibbles, got %d", n)
	}
}

func TestMainDb_ListFiles(t *testing.T) {
	opts := testOptions()
	db := NewMainDb([]string{"/r"}, false, opts)
	db.AddDir(makeDir("/r",
		entry("a", 3, Hash128{Lo: 0xaa}),
		entry("b", 10, Hash128{Lo: 0xbb})))

	var out bytes.Buffer
	db.ListFiles(&out)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 rows, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasSuffix(lines[0], "/r/a") || !strings.HasSuffix(lines[1], "/r/b") {
		t.Errorf("Unexpected row paths:\n%s", out.String())
	}
}

func TestPrintSizeHistogram(t *testing.T) {
	opts := testOptions()
	db := NewMainDb([]string{"/r"}, false, opts)
	db.AddDir(makeDir("/r",
		entry("tiny", 10, Hash128{Lo: 1}),
		entry("small", 900, Hash128{Lo: 2}),
		entry("big", 3000, Hash128{Lo: 3})))

	var out bytes.Buffer
	if err := db.PrintSizeHistogram(&out, 1024, 0, false); err != nil {
		t.Fatalf("Histogram failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	// Buckets 0k, 1k and 2k: three rows.
	if len(lines) != 3 {
		t.Fatalf("Expected 3 buckets, got %d:\n%s", len(lines), out.String())
	}

	// Bucket width of zero is a usage error.
	if err := db.PrintSizeHistogram(&out, 0, 0, false); err == nil {
		t.Error("Expected error for zero batch size")
	}

	// Max-size filter drops the 3000-byte file.
	var filtered bytes.Buffer
	if err := db.PrintSizeHistogram(&filtered, 1024, 1000, true); err != nil {
		t.Fatalf("Filtered histogram failed: %v", err)
	}
	if got := len(strings.Split(strings.TrimRight(filtered.String(), "\n"), "\n")); got != 1 {
		t.Errorf("Expected 1 bucket with max-size filter, got %d:\n%s", got, filtered.String())
	}
}
