package treeop

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildDirDb_SkipsSidecarAndNonRegular(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "regular", "content")
	writeTestFile(t, dir, "linktarget", "other")
	if err := os.Symlink(filepath.Join(dir, "linktarget"), filepath.Join(dir, "symlink")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	// A stale sidecar must never be indexed as content.
	writeTestFile(t, dir, DirDbFileName, "stale")

	ix := newIndexer(testOptions())
	data, err := ix.buildDirDb(dir, nil)
	if err != nil {
		t.Fatalf("buildDirDb failed: %v", err)
	}

	names := map[string]bool{}
	for _, f := range data.Files {
		names[f.Name] = true
	}
	if len(data.Files) != 2 || !names["regular"] || !names["linktarget"] {
		t.Errorf("Expected exactly [linktarget regular], got %v", names)
	}
	for _, f := range data.Files {
		if f.Name == DirDbFileName {
			t.Error("Sidecar indexed as content")
		}
	}
}

func TestBuildDirDb_MetadataAndCounters(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "file", "0123456789")

	ix := newIndexer(testOptions())
	data, err := ix.buildDirDb(dir, nil)
	if err != nil {
		t.Fatalf("buildDirDb failed: %v", err)
	}
	if len(data.Files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(data.Files))
	}
	f := data.Files[0]
	if f.Size != 10 {
		t.Errorf("Expected size 10, got %d", f.Size)
	}
	if f.Inode == 0 {
		t.Error("Expected a non-zero inode")
	}
	if f.NumLinks != 1 {
		t.Errorf("Expected 1 hardlink, got %d", f.NumLinks)
	}
	if f.Date == 0 {
		t.Error("Expected a non-zero date")
	}
	if data.HashedBytes != 10 {
		t.Errorf("Expected 10 hashed bytes, got %d", data.HashedBytes)
	}
	if data.DbSize == 0 {
		t.Error("Expected a non-zero sidecar size")
	}

	// The stored hash is the default digest of the file content.
	d, _ := NewDigest(DefaultDigestName)
	content, _ := os.ReadFile(path)
	d.Write(content)
	if f.Hash != d.Sum128() {
		t.Error("Stored hash does not match the content digest")
	}
}

func TestUpdateDirDb_ReusesHashes(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "one", "aaaa")
	writeTestFile(t, dir, "two", "bbbbbb")

	ix := newIndexer(testOptions())
	first, err := ix.buildDirDb(dir, nil)
	if err != nil {
		t.Fatalf("Initial build failed: %v", err)
	}
	if first.HashedBytes != 10 {
		t.Errorf("Expected 10 hashed bytes on first build, got %d", first.HashedBytes)
	}

	// Nothing changed: the update must hash zero bytes.
	second, err := ix.updateDirDb(dir)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if second.HashedBytes != 0 {
		t.Errorf("Expected 0 hashed bytes on no-op update, got %d", second.HashedBytes)
	}
	if len(second.Files) != 2 {
		t.Fatalf("Expected 2 files after update, got %d", len(second.Files))
	}
	for i := range first.Files {
		if first.Files[i].Hash != second.Files[i].Hash {
			t.Errorf("Hash of %s changed on no-op update", first.Files[i].Name)
		}
	}
}

func TestUpdateDirDb_RehashesModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "file", "before")

	ix := newIndexer(testOptions())
	first, err := ix.buildDirDb(dir, nil)
	if err != nil {
		t.Fatalf("Initial build failed: %v", err)
	}

	// Same size, different content and mtime: the reuse key must miss.
	if err := os.WriteFile(path, []byte("after!"), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Failed to change mtime: %v", err)
	}

	second, err := ix.updateDirDb(dir)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if second.HashedBytes != 6 {
		t.Errorf("Expected 6 hashed bytes after modification, got %d", second.HashedBytes)
	}
	if first.Files[0].Hash == second.Files[0].Hash {
		t.Error("Hash unchanged although content changed")
	}
}

func TestUpdateDirDb_RebuildsCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "file", "content")
	writeTestFile(t, dir, DirDbFileName, "garbage")

	ix := newIndexer(testOptions())
	data, err := ix.updateDirDb(dir)
	if err != nil {
		t.Fatalf("Expected corrupt sidecar to be rebuilt, got %v", err)
	}
	if len(data.Files) != 1 || data.Files[0].Name != "file" {
		t.Errorf("Unexpected rebuild result: %+v", data.Files)
	}
}

func TestLoadOrCreateDirDb_Modes(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "file", "content")

	ix := newIndexer(testOptions())

	// No sidecar yet: read mode builds one.
	data, err := ix.loadOrCreateDirDb(dir, LoadRead)
	if err != nil {
		t.Fatalf("Read-mode build failed: %v", err)
	}
	if data.HashedBytes == 0 {
		t.Error("Expected fresh build to hash the file")
	}

	// Sidecar present: read mode reads it, no hashing.
	data, err = ix.loadOrCreateDirDb(dir, LoadRead)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if data.HashedBytes != 0 {
		t.Error("Expected cached read, got a rebuild")
	}

	// Force-create always hashes.
	data, err = ix.loadOrCreateDirDb(dir, LoadForceCreate)
	if err != nil {
		t.Fatalf("Force-create failed: %v", err)
	}
	if data.HashedBytes == 0 {
		t.Error("Expected force-create to rehash")
	}

	// Update reuses the cache, so nothing is hashed.
	data, err = ix.loadOrCreateDirDb(dir, LoadUpdate)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if data.HashedBytes != 0 {
		t.Error("Expected update to reuse all hashes")
	}
}

func TestLoadOrCreateDirDb_ReadRecoversCorrupt(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "file", "content")
	writeTestFile(t, dir, DirDbFileName, "not a sidecar")

	ix := newIndexer(testOptions())
	data, err := ix.loadOrCreateDirDb(dir, LoadRead)
	if err != nil {
		t.Fatalf("Expected corrupt sidecar recovery, got %v", err)
	}
	if len(data.Files) != 1 {
		t.Errorf("Expected 1 file after recovery, got %d", len(data.Files))
	}
}

func TestProcessDirTree_Recurses(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	subsub := filepath.Join(sub, "subsub")
	if err := os.MkdirAll(subsub, 0755); err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	writeTestFile(t, root, "top", "1")
	writeTestFile(t, sub, "mid", "22")
	writeTestFile(t, subsub, "leaf", "333")

	opts := testOptions()
	normRoot := NormalizePath(root)
	db := NewMainDb([]string{normRoot}, false, opts)
	if err := ProcessDirTree(normRoot, db, LoadRead, opts); err != nil {
		t.Fatalf("ProcessDirTree failed: %v", err)
	}

	if len(db.dirs) != 3 {
		t.Fatalf("Expected 3 directories, got %d", len(db.dirs))
	}
	for _, dir := range []string{root, sub, subsub} {
		if !sidecarExists(dir) {
			t.Errorf("Missing sidecar in %s", dir)
		}
	}
}

func TestRemoveDirDbTree(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	writeTestFile(t, root, "f", "x")
	writeTestFile(t, sub, "g", "y")

	opts := testOptions()
	normRoot := NormalizePath(root)
	db := NewMainDb([]string{normRoot}, false, opts)
	if err := ProcessDirTree(normRoot, db, LoadRead, opts); err != nil {
		t.Fatalf("ProcessDirTree failed: %v", err)
	}

	// Dry run leaves the sidecars in place.
	if err := RemoveDirDbTree(normRoot, opts, true); err != nil {
		t.Fatalf("Dry-run removal failed: %v", err)
	}
	if !sidecarExists(root) || !sidecarExists(sub) {
		t.Fatal("Dry run must not delete sidecars")
	}

	if err := RemoveDirDbTree(normRoot, opts, false); err != nil {
		t.Fatalf("Removal failed: %v", err)
	}
	if sidecarExists(root) || sidecarExists(sub) {
		t.Error("Sidecars not removed")
	}
}
