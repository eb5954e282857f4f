package treeop

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// hardlinkTempSuffix is the base suffix for the temporary link created
// during atomic hardlink replacement.
const hardlinkTempSuffix = ".treeop_link_tmp"

// copyFileNoOverwrite copies src to dest, failing if dest already exists.
// The destination inherits the source permission bits.
func copyFileNoOverwrite(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s for copying: %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		if os.IsExist(err) {
			return &PolicyError{Op: "copy", Path: dest, Msg: "destination file already exists"}
		}
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to copy to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return nil
}

// ExtractUnique copies every file whose content appears in root srcIdx
// but not in root otherIdx into destRoot, at its path relative to the
// source root. destRoot must not pre-exist; destination files are never
// overwritten.
func (db *MainDb) ExtractUnique(srcIdx, otherIdx int, destRoot string, dryRun bool) error {
	if _, err := os.Lstat(destRoot); err == nil {
		return &PolicyError{Op: "extract", Path: destRoot, Msg: "destination already exists"}
	}
	if !dryRun {
		if err := os.MkdirAll(destRoot, 0755); err != nil {
			return fmt.Errorf("failed to create destination %s: %w", destRoot, err)
		}
	}

	srcRoot := db.roots[srcIdx].Path
	var firstErr error
	db.getContentMap().forEach(func(key ContentKey, refs []fileRef) bool {
		counts := rootPresence(refs, len(db.roots))
		if counts[srcIdx] == 0 || counts[otherIdx] > 0 {
			return true
		}
		for _, ref := range refs {
			if ref.Root != srcIdx {
				continue
			}
			rel, err := filepath.Rel(srcRoot, ref.Path)
			if err != nil {
				firstErr = fmt.Errorf("failed to compute relative path for %s: %w", ref.Path, err)
				return false
			}
			destPath := filepath.Join(destRoot, rel)
			if dryRun {
				fmt.Fprintf(db.opts.Stdout, "Would copy %s to %s\n", ref.Path, destPath)
				continue
			}
			if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
				firstErr = fmt.Errorf("failed to create directory for %s: %w", destPath, err)
				return false
			}
			if err := copyFileNoOverwrite(ref.Path, destPath); err != nil {
				firstErr = err
				return false
			}
			if db.opts.Verbose > 0 {
				fmt.Fprintf(db.opts.Stdout, "Copied %s to %s\n", ref.Path, destPath)
			}
		}
		return true
	})
	return firstErr
}

// RemoveCopiesResult reports what RemoveCopies deleted (or would delete).
type RemoveCopiesResult struct {
	RemovedFiles uint64
	RemovedBytes uint64
}

// RemoveCopies deletes, for every content key, all files in roots later
// than the first root (in command-line order) that contains the key.
// Directories whose contents changed and which carry a sidecar are
// re-indexed in update mode afterwards. With dryRun the plan is printed
// and nothing is modified.
func (db *MainDb) RemoveCopies(dryRun bool) (RemoveCopiesResult, error) {
	var result RemoveCopiesResult
	touchedDirs := make(map[string]struct{})
	var firstErr error
	db.getContentMap().forEach(func(key ContentKey, refs []fileRef) bool {
		firstRoot := -1
		for _, ref := range refs {
			if firstRoot < 0 || ref.Root < firstRoot {
				firstRoot = ref.Root
			}
		}
		// With overlapping roots the same path can surface under several
		// roots; never remove a path that also belongs to the first root,
		// and remove each path at most once.
		keep := make(map[string]struct{})
		for _, ref := range refs {
			if ref.Root == firstRoot {
				keep[ref.Path] = struct{}{}
			}
		}
		removed := make(map[string]struct{})
		for _, ref := range refs {
			if ref.Root == firstRoot {
				continue
			}
			if _, ok := keep[ref.Path]; ok {
				continue
			}
			if _, ok := removed[ref.Path]; ok {
				continue
			}
			removed[ref.Path] = struct{}{}
			if dryRun {
				fmt.Fprintf(db.opts.Stdout, "Would remove %s\n", ref.Path)
			} else {
				if err := os.Remove(ref.Path); err != nil {
					firstErr = fmt.Errorf("failed to remove %s: %w", ref.Path, err)
					return false
				}
				if db.opts.Verbose > 0 {
					fmt.Fprintf(db.opts.Stdout, "Removed %s\n", ref.Path)
				}
				touchedDirs[filepath.Dir(ref.Path)] = struct{}{}
			}
			result.RemovedFiles++
			result.RemovedBytes += key.Size
		}
		return true
	})
	if firstErr != nil {
		return result, firstErr
	}
	if !dryRun {
		if err := reindexDirs(touchedDirs, db.opts); err != nil {
			return result, err
		}
	}
	return result, nil
}

// HardlinkCopiesResult reports what HardlinkCopies changed (or would
// change).
type HardlinkCopiesResult struct {
	CreatedLinks uint64
	RemovedBytes uint64
}

// liveLinkCount reads the current hardlink count of a file.
func liveLinkCount(path string) (uint64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no stat data for %s", path)
	}
	return uint64(st.Nlink), nil
}

// HardlinkCopies replaces duplicate files of at least minSize bytes with
// hardlinks to the oldest copy (smallest date, ties broken by path).
// Groups whose target already carries maxHardlinks or more links are
// skipped; files already sharing the target's inode are skipped silently.
// Touched directories are re-indexed afterwards.
func (db *MainDb) HardlinkCopies(minSize, maxHardlinks uint64, dryRun bool) (HardlinkCopiesResult, error) {
	var result HardlinkCopiesResult
	touchedDirs := make(map[string]struct{})
	var firstErr error
	db.getContentMap().forEach(func(key ContentKey, refs []fileRef) bool {
		// Overlapping roots surface the same path more than once.
		seen := make(map[string]struct{}, len(refs))
		group := make([]fileRef, 0, len(refs))
		for _, ref := range refs {
			if _, ok := seen[ref.Path]; ok {
				continue
			}
			seen[ref.Path] = struct{}{}
			group = append(group, ref)
		}
		if len(group) < 2 || key.Size < minSize {
			return true
		}

		target := group[0]
		for _, ref := range group[1:] {
			if ref.Date < target.Date || (ref.Date == target.Date && ref.Path < target.Path) {
				target = ref
			}
		}

		linkCount := target.NumLinks
		if !dryRun {
			var err error
			linkCount, err = liveLinkCount(target.Path)
			if err != nil {
				firstErr = err
				return false
			}
		}
		if linkCount >= maxHardlinks {
			if db.opts.Verbose > 0 {
				fmt.Fprintf(db.opts.Stderr, "Skipping %s: %d hardlinks reach the limit of %d\n",
					target.Path, linkCount, maxHardlinks)
			}
			return true
		}

		for _, ref := range group {
			if ref.Path == target.Path || ref.Inode == target.Inode {
				continue
			}
			if dryRun {
				fmt.Fprintf(db.opts.Stdout, "Would replace %s with hardlink to %s\n", ref.Path, target.Path)
			} else {
				if err := replaceWithHardlink(target.Path, ref.Path); err != nil {
					firstErr = err
					return false
				}
				if db.opts.Verbose > 0 {
					fmt.Fprintf(db.opts.Stdout, "Replaced %s with hardlink to %s\n", ref.Path, target.Path)
				}
				touchedDirs[filepath.Dir(ref.Path)] = struct{}{}
			}
			result.CreatedLinks++
			result.RemovedBytes += key.Size
		}
		return true
	})
	if firstErr != nil {
		return result, firstErr
	}
	if !dryRun {
		if err := reindexDirs(touchedDirs, db.opts); err != nil {
			return result, err
		}
	}
	return result, nil
}

// freeTempLinkPath finds an unused temporary path next to target:
// target + ".treeop_link_tmp", then the same with 1..99 appended.
func freeTempLinkPath(target string) (string, error) {
	base := target + hardlinkTempSuffix
	for i := 0; i < 100; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", &PolicyError{Op: "hardlink", Path: target, Msg: "no free temporary name"}
}

// replaceWithHardlink atomically replaces target with a hardlink to
// source: link source to a temporary name next to target, then rename it
// over target. If the rename fails (filesystems without
// rename-over-existing for hardlinks), target is removed and the rename
// retried once. The temporary link is removed on every failure path, so
// the old data is never lost before the new link exists.
func replaceWithHardlink(source, target string) error {
	tmpPath, err := freeTempLinkPath(target)
	if err != nil {
		return err
	}
	if err := os.Link(source, tmpPath); err != nil {
		return fmt.Errorf("failed to create hardlink %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		if removeErr := os.Remove(target); removeErr != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to replace %s: %w", target, err)
		}
		if err := os.Rename(tmpPath, target); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to replace %s after removing it: %w", target, err)
		}
	}
	return nil
}
