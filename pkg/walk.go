package treeop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LoadMode selects how the walker obtains each directory's index.
type LoadMode int

const (
	// LoadRead reads an existing sidecar and builds a fresh one only
	// when it is absent (or corrupt).
	LoadRead LoadMode = iota
	// LoadForceCreate rebuilds every sidecar from scratch.
	LoadForceCreate
	// LoadUpdate rebuilds every sidecar, reusing cached hashes whose
	// (inode,size,mtime) key still matches.
	LoadUpdate
)

func sidecarExists(dirPath string) bool {
	_, err := os.Lstat(filepath.Join(dirPath, DirDbFileName))
	return err == nil
}

// loadOrCreateDirDb applies the load-mode table for one directory.
func (ix *indexer) loadOrCreateDirDb(dirPath string, mode LoadMode) (DirDbData, error) {
	switch mode {
	case LoadUpdate:
		if sidecarExists(dirPath) {
			return ix.updateDirDb(dirPath)
		}
		return ix.buildDirDb(dirPath, nil)
	case LoadForceCreate:
		return ix.buildDirDb(dirPath, nil)
	default:
		if sidecarExists(dirPath) {
			data, err := ix.readExisting(dirPath, true)
			if err != nil {
				if _, ok := err.(*FormatError); ok {
					return ix.buildDirDb(dirPath, nil)
				}
				return DirDbData{}, err
			}
			return data, nil
		}
		return ix.buildDirDb(dirPath, nil)
	}
}

// ProcessDirTree walks root depth-first, loads or builds the index of
// every directory and adds the results to db. Permission-denied
// subdirectories are skipped with a diagnostic at verbosity >= 1; all
// other failures abort.
func ProcessDirTree(root string, db *MainDb, mode LoadMode, opts *Options) error {
	ix := newIndexer(opts)
	return ix.walkTree(root, db, mode)
}

func (ix *indexer) walkTree(dirPath string, db *MainDb, mode LoadMode) error {
	data, err := ix.loadOrCreateDirDb(dirPath, mode)
	if err != nil {
		return err
	}
	db.AddDir(data)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to iterate %s: %w", dirPath, err)
	}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		subPath := filepath.Join(dirPath, de.Name())
		if err := ix.walkTree(subPath, db, mode); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				if ix.opts.Verbose > 0 {
					fmt.Fprintf(ix.opts.Stderr, "Skipping entry due to error: %s\n", subPath)
				}
				continue
			}
			return err
		}
	}
	return nil
}

// RemoveDirDbTree recursively deletes every sidecar under root. With
// dryRun it only reports what would be removed.
func RemoveDirDbTree(root string, opts *Options, dryRun bool) error {
	opts = opts.Normalized()
	return removeDirDbWalk(root, opts, dryRun)
}

func removeDirDbWalk(dirPath string, opts *Options, dryRun bool) error {
	dbPath := filepath.Join(dirPath, DirDbFileName)
	if sidecarExists(dirPath) {
		if dryRun {
			fmt.Fprintf(opts.Stdout, "Would remove %s\n", dbPath)
		} else {
			if err := os.Remove(dbPath); err != nil {
				return fmt.Errorf("failed to remove %s: %w", dbPath, err)
			}
			if opts.Verbose > 0 {
				fmt.Fprintf(opts.Stdout, "Removed %s\n", dbPath)
			}
		}
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to iterate %s: %w", dirPath, err)
	}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		subPath := filepath.Join(dirPath, de.Name())
		if err := removeDirDbWalk(subPath, opts, dryRun); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				if opts.Verbose > 0 {
					fmt.Fprintf(opts.Stderr, "Skipping entry due to error: %s\n", subPath)
				}
				continue
			}
			return err
		}
	}
	return nil
}

// reindexDirs rebuilds the sidecars of directories whose contents were
// changed by a mutation. Only directories that still carry a sidecar are
// touched; they are updated in place, reusing hashes of unchanged files.
func reindexDirs(dirs map[string]struct{}, opts *Options) error {
	paths := make([]string, 0, len(dirs))
	for dir := range dirs {
		paths = append(paths, dir)
	}
	sort.Strings(paths)

	ix := newIndexer(opts)
	for _, dir := range paths {
		if !sidecarExists(dir) {
			continue
		}
		if _, err := ix.updateDirDb(dir); err != nil {
			return fmt.Errorf("failed to re-index %s: %w", dir, err)
		}
	}
	return nil
}
