// Package treeop detects, quantifies and removes redundant file content
// across very large directory trees.
//
// Each directory carries a persistent sidecar index (".dirdb") caching
// per-file metadata and a 128-bit content hash. Loaded indices are
// aggregated in memory into content-key multisets from which the package
// answers set-algebra questions across roots (unique/shared/redundant
// files and bytes) and performs the mutation operations built on them:
// copy-extract of unique files, deletion of later-root duplicates, and
// atomic replacement of duplicates with hardlinks.
//
// All operations are single-threaded and synchronous. The sidecar files
// are the only persistent state; concurrent invocations against the same
// tree are not coordinated and must be serialised by the caller.
package treeop
