package treeop

import (
	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// ContentKey is the equivalence relation for "same content": size first,
// then hash. Under the same-filename policy the hash component is the
// combined digest over hash bytes and leaf name.
type ContentKey struct {
	Size uint64
	Hash Hash128
}

func compareContentKeys(a, b ContentKey) int {
	switch {
	case a.Size < b.Size:
		return -1
	case a.Size > b.Size:
		return 1
	}
	return a.Hash.Compare(b.Hash)
}

// fileRef is a FileEntry resolved to its full path plus the index of the
// root it was aggregated under.
type fileRef struct {
	Path     string
	Size     uint64
	Hash     Hash128
	Inode    uint64
	Date     uint64
	NumLinks uint64
	Root     int
}

// contentBucket collects all files sharing one ContentKey.
type contentBucket struct {
	key  ContentKey
	refs []fileRef
}

// contentMap is an ordered ContentKey -> bucket multiset. Iteration is
// always in (size, hash) order, which keeps listings and mutation plans
// deterministic.
type contentMap struct {
	list *zcsl.ZeroCopySkiplist[contentBucket, ContentKey, string]
}

func newContentMap() *contentMap {
	list := zcsl.MakeZeroCopySkiplist[contentBucket, ContentKey, string](
		16,
		func(b *contentBucket) ContentKey { return b.key },
		func(b *contentBucket) int { return 0 }, // serialized size unused
		compareContentKeys,
	)
	return &contentMap{list: list}
}

// add appends ref to the bucket for key, creating the bucket on first
// use.
func (m *contentMap) add(key ContentKey, ref fileRef) {
	if node, _ := m.list.Find(key); node != nil {
		bucket := node.Item()
		bucket.refs = append(bucket.refs, ref)
		return
	}
	m.list.Insert(&contentBucket{key: key, refs: []fileRef{ref}}, "")
}

// get returns the refs for key, or nil.
func (m *contentMap) get(key ContentKey) []fileRef {
	if node, _ := m.list.Find(key); node != nil {
		return node.Item().refs
	}
	return nil
}

// forEach visits all buckets in key order until the callback returns
// false.
func (m *contentMap) forEach(fn func(key ContentKey, refs []fileRef) bool) {
	for node := m.list.First(); node != nil; node = node.Next() {
		bucket := node.Item()
		if !fn(bucket.key, bucket.refs) {
			return
		}
	}
}

func (m *contentMap) len() int {
	return m.list.Length()
}
