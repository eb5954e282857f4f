package treeop

import (
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Hash128 is the 128-bit content identifier: the leading 16 bytes of the
// digest interpreted little endian as (lo, hi). Ordering is hi then lo.
type Hash128 struct {
	Hi uint64
	Lo uint64
}

// Less orders hashes by hi, then lo.
func (h Hash128) Less(other Hash128) bool {
	if h.Hi != other.Hi {
		return h.Hi < other.Hi
	}
	return h.Lo < other.Lo
}

// Compare returns -1, 0 or 1.
func (h Hash128) Compare(other Hash128) int {
	switch {
	case h.Less(other):
		return -1
	case other.Less(h):
		return 1
	}
	return 0
}

// Hex renders lo then hi, each as 16 zero-padded hex digits. This order
// is observable in listings and must not change.
func (h Hash128) Hex() string {
	return fmt.Sprintf("%016x%016x", h.Lo, h.Hi)
}

// BytesLE serialises the hash as eight little-endian bytes of lo followed
// by eight of hi, matching the on-disk layout.
func (h Hash128) BytesLE() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], h.Lo)
	binary.LittleEndian.PutUint64(b[8:16], h.Hi)
	return b
}

// hash128FromDigest takes the first 16 bytes of a digest as little-endian
// (lo, hi). The digest must be at least 16 bytes.
func hash128FromDigest(digest []byte) (Hash128, error) {
	if len(digest) < 16 {
		return Hash128{}, fmt.Errorf("digest too short: %d bytes, need at least 16", len(digest))
	}
	return Hash128{
		Lo: binary.LittleEndian.Uint64(digest[0:8]),
		Hi: binary.LittleEndian.Uint64(digest[8:16]),
	}, nil
}

// Digest is the streaming hash capability used for file content: update
// with Write, finalise to at least 16 bytes with Sum128, reuse with
// Reset. The concrete algorithm behind it is opaque to the rest of the
// package.
type Digest interface {
	Write(p []byte) (int, error)
	Sum128() Hash128
	Reset()
}

// shakeDigest is the default content digest: SHAKE128 squeezed to 16
// bytes.
type shakeDigest struct {
	s sha3.ShakeHash
}

func (d *shakeDigest) Write(p []byte) (int, error) {
	return d.s.Write(p)
}

func (d *shakeDigest) Sum128() Hash128 {
	var out [16]byte
	c := d.s.Clone()
	if _, err := c.Read(out[:]); err != nil {
		// ShakeHash.Read never fails after absorbing.
		panic(fmt.Sprintf("shake read: %v", err))
	}
	h, _ := hash128FromDigest(out[:])
	return h
}

func (d *shakeDigest) Reset() {
	d.s.Reset()
}

// fixedDigest adapts a fixed-output hash.Hash (SHA3-224 and up) to the
// Digest capability. All supported variants emit at least 16 bytes.
type fixedDigest struct {
	h hash.Hash
}

func (d *fixedDigest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

func (d *fixedDigest) Sum128() Hash128 {
	sum := d.h.Sum(nil)
	h, err := hash128FromDigest(sum)
	if err != nil {
		panic(err)
	}
	return h
}

func (d *fixedDigest) Reset() {
	d.h.Reset()
}

// DefaultDigestName is the content digest used when nothing is configured.
const DefaultDigestName = "shake128"

// NewDigest returns a Digest for the given algorithm name.
func NewDigest(name string) (Digest, error) {
	switch strings.ToLower(name) {
	case "", DefaultDigestName:
		return &shakeDigest{s: sha3.NewShake128()}, nil
	case "sha3-224":
		return &fixedDigest{h: sha3.New224()}, nil
	case "sha3-256":
		return &fixedDigest{h: sha3.New256()}, nil
	case "sha3-384":
		return &fixedDigest{h: sha3.New384()}, nil
	case "sha3-512":
		return &fixedDigest{h: sha3.New512()}, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s (supported: shake128, sha3-224, sha3-256, sha3-384, sha3-512)", name)
	}
}

// ValidateDigestName checks an algorithm name without constructing it.
func ValidateDigestName(name string) error {
	_, err := NewDigest(name)
	return err
}

// combineHashWithName derives the same-filename content key hash: a fresh
// digest over the 16 little-endian hash bytes followed by the leaf name
// bytes. An empty name contributes nothing, leaving a distinct (but
// stable) re-digest of the plain hash.
func combineHashWithName(newDigest func() Digest, h Hash128, name string) Hash128 {
	d := newDigest()
	b := h.BytesLE()
	d.Write(b[:])
	if name != "" {
		d.Write([]byte(name))
	}
	return d.Sum128()
}
