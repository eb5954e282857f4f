package treeop

import (
	"testing"
)

func TestHash128_Ordering(t *testing.T) {
	a := Hash128{Hi: 1, Lo: 0}
	b := Hash128{Hi: 1, Lo: 1}
	c := Hash128{Hi: 2, Lo: 0}

	if !a.Less(b) {
		t.Error("Expected (1,0) < (1,1)")
	}
	if !b.Less(c) {
		t.Error("Expected (1,1) < (2,0)")
	}
	if c.Less(a) {
		t.Error("Expected (2,0) > (1,0)")
	}
	if a.Less(a) {
		t.Error("Expected a hash not to be less than itself")
	}
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Error("Compare results inconsistent with Less")
	}
}

func TestHash128_Hex(t *testing.T) {
	// Hex renders lo first, then hi, each zero-padded to 16 digits.
	h := Hash128{Hi: 0x0123456789abcdef, Lo: 0xfedcba9876543210}
	expected := "fedcba98765432100123456789abcdef"
	if hex := h.Hex(); hex != expected {
		t.Errorf("Expected hex %s, got %s", expected, hex)
	}

	zero := Hash128{}
	if hex := zero.Hex(); hex != "00000000000000000000000000000000" {
		t.Errorf("Expected all-zero hex, got %s", hex)
	}
}

func TestHash128_BytesRoundTrip(t *testing.T) {
	h := Hash128{Hi: 0x1122334455667788, Lo: 0x99aabbccddeeff00}
	b := h.BytesLE()

	// Little-endian lo first: byte 0 is the lowest byte of lo.
	if b[0] != 0x00 || b[7] != 0x99 {
		t.Errorf("Unexpected lo serialization: % x", b[0:8])
	}
	if b[8] != 0x88 || b[15] != 0x11 {
		t.Errorf("Unexpected hi serialization: % x", b[8:16])
	}

	back, err := hash128FromDigest(b[:])
	if err != nil {
		t.Fatalf("hash128FromDigest failed: %v", err)
	}
	if back != h {
		t.Errorf("Round trip mismatch: got %+v, want %+v", back, h)
	}
}

func TestHash128FromDigest_TooShort(t *testing.T) {
	if _, err := hash128FromDigest(make([]byte, 15)); err == nil {
		t.Error("Expected error for 15-byte digest")
	}
	if _, err := hash128FromDigest(make([]byte, 16)); err != nil {
		t.Errorf("Expected 16-byte digest to be accepted, got %v", err)
	}
	// Longer digests are fine, only the first 16 bytes are used.
	if _, err := hash128FromDigest(make([]byte, 32)); err != nil {
		t.Errorf("Expected 32-byte digest to be accepted, got %v", err)
	}
}

func TestNewDigest_Algorithms(t *testing.T) {
	for _, name := range []string{"", "shake128", "sha3-224", "sha3-256", "sha3-384", "sha3-512"} {
		d, err := NewDigest(name)
		if err != nil {
			t.Errorf("Expected algorithm %q to be supported: %v", name, err)
			continue
		}
		d.Write([]byte("abc"))
		h1 := d.Sum128()
		d.Reset()
		d.Write([]byte("abc"))
		h2 := d.Sum128()
		if h1 != h2 {
			t.Errorf("%q: digest not deterministic after Reset", name)
		}
		if h1 == (Hash128{}) {
			t.Errorf("%q: digest of \"abc\" is zero", name)
		}
	}

	if _, err := NewDigest("md5"); err == nil {
		t.Error("Expected md5 to be rejected")
	}
}

func TestDigest_Streaming(t *testing.T) {
	// Hashing in one write and in several writes must agree.
	d1, _ := NewDigest(DefaultDigestName)
	d1.Write([]byte("hello world"))

	d2, _ := NewDigest(DefaultDigestName)
	d2.Write([]byte("hello "))
	d2.Write([]byte("world"))

	if d1.Sum128() != d2.Sum128() {
		t.Error("Streaming digest differs from one-shot digest")
	}
}

func TestCombineHashWithName(t *testing.T) {
	newDigest := func() Digest {
		d, _ := NewDigest(DefaultDigestName)
		return d
	}
	h := Hash128{Hi: 42, Lo: 7}

	same1 := combineHashWithName(newDigest, h, "a.txt")
	same2 := combineHashWithName(newDigest, h, "a.txt")
	if same1 != same2 {
		t.Error("Combined hash not deterministic")
	}

	other := combineHashWithName(newDigest, h, "b.txt")
	if same1 == other {
		t.Error("Different names produced the same combined hash")
	}

	otherHash := combineHashWithName(newDigest, Hash128{Hi: 42, Lo: 8}, "a.txt")
	if same1 == otherHash {
		t.Error("Different hashes produced the same combined hash")
	}

	// The combined digest with an empty name is still a re-digest, not
	// the plain hash.
	empty := combineHashWithName(newDigest, h, "")
	if empty == h {
		t.Error("Empty-name combination must not be the identity")
	}
}
