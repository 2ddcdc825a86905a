package ext4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/nalbion/ext4ro/ext4/crc"
)

// putXattrEntry writes one xattrEntry header plus its inline, padded name
// at b[off:] and returns the offset of the next entry.
func putXattrEntry(b []byte, off int, nameIndex uint8, name string, valueOffset uint16, valueSize uint32, hash uint32) int {
	b[off] = byte(len(name))
	b[off+1] = nameIndex
	binary.LittleEndian.PutUint16(b[off+2:], valueOffset)
	binary.LittleEndian.PutUint32(b[off+4:], 0) // value_block
	binary.LittleEndian.PutUint32(b[off+8:], valueSize)
	binary.LittleEndian.PutUint32(b[off+12:], hash)
	copy(b[off+16:], name)
	return off + 16 + roundUp4(len(name))
}

func TestParseXattrEntriesBasic(t *testing.T) {
	b := make([]byte, 80)
	off := putXattrEntry(b, 0, 1, "abcd", 64, 8, 0)
	off = putXattrEntry(b, off, 0, "mime_type", 72, 8, 0)
	if off > 64 {
		t.Fatalf("entry array spilled into the value area: ended at %d", off)
	}
	copy(b[64:72], []byte("value0!!"))
	copy(b[72:80], []byte("value1!!"))

	out, err := parseXattrEntries(b, 0)
	if err != nil {
		t.Fatalf("parseXattrEntries: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d attrs, want 2: %+v", len(out), out)
	}
	if out[0].Name != "user.abcd" || !bytes.Equal(out[0].Value, []byte("value0!!")) {
		t.Fatalf("attr 0 = %+v", out[0])
	}
	if out[1].Name != "mime_type" || !bytes.Equal(out[1].Value, []byte("value1!!")) {
		t.Fatalf("attr 1 = %+v", out[1])
	}
}

func TestParseXattrEntriesEmptyList(t *testing.T) {
	b := make([]byte, 16) // a single all-zero terminator entry
	out, err := parseXattrEntries(b, 0)
	if err != nil {
		t.Fatalf("parseXattrEntries: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %+v, want no attrs", out)
	}
}

func TestParseXattrEntriesRejectsOutOfLineValueBlock(t *testing.T) {
	b := make([]byte, 32)
	putXattrEntry(b, 0, 1, "x", 0, 4, 0)
	binary.LittleEndian.PutUint32(b[4:], 7) // value_block != 0
	_, err := parseXattrEntries(b, 0)
	if _, ok := err.(*UnsupportedFeatureError); !ok {
		t.Fatalf("expected *UnsupportedFeatureError, got %v", err)
	}
}

func TestParseXattrEntriesRejectsValueOutsideBuffer(t *testing.T) {
	b := make([]byte, 32)
	putXattrEntry(b, 0, 1, "x", 1000, 4, 0) // value_offset way past the buffer
	_, err := parseXattrEntries(b, 0)
	if _, ok := err.(*CorruptStructureError); !ok {
		t.Fatalf("expected *CorruptStructureError, got %v", err)
	}
}

func TestParseInodeXattrsRoundTrip(t *testing.T) {
	extra := make([]byte, 4+80)
	binary.LittleEndian.PutUint32(extra[0:], xattrBlockMagic)

	entries := extra[4:]
	off := putXattrEntry(entries, 0, 4, "comment", 64, 8, 0) // trusted.comment
	_ = off
	copy(entries[64:72], []byte("hi there"))

	out, err := parseInodeXattrs(extra)
	if err != nil {
		t.Fatalf("parseInodeXattrs: %v", err)
	}
	if len(out) != 1 || out[0].Name != "trusted.comment" || !bytes.Equal(out[0].Value, []byte("hi there")) {
		t.Fatalf("got %+v", out)
	}
}

func TestParseInodeXattrsNoMagicIsEmpty(t *testing.T) {
	extra := make([]byte, 32) // all zero, no xattrBlockMagic
	out, err := parseInodeXattrs(extra)
	if err != nil {
		t.Fatalf("parseInodeXattrs: %v", err)
	}
	if out != nil {
		t.Fatalf("got %+v, want nil (no in-inode xattrs)", out)
	}
}

// buildXattrBlock assembles a full external xattr block: a 32-byte header
// followed by an entry array starting at byte 32, with two values packed
// near the end of the block and value_offset set to their absolute
// position in the block, matching on-disk semantics.
func buildXattrBlock(blockSize int, blockNumber, seed uint32) []byte {
	b := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(b[0:], xattrBlockMagic)
	binary.LittleEndian.PutUint32(b[4:], 1) // refcount

	entries := b[32:]
	off := putXattrEntry(entries, 0, 0, "mime_type", uint16(blockSize-8), 8, 0)
	off = putXattrEntry(entries, off, 6, "capability", uint16(blockSize-24), 16, 0) // security.capability
	if 32+off > blockSize-24 {
		panic("test fixture overlap between entries and values")
	}

	copy(b[blockSize-8:], []byte("text/plain"[:8]))
	copy(b[blockSize-24:], []byte("0123456789ABCDEF"))

	scratch := make([]byte, len(b))
	copy(scratch, b)
	scratch[16], scratch[17], scratch[18], scratch[19] = 0, 0, 0, 0
	nb := make([]byte, 4)
	binary.LittleEndian.PutUint32(nb, blockNumber)
	computed := crc.CRC32c(seed, nb)
	computed = crc.CRC32c(computed, scratch)
	binary.LittleEndian.PutUint32(b[16:], computed)

	return b
}

func TestParseBlockXattrsRoundTrip(t *testing.T) {
	const blockSize = 1024
	blockNumber := uint32(55)
	seed := uint32(0xABCD)
	b := buildXattrBlock(blockSize, blockNumber, seed)

	out, err := parseBlockXattrs(b, blockNumber, seed, true)
	if err != nil {
		t.Fatalf("parseBlockXattrs: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d attrs, want 2: %+v", len(out), out)
	}
	if out[0].Name != "mime_type" || !bytes.Equal(out[0].Value, []byte("text/pla")) {
		t.Fatalf("attr 0 = %+v", out[0])
	}
	if out[1].Name != "security.capability" || !bytes.Equal(out[1].Value, []byte("0123456789ABCDEF")) {
		t.Fatalf("attr 1 = %+v", out[1])
	}
}

func TestParseBlockXattrsDetectsChecksumMismatch(t *testing.T) {
	const blockSize = 1024
	blockNumber := uint32(55)
	seed := uint32(0xABCD)
	b := buildXattrBlock(blockSize, blockNumber, seed)
	b[40] ^= 0xFF // corrupt the first entry's value-size field without touching the checksum field

	_, err := parseBlockXattrs(b, blockNumber, seed, true)
	if _, ok := err.(*ChecksumMismatchError); !ok {
		t.Fatalf("expected *ChecksumMismatchError, got %v", err)
	}
}

func TestParseXattrEntriesReportsHashMismatchButStillReturnsValue(t *testing.T) {
	b := make([]byte, 48)
	putXattrEntry(b, 0, 1, "x", 36, 4, 0xDEADBEEF) // a hash that can't possibly match
	// [20,36) stays zero: the end-of-list entry
	copy(b[36:40], []byte("abcd"))

	out, err := parseXattrEntries(b, 0)
	mismatch, ok := err.(*ChecksumMismatchError)
	if !ok {
		t.Fatalf("expected *ChecksumMismatchError, got %v", err)
	}
	if mismatch.Stored != 0xDEADBEEF {
		t.Fatalf("mismatch.Stored = %#x, want %#x", mismatch.Stored, 0xDEADBEEF)
	}
	if len(out) != 1 || out[0].Name != "user.x" {
		t.Fatalf("expected the attribute to still be decoded despite the hash mismatch, got %+v", out)
	}
}

func TestParseBlockXattrsBadMagic(t *testing.T) {
	b := make([]byte, 1024)
	_, err := parseBlockXattrs(b, 1, 0, false)
	if _, ok := err.(*BadMagicError); !ok {
		t.Fatalf("expected *BadMagicError, got %v", err)
	}
}
