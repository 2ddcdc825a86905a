package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/nalbion/ext4ro/ext4/crc"
)

func putExtentHeader(b []byte, entries, max, depth uint16) {
	binary.LittleEndian.PutUint16(b[0:], extentHeaderMagic)
	binary.LittleEndian.PutUint16(b[2:], entries)
	binary.LittleEndian.PutUint16(b[4:], max)
	binary.LittleEndian.PutUint16(b[6:], depth)
	binary.LittleEndian.PutUint32(b[8:], 0) // generation, unused
}

func putExtentLeaf(b []byte, idx int, fileBlock uint32, length uint16, physical uint64) {
	off := 12 + idx*12
	binary.LittleEndian.PutUint32(b[off:], fileBlock)
	binary.LittleEndian.PutUint16(b[off+4:], length)
	binary.LittleEndian.PutUint16(b[off+6:], uint16(physical>>32))
	binary.LittleEndian.PutUint32(b[off+8:], uint32(physical))
}

func TestParseExtentHeaderBadMagic(t *testing.T) {
	b := make([]byte, 12)
	_, err := parseExtentHeader(b)
	if _, ok := err.(*BadMagicError); !ok {
		t.Fatalf("expected *BadMagicError, got %v", err)
	}
}

func TestResolveExtentsSingleLeafNode(t *testing.T) {
	iBlock := make([]byte, 60)
	putExtentHeader(iBlock, 2, 4, 0)
	putExtentLeaf(iBlock, 0, 0, 10, 1000)  // logical [0,10) -> physical 1000
	putExtentLeaf(iBlock, 1, 10, 5, 2000)  // logical [10,15) -> physical 2000

	br := &fakeBlockSource{blocks: map[uint64][]byte{}}
	resolved, err := resolveExtents(iBlock, br, 0, 1, 1, false)
	if err != nil {
		t.Fatalf("resolveExtents: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("got %d extents, want 2", len(resolved))
	}
	if resolved[0].fileBlock != 0 || resolved[0].startingBlock != 1000 || resolved[0].count != 10 {
		t.Fatalf("extent 0 = %+v", resolved[0])
	}
	if resolved[1].fileBlock != 10 || resolved[1].startingBlock != 2000 || resolved[1].count != 5 {
		t.Fatalf("extent 1 = %+v", resolved[1])
	}
	if len(br.reads) != 0 {
		t.Fatalf("a depth-0 tree inline in i_block should never read an external block, got %v", br.reads)
	}
}

func TestResolveExtentsUninitializedFlag(t *testing.T) {
	iBlock := make([]byte, 60)
	putExtentHeader(iBlock, 1, 4, 0)
	// length with the high bit set: allocated but reads as zero, real
	// length is ee_len - 32768.
	putExtentLeaf(iBlock, 0, 0, 32768+100, 5000)

	br := &fakeBlockSource{blocks: map[uint64][]byte{}}
	resolved, err := resolveExtents(iBlock, br, 0, 1, 1, false)
	if err != nil {
		t.Fatalf("resolveExtents: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("got %d extents, want 1", len(resolved))
	}
	if !resolved[0].uninitialized {
		t.Fatal("expected the extent to be marked uninitialized")
	}
	if resolved[0].count != 100 {
		t.Fatalf("initialized length = %d, want 100", resolved[0].count)
	}
}

func TestResolveExtentsTwoLevelTree(t *testing.T) {
	childBlockNum := uint64(42)
	child := make([]byte, 1024)
	putExtentHeader(child, 1, 4, 0)
	putExtentLeaf(child, 0, 0, 3, 7000)

	root := make([]byte, 60)
	putExtentHeader(root, 1, 4, 1) // depth 1: index node
	binary.LittleEndian.PutUint32(root[12:], 0)                       // ei_block
	binary.LittleEndian.PutUint32(root[16:], uint32(childBlockNum))    // ei_leaf_lo
	binary.LittleEndian.PutUint16(root[20:], uint16(childBlockNum>>32)) // ei_leaf_hi

	br := &fakeBlockSource{blocks: map[uint64][]byte{childBlockNum: child}}
	resolved, err := resolveExtents(root, br, 0, 1, 1, false)
	if err != nil {
		t.Fatalf("resolveExtents: %v", err)
	}
	if len(resolved) != 1 || resolved[0].startingBlock != 7000 {
		t.Fatalf("got %+v, want a single extent at physical block 7000", resolved)
	}
	if len(br.reads) != 1 || br.reads[0] != childBlockNum {
		t.Fatalf("expected exactly one read of the child block, got %v", br.reads)
	}
}

func TestVerifyExtentTailChecksum(t *testing.T) {
	b := make([]byte, 1024)
	putExtentHeader(b, 1, 4, 0)
	putExtentLeaf(b, 0, 0, 3, 77)
	hdr, err := parseExtentHeader(b)
	if err != nil {
		t.Fatalf("parseExtentHeader: %v", err)
	}
	tailOff := 12 + int(hdr.max)*12

	seed := uint32(0xABCD)
	inodeNr := uint32(9)
	gen := uint32(3)

	nb := make([]byte, 4)
	binary.LittleEndian.PutUint32(nb, inodeNr)
	gb := make([]byte, 4)
	binary.LittleEndian.PutUint32(gb, gen)
	computed := crc.CRC32c(seed, nb)
	computed = crc.CRC32c(computed, gb)
	computed = crc.CRC32c(computed, b[:tailOff])
	binary.LittleEndian.PutUint32(b[tailOff:], computed)

	if err := verifyExtentTailChecksum(b, hdr, seed, inodeNr, gen); err != nil {
		t.Fatalf("verifyExtentTailChecksum: %v", err)
	}

	// corrupt the tail and confirm the mismatch is detected
	binary.LittleEndian.PutUint32(b[tailOff:], computed+1)
	if err := verifyExtentTailChecksum(b, hdr, seed, inodeNr, gen); err == nil {
		t.Fatal("expected a checksum mismatch after corrupting the tail")
	}
}
