package ext4

import "fmt"

// HTree directory indexing (§3 Directory, §4.9). A hashed directory's
// logical block 0 carries the usual "." and ".." entries followed by a
// dx_root_info header and a sorted (hash, block) entry array; deeper
// trees insert one or more levels of plain index nodes between the root
// and the leaf blocks that hold ordinary linear dirents.
//
// Enumeration never needs to evaluate a name's hash (§9 open question):
// it simply visits every child pointer in array order at each level,
// which already walks every leaf exactly once.

type dxRootInfo struct {
	hashVersion     HashVersion
	infoLength      uint8
	indirectLevels  uint8
	unusedFlags     uint8
}

type dxEntry struct {
	hash  uint32
	block uint32
}

// parseHTreeRoot decodes logical block 0 of a hashed directory: the dot
// and dotdot entries (needed so callers can still synthesize them when
// enumerating), the dx_root_info header, and the root's own child entry
// array.
func parseHTreeRoot(b []byte, blocksize uint32) (dotEntry, dotDotEntry *directoryEntry, info dxRootInfo, entries []dxEntry, err error) {
	if uint32(len(b)) != blocksize {
		return nil, nil, dxRootInfo{}, nil, &CorruptStructureError{Kind: "htree root", Offset: 0, Detail: "block size mismatch"}
	}

	// "." is a normal fixed dirent at offset 0.
	dotRecLen := u16(b, 0x4)
	if dotRecLen < minDirEntryLength {
		return nil, nil, dxRootInfo{}, nil, &CorruptStructureError{Kind: "htree root", Offset: 0, Detail: "malformed dot entry"}
	}
	dotEntry = &directoryEntry{
		inode:    u32(b, 0x0),
		filename: ".",
		fileType: directoryFileType(u8(b, 0x7)),
	}

	dotDotOff := int(dotRecLen)
	if dotDotOff+8 > len(b) {
		return nil, nil, dxRootInfo{}, nil, &CorruptStructureError{Kind: "htree root", Offset: int64(dotDotOff), Detail: "dotdot entry runs past block"}
	}
	dotDotEntry = &directoryEntry{
		inode:    u32(b, dotDotOff+0),
		filename: "..",
		fileType: directoryFileType(u8(b, dotDotOff+7)),
	}

	// dx_root_info starts right after the fixed 12-byte ".." record;
	// dotdot's rec_len is inflated to cover the rest of the block, so it
	// does not locate the info.
	infoOff := dotDotOff + 12
	if infoOff+8 > len(b) {
		return nil, nil, dxRootInfo{}, nil, &CorruptStructureError{Kind: "htree root", Offset: int64(infoOff), Detail: "dx_root_info runs past block"}
	}
	info = dxRootInfo{
		hashVersion:    HashVersion(u8(b, infoOff+4)),
		infoLength:     u8(b, infoOff+5),
		indirectLevels: u8(b, infoOff+6),
		unusedFlags:    u8(b, infoOff+7),
	}

	entryArrayOff := infoOff + int(info.infoLength)
	entries, err = parseDxEntries(b, entryArrayOff)
	if err != nil {
		return nil, nil, dxRootInfo{}, nil, err
	}
	return dotEntry, dotDotEntry, info, entries, nil
}

// parseHTreeIndexNode decodes a non-root interior index block: an
// 8-byte fake dirent (struct dx_node's "fake" field, keeping the block
// looking like a directory block to anything that doesn't understand
// HTree) followed by the dx_countlimit overlay and the real entries.
func parseHTreeIndexNode(b []byte) ([]dxEntry, error) {
	return parseDxEntries(b, 8)
}

// parseDxEntries decodes a dx_countlimit{limit,count} pair at off
// followed by count-1 further (hash,block) pairs (the first logical
// slot's hash word is the countlimit itself; its block word is the
// leftmost child).
func parseDxEntries(b []byte, off int) ([]dxEntry, error) {
	if off+8 > len(b) {
		return nil, &CorruptStructureError{Kind: "htree index", Offset: int64(off), Detail: "countlimit runs past block"}
	}
	count := u16(b, off+2)
	if count == 0 {
		return nil, nil
	}

	out := make([]dxEntry, 0, count)
	// slot 0 is the countlimit overlay: its "hash" word holds limit and
	// count as two le16 halves, and its "block" word is the leftmost
	// child (hash-less). Real (hash, block) entries start at slot 1.
	firstBlockOff := off + 4
	if firstBlockOff+4 > len(b) {
		return nil, &CorruptStructureError{Kind: "htree index", Offset: int64(firstBlockOff), Detail: "first child runs past block"}
	}
	out = append(out, dxEntry{hash: 0, block: u32(b, firstBlockOff)})

	for i := uint16(1); i < count; i++ {
		entryOff := off + 8 + int(i-1)*8
		if entryOff+8 > len(b) {
			return nil, &CorruptStructureError{Kind: "htree index", Offset: int64(entryOff), Detail: "entry runs past block"}
		}
		out = append(out, dxEntry{hash: u32(b, entryOff), block: u32(b, entryOff+4)})
	}
	return out, nil
}

// logicalBlockReader fetches the bytes of a directory's Nth logical
// block (already resolved through the extent tree or indirect map).
type logicalBlockReader interface {
	readLogicalBlock(n uint32) ([]byte, error)
}

// walkHTree enumerates every directory entry in a hashed directory by
// visiting every leaf exactly once, in child-array order rather than by
// evaluating any name's hash.
func walkHTree(rootBlock []byte, blocksize uint32, lbr logicalBlockReader, metadataChecksums bool, dirInodeNumber, nfsFileVersion, checksumSeed uint32) ([]*directoryEntry, error) {
	dot, dotdot, info, rootEntries, err := parseHTreeRoot(rootBlock, blocksize)
	if err != nil {
		return nil, err
	}

	out := []*directoryEntry{dot, dotdot}

	for _, e := range rootEntries {
		leafEntries, err := walkHTreeLevel(e.block, int(info.indirectLevels), lbr, blocksize, metadataChecksums, dirInodeNumber, nfsFileVersion, checksumSeed)
		if err != nil {
			return nil, err
		}
		out = append(out, leafEntries...)
	}
	return out, nil
}

func walkHTreeLevel(block uint32, remainingIndirectLevels int, lbr logicalBlockReader, blocksize uint32, metadataChecksums bool, dirInodeNumber, nfsFileVersion, checksumSeed uint32) ([]*directoryEntry, error) {
	b, err := lbr.readLogicalBlock(block)
	if err != nil {
		return nil, err
	}

	if remainingIndirectLevels == 0 {
		return parseDirEntriesLinear(b, metadataChecksums, blocksize, dirInodeNumber, nfsFileVersion, checksumSeed)
	}

	entries, err := parseHTreeIndexNode(b)
	if err != nil {
		return nil, err
	}
	var out []*directoryEntry
	for _, e := range entries {
		children, err := walkHTreeLevel(e.block, remainingIndirectLevels-1, lbr, blocksize, metadataChecksums, dirInodeNumber, nfsFileVersion, checksumSeed)
		if err != nil {
			return nil, fmt.Errorf("htree child block %d: %w", e.block, err)
		}
		out = append(out, children...)
	}
	return out, nil
}
