package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/nalbion/ext4ro/ext4/crc"
)

type directoryFileType uint8

const (
	dirFileTypeUnknown         directoryFileType = 0
	dirFileTypeRegular         directoryFileType = 1
	dirFileTypeDirectory       directoryFileType = 2
	dirFileTypeCharacterDevice directoryFileType = 3
	dirFileTypeBlockDevice     directoryFileType = 4
	dirFileTypeFifo            directoryFileType = 5
	dirFileTypeSocket          directoryFileType = 6
	dirFileTypeSymlink         directoryFileType = 7
	// dirFileTypeChecksum marks the METADATA_CSUM tail pseudo-entry
	// rather than a real directory member.
	dirFileTypeChecksum directoryFileType = 0xDE
)

// minDirEntryLength is the smallest legal rec_len: 8 bytes of fixed
// header plus room for nothing in name (the parser accepts a
// zero-length name on any record).
const minDirEntryLength = 8

// directoryEntry is one decoded linear directory record (§3 Directory,
// §4.9). Tombstoned entries (inode == 0) are skipped by the parser
// rather than returned, except that callers asking for raw layout
// validation may still want rec_len; ordinary consumers only see live
// entries.
type directoryEntry struct {
	inode    uint32
	filename string
	fileType directoryFileType
}

// parseDirEntriesLinear decodes every live entry in a single
// blocksize-sized directory block b, honoring the METADATA_CSUM tail
// pseudo-entry when present: it is never yielded, and its checksum is
// compared but a mismatch is not reported to the caller. A block with
// no tail pseudo-entry is parsed as ordinary entries and is not
// reported either.
func parseDirEntriesLinear(b []byte, metadataChecksums bool, blocksize uint32, dirInodeNumber, nfsFileVersion, checksumSeed uint32) ([]*directoryEntry, error) {
	if uint32(len(b)) != blocksize {
		return nil, &CorruptStructureError{Kind: "directory block", Offset: 0, Detail: fmt.Sprintf("got %d bytes, need %d", len(b), blocksize)}
	}

	var out []*directoryEntry
	off := 0
	for off < len(b) {
		if off+minDirEntryLength > len(b) {
			return nil, &CorruptStructureError{Kind: "directory entry", Offset: int64(off), Detail: "entry header runs past block"}
		}
		inode := u32(b, off)
		recLen := u16(b, off+4)
		nameLen := u8(b, off+6)
		ft := directoryFileType(u8(b, off+7))

		if recLen < minDirEntryLength {
			return nil, &CorruptStructureError{Kind: "directory entry", Offset: int64(off), Detail: fmt.Sprintf("rec_len %d below minimum", recLen)}
		}
		if recLen%4 != 0 {
			return nil, &CorruptStructureError{Kind: "directory entry", Offset: int64(off), Detail: fmt.Sprintf("rec_len %d not 4-byte aligned", recLen)}
		}
		if off+int(recLen) > len(b) {
			return nil, &CorruptStructureError{Kind: "directory entry", Offset: int64(off), Detail: "rec_len crosses block boundary"}
		}

		if metadataChecksums && ft == dirFileTypeChecksum && inode == 0 && nameLen == 0 && off+int(recLen) == len(b) {
			if err := verifyDirBlockTailChecksum(b, off, dirInodeNumber, nfsFileVersion, checksumSeed); err != nil {
				// advisory per §7
				_ = err
			}
			break
		}

		if int(nameLen) > int(recLen)-8 {
			return nil, &CorruptStructureError{Kind: "directory entry", Offset: int64(off), Detail: fmt.Sprintf("name_len %d exceeds rec_len-8 %d", nameLen, recLen-8)}
		}

		if inode != 0 {
			name := string(b[off+8 : off+8+int(nameLen)])
			out = append(out, &directoryEntry{inode: inode, filename: name, fileType: ft})
		}

		off += int(recLen)
	}
	return out, nil
}

// verifyDirBlockTailChecksum checks the checksum carried by the
// METADATA_CSUM tail pseudo-entry at the end of a directory block: the
// fake dirent's inode/name_len/file_type fields are all zero except for
// a 4-byte checksum occupying the last 4 bytes of its "name" area.
func verifyDirBlockTailChecksum(b []byte, tailOff int, dirInodeNumber, nfsFileVersion, checksumSeed uint32) error {
	if tailOff+8+4 > len(b) {
		return nil
	}
	stored := u32(b, tailOff+8)

	nb := make([]byte, 4)
	binary.LittleEndian.PutUint32(nb, dirInodeNumber)
	c := crc.CRC32c(checksumSeed, nb)
	gb := make([]byte, 4)
	binary.LittleEndian.PutUint32(gb, nfsFileVersion)
	c = crc.CRC32c(c, gb)
	computed := crc.CRC32c(c, b[:tailOff+8])

	if computed != stored {
		return &ChecksumMismatchError{Kind: "directory tail", Computed: computed, Stored: stored}
	}
	return nil
}
