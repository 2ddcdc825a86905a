package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/nalbion/ext4ro/ext4/crc"
)

const (
	gdFlagInodesUninitialized     uint16 = 0x1
	gdFlagBlockBitmapUninitialized uint16 = 0x2
	gdFlagInodeTableZeroed         uint16 = 0x4
)

type groupDescriptorFlags struct {
	inodesUninitialized      bool
	blockBitmapUninitialized bool
	inodeTableZeroed         bool
}

// groupDescriptor is one block group's worth of bitmap/inode-table
// pointers and free-space accounting. Located starting at the block
// following the superblock's own block; decoded width depends on
// whether the filesystem is 64BIT (§3).
type groupDescriptor struct {
	number uint16
	size   uint16 // 32 or 64, the on-disk width this was decoded from

	blockBitmapLocation uint64
	inodeBitmapLocation uint64
	inodeTableLocation  uint64

	freeBlocks      uint32
	freeInodes      uint32
	usedDirectories uint32
	unusedInodes    uint32

	flags groupDescriptorFlags

	blockBitmapChecksum uint32
	inodeBitmapChecksum uint32

	checksum uint32
}

// groupDescriptors is the full group descriptor table.
type groupDescriptors struct {
	descriptors []groupDescriptor
}

// GroupDesc is the public view of one block group's descriptor (§4.5):
// bitmap and inode-table locations, free-space accounting, and the
// UNINIT flags that let a caller skip unused ranges.
type GroupDesc struct {
	gd *groupDescriptor
}

func (g *GroupDesc) Number() uint16              { return g.gd.number }
func (g *GroupDesc) BlockBitmapLocation() uint64 { return g.gd.blockBitmapLocation }
func (g *GroupDesc) InodeBitmapLocation() uint64 { return g.gd.inodeBitmapLocation }
func (g *GroupDesc) InodeTableLocation() uint64  { return g.gd.inodeTableLocation }
func (g *GroupDesc) FreeBlocks() uint32          { return g.gd.freeBlocks }
func (g *GroupDesc) FreeInodes() uint32          { return g.gd.freeInodes }
func (g *GroupDesc) UsedDirectories() uint32     { return g.gd.usedDirectories }

// InodesUninitialized reports the INODE_UNINIT flag: the inode table
// and inode bitmap for this group have never been written and should
// be treated as entirely free.
func (g *GroupDesc) InodesUninitialized() bool { return g.gd.flags.inodesUninitialized }

// BlockBitmapUninitialized reports the BLOCK_UNINIT flag: the block
// bitmap for this group has never been written and should be treated
// as entirely free.
func (g *GroupDesc) BlockBitmapUninitialized() bool { return g.gd.flags.blockBitmapUninitialized }

func (g *GroupDesc) InodeTableZeroed() bool { return g.gd.flags.inodeTableZeroed }

func (g *groupDescriptors) group(n uint64) (*groupDescriptor, error) {
	if n >= uint64(len(g.descriptors)) {
		return nil, &OutOfRangeError{What: "group number", Value: int64(n)}
	}
	return &g.descriptors[n], nil
}

// groupDescriptorFromBytes decodes a single descriptor and verifies its
// checksum per §4.3, using whichever algorithm checksumType selects.
func groupDescriptorFromBytes(b []byte, descSize uint16, groupNumber uint32, csumType gdtChecksumType, checksumSeed uint32) (*groupDescriptor, error) {
	wide := descSize >= wideGroupDescSize
	if len(b) < int(descSize) {
		return nil, &CorruptStructureError{Kind: "group descriptor", Offset: int64(groupNumber) * int64(descSize), Detail: fmt.Sprintf("got %d bytes, need %d", len(b), descSize)}
	}

	blockBitmapLo := u32(b, 0x0)
	inodeBitmapLo := u32(b, 0x4)
	inodeTableLo := u32(b, 0x8)
	freeBlocksLo := u16(b, 0xc)
	freeInodesLo := u16(b, 0xe)
	usedDirsLo := u16(b, 0x10)
	flagsRaw := u16(b, 0x12)
	blockBitmapCsumLo := u16(b, 0x18)
	inodeBitmapCsumLo := u16(b, 0x1a)
	unusedInodesLo := u16(b, 0x1c)
	storedChecksum := u16(b, 0x1e)

	var (
		blockBitmapHi, inodeBitmapHi, inodeTableHi           uint32
		freeBlocksHi, freeInodesHi, usedDirsHi, unusedHi     uint16
		blockBitmapCsumHi, inodeBitmapCsumHi                 uint16
	)
	if wide {
		blockBitmapHi = u32(b, 0x20)
		inodeBitmapHi = u32(b, 0x24)
		inodeTableHi = u32(b, 0x28)
		freeBlocksHi = u16(b, 0x2c)
		freeInodesHi = u16(b, 0x2e)
		usedDirsHi = u16(b, 0x30)
		unusedHi = u16(b, 0x32)
		blockBitmapCsumHi = u16(b, 0x38)
		inodeBitmapCsumHi = u16(b, 0x3a)
	}

	gd := &groupDescriptor{
		number: uint16(groupNumber),
		size:   descSize,
		flags: groupDescriptorFlags{
			inodesUninitialized:      flagsRaw&gdFlagInodesUninitialized != 0,
			blockBitmapUninitialized: flagsRaw&gdFlagBlockBitmapUninitialized != 0,
			inodeTableZeroed:         flagsRaw&gdFlagInodeTableZeroed != 0,
		},
		blockBitmapLocation: combineLoHi32(blockBitmapLo, uint16(blockBitmapHi), wide),
		inodeBitmapLocation: combineLoHi32(inodeBitmapLo, uint16(inodeBitmapHi), wide),
		inodeTableLocation:  combineLoHi32(inodeTableLo, uint16(inodeTableHi), wide),
		freeBlocks:          combineLoHi16(freeBlocksLo, freeBlocksHi, wide),
		freeInodes:          combineLoHi16(freeInodesLo, freeInodesHi, wide),
		usedDirectories:     combineLoHi16(usedDirsLo, usedDirsHi, wide),
		unusedInodes:        combineLoHi16(unusedInodesLo, unusedHi, wide),
		blockBitmapChecksum: combineLoHi16(blockBitmapCsumLo, blockBitmapCsumHi, wide),
		inodeBitmapChecksum: combineLoHi16(inodeBitmapCsumLo, inodeBitmapCsumHi, wide),
		checksum:            uint32(storedChecksum),
	}

	if csumType == gdtChecksumNone {
		return gd, nil
	}

	scratch := make([]byte, descSize)
	copy(scratch, b[:descSize])
	scratch[0x1e] = 0
	scratch[0x1f] = 0

	groupNrBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupNrBytes, groupNumber)

	// The caller is expected to have already picked the right seed for
	// csumType: the crc32c seed (§4.3) for METADATA_CSUM filesystems, or
	// crc16(0xFFFF, s_uuid) for the legacy path — groupDescriptorsFromBytes
	// below does this once for the whole table rather than re-deriving it
	// per descriptor.
	var computed uint32
	switch csumType {
	case gdtChecksumCRC32c:
		c := crc.CRC32c(checksumSeed, groupNrBytes)
		c = crc.CRC32c(c, scratch)
		computed = c & 0xffff
	case gdtChecksumCRC16:
		seed16 := uint16(checksumSeed)
		c := crc.CRC16(seed16, groupNrBytes)
		c = crc.CRC16(c, scratch)
		computed = uint32(c)
	}

	if computed != gd.checksum {
		return gd, &ChecksumMismatchError{Kind: "group descriptor", Computed: computed, Stored: gd.checksum}
	}
	return gd, nil
}

// groupDescriptorsFromBytes decodes the full table.
func groupDescriptorsFromBytes(b []byte, descSize uint16, checksumSeed uint32, csumType gdtChecksumType) (*groupDescriptors, error) {
	if descSize == 0 {
		return nil, &CorruptStructureError{Kind: "group descriptor table", Offset: 0, Detail: "descriptor size is zero"}
	}
	count := len(b) / int(descSize)
	descs := make([]groupDescriptor, 0, count)
	for i := 0; i < count; i++ {
		start := i * int(descSize)
		gd, err := groupDescriptorFromBytes(b[start:start+int(descSize)], descSize, uint32(i), csumType, checksumSeed)
		if err != nil {
			if _, ok := err.(*ChecksumMismatchError); !ok {
				return nil, fmt.Errorf("group descriptor %d: %w", i, err)
			}
		}
		descs = append(descs, *gd)
	}
	return &groupDescriptors{descriptors: descs}, nil
}
