package ext4

// Feature bitmaps. Grounded on the flag names the teacher's test harness
// decodes from debugfs/dumpe2fs output (common_test.go's
// testSuperblockFuncs "Filesystem features"/"Filesystem flags" cases)
// and on the recognized incompat set named explicitly in the consumer
// interface (§6).

const (
	compatDirPrealloc    uint32 = 0x1
	compatImagicInodes   uint32 = 0x2
	compatHasJournal     uint32 = 0x4
	compatExtAttr        uint32 = 0x8
	compatResizeInode    uint32 = 0x10
	compatDirIndex       uint32 = 0x20
	compatSparseSuper2   uint32 = 0x200
	compatOrphanPresent  uint32 = 0x1000 // orphan_file, ext4.go style naming
)

const (
	incompatCompression    uint32 = 0x1
	incompatFiletype       uint32 = 0x2
	incompatRecover        uint32 = 0x4
	incompatJournalDev     uint32 = 0x8
	incompatMetaBG         uint32 = 0x10
	incompatExtents        uint32 = 0x40
	incompat64Bit          uint32 = 0x80
	incompatMMP            uint32 = 0x100
	incompatFlexBG         uint32 = 0x200
	incompatEAInode        uint32 = 0x400
	incompatDirData        uint32 = 0x1000
	incompatCsumSeed       uint32 = 0x2000
	incompatLargeDir       uint32 = 0x4000
	incompatInlineData     uint32 = 0x8000
	incompatEncrypt        uint32 = 0x10000
	incompatCasefold       uint32 = 0x20000
)

// defaultRecognizedIncompat is the set of incompat bits this decoder understands
// well enough to refuse rather than guess about anything else. Per the
// open question in the design notes, the exact set is derived from the
// declared test images rather than the full published bitmask, and is
// therefore made configurable via WithAllowedIncompat rather than
// hard-coded as gospel.
var defaultRecognizedIncompat = uint32(
	incompatFiletype | incompatRecover | incompatExtents | incompat64Bit |
		incompatMMP | incompatFlexBG | incompatEAInode | incompatDirData |
		incompatCsumSeed | incompatLargeDir | incompatInlineData | incompatEncrypt,
)

const (
	roCompatSparseSuper  uint32 = 0x1
	roCompatLargeFile    uint32 = 0x2
	roCompatHugeFile     uint32 = 0x8
	roCompatGDTCsum      uint32 = 0x10
	roCompatDirNlink     uint32 = 0x20
	roCompatExtraIsize   uint32 = 0x40
	roCompatMetadataCsum uint32 = 0x400
)

// features is the decoded, geometry-relevant subset of the three
// bitmaps. Booleans rather than raw masks so downstream decoders never
// branch on an individual bit (§9 design notes: "never branch on
// individual feature bits deep inside decoders" — they consult this
// struct, assembled once at Open time, instead).
type features struct {
	hasJournal                       bool
	extendedAttributes                bool
	directoryIndices                  bool
	orphanFile                        bool
	directoryEntriesRecordFileType     bool
	extents                           bool
	fs64Bit                           bool
	flexBlockGroups                   bool
	metadataChecksumSeedInSuperblock  bool
	sparseSuperblock                  bool
	largeFile                        bool
	hugeFile                          bool
	largeSubdirectoryCount            bool
	largeInodes                       bool
	metadataChecksums                 bool
	inlineData                       bool
	encrypt                           bool
}

func decodeFeatures(compat, incompat, roCompat uint32) features {
	return features{
		hasJournal:                      compat&compatHasJournal != 0,
		extendedAttributes:              compat&compatExtAttr != 0,
		directoryIndices:                compat&compatDirIndex != 0,
		orphanFile:                      compat&compatOrphanPresent != 0,
		directoryEntriesRecordFileType:  incompat&incompatFiletype != 0,
		extents:                         incompat&incompatExtents != 0,
		fs64Bit:                         incompat&incompat64Bit != 0,
		flexBlockGroups:                 incompat&incompatFlexBG != 0,
		metadataChecksumSeedInSuperblock: incompat&incompatCsumSeed != 0,
		inlineData:                      incompat&incompatInlineData != 0,
		encrypt:                         incompat&incompatEncrypt != 0,
		sparseSuperblock:                roCompat&roCompatSparseSuper != 0,
		largeFile:                       roCompat&roCompatLargeFile != 0,
		hugeFile:                        roCompat&roCompatHugeFile != 0,
		largeSubdirectoryCount:          roCompat&roCompatDirNlink != 0,
		largeInodes:                     roCompat&roCompatExtraIsize != 0,
		metadataChecksums:               roCompat&roCompatMetadataCsum != 0,
	}
}

// unrecognizedIncompat returns the first incompat bit set in v that is
// not present in allowed, or 0 if every set bit is recognized.
func unrecognizedIncompat(v, allowed uint32) (uint32, bool) {
	leftover := v &^ allowed
	if leftover == 0 {
		return 0, false
	}
	// report the lowest set bit for a stable, reproducible error
	return leftover & (-leftover), true
}
