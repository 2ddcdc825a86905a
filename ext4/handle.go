package ext4

import (
	"fmt"
	"io"

	"github.com/nalbion/ext4ro/ext4/crc"
	"github.com/nalbion/ext4ro/util/bitmap"
)

// Well-known inode numbers (§3).
const (
	rootInodeNumber = 2
)

// Handle is an opened, read-only view of one ext2/3/4 filesystem image.
// It is safe for concurrent use: every method only ever issues
// independent ReadAt calls against the underlying Reader and never
// mutates shared state after Open returns (§5).
type Handle struct {
	r   Reader
	sb  *superblock
	gdt *groupDescriptors
	cfg *openConfig
}

// Open decodes a filesystem image's superblock and group descriptor
// table and returns a Handle ready to resolve inodes. A superblock
// checksum mismatch is advisory by default (see WithFatalChecksums):
// Open still succeeds and logs the mismatch through the configured
// logger. Group descriptor checksum mismatches are neither logged nor
// returned.
func Open(r Reader, opts ...Option) (*Handle, error) {
	cfg := newOpenConfig()
	for _, o := range opts {
		o(cfg)
	}

	sbBytes := make([]byte, superblockSize)
	if err := readFull(r, sbBytes, superblockOffset); err != nil {
		return nil, err
	}

	sb, err := superblockFromBytes(sbBytes, cfg.allowedIncompat)
	if err != nil {
		if _, ok := err.(*ChecksumMismatchError); ok {
			if cfg.checksumsFatal {
				return nil, err
			}
			cfg.logger.WithError(err).Warn("superblock checksum mismatch")
		} else {
			return nil, err
		}
	}

	gdtBlock := uint64(1)
	if sb.blockSize == 1024 {
		gdtBlock = 2
	}
	bgCount := sb.blockGroupCount()
	gdtSize := bgCount * uint64(sb.groupDescriptorSize)

	gdtBytes := make([]byte, gdtSize)
	if err := readFull(r, gdtBytes, int64(gdtBlock)*int64(sb.blockSize)); err != nil {
		return nil, err
	}

	seed := gdtChecksumSeed(sb)
	gdt, err := groupDescriptorsFromBytes(gdtBytes, sb.groupDescriptorSize, seed, sb.gdtChecksumType())
	if err != nil {
		return nil, err
	}

	return &Handle{r: r, sb: sb, gdt: gdt, cfg: cfg}, nil
}

// OpenAt decodes a filesystem image that begins at byte offset start
// within r and occupies size bytes (0 meaning "to the end of r"),
// rather than occupying all of r from byte 0. This is the entry point
// for a consumer handing the decoder a slice of a larger disk image
// (e.g. one partition of an MBR/GPT-partitioned device) found by an
// external collaborator (§1): every offset the decoder computes from
// here on is relative to start, never leaking the enclosing device's
// absolute offsets into the core.
func OpenAt(r Reader, start, size int64, opts ...Option) (*Handle, error) {
	return Open(newSectionReader(r, start, size), opts...)
}

// gdtChecksumSeed picks the seed appropriate to sb's group-descriptor
// checksum algorithm (§4.3): the usual METADATA_CSUM seed for crc32c,
// or crc16(0xFFFF, s_uuid) for the legacy GDT_CSUM path.
func gdtChecksumSeed(sb *superblock) uint32 {
	switch sb.gdtChecksumType() {
	case gdtChecksumCRC32c:
		return sb.checksumSeedFor()
	case gdtChecksumCRC16:
		var uuidBytes []byte
		if sb.uuid != nil {
			ub := *sb.uuid
			uuidBytes = ub[:]
		}
		return uint32(crc.CRC16(0xFFFF, uuidBytes))
	default:
		return 0
	}
}

// Superblock exposes the decoded filesystem-wide metadata.
func (h *Handle) Superblock() *Superblock { return &Superblock{sb: h.sb} }

// Close releases nothing the Handle itself owns; it exists so callers
// consistently pair Open with Close regardless of what kind of Reader
// backs it (a plain byte slice needs no cleanup, an *os.File-backed one
// is the caller's to close since the caller provided it).
func (h *Handle) Close() error { return nil }

// Group returns the group descriptor for block group n (§4.5).
func (h *Handle) Group(n uint64) (*GroupDesc, error) {
	gd, err := h.gdt.group(n)
	if err != nil {
		return nil, err
	}
	return &GroupDesc{gd: gd}, nil
}

// BlockBitmap decodes the block-allocation bitmap for group n. A group
// with BLOCK_UNINIT set carries no bitmap block on disk at all; its
// bitmap is synthesized as entirely free rather than read (§4.5).
func (h *Handle) BlockBitmap(n uint64) (*bitmap.Bitmap, error) {
	gd, err := h.gdt.group(n)
	if err != nil {
		return nil, err
	}
	nBits := int(h.sb.blocksInGroup(n))
	if gd.flags.blockBitmapUninitialized {
		return bitmap.NewBits(nBits), nil
	}
	buf := make([]byte, h.sb.blockSize)
	off := int64(gd.blockBitmapLocation) * int64(h.sb.blockSize)
	if err := readFull(h.r, buf, off); err != nil {
		return nil, err
	}
	return bitmap.FromBytes(buf[:bytesForBits(nBits)]), nil
}

// InodeBitmap decodes the inode-allocation bitmap for group n. A group
// with INODE_UNINIT set carries no bitmap block on disk; its bitmap is
// synthesized as entirely free rather than read (§4.5).
func (h *Handle) InodeBitmap(n uint64) (*bitmap.Bitmap, error) {
	gd, err := h.gdt.group(n)
	if err != nil {
		return nil, err
	}
	nBits := int(h.sb.inodesPerGroup)
	if gd.flags.inodesUninitialized {
		return bitmap.NewBits(nBits), nil
	}
	buf := make([]byte, h.sb.blockSize)
	off := int64(gd.inodeBitmapLocation) * int64(h.sb.blockSize)
	if err := readFull(h.r, buf, off); err != nil {
		return nil, err
	}
	return bitmap.FromBytes(buf[:bytesForBits(nBits)]), nil
}

func bytesForBits(n int) int { return (n + 7) / 8 }

// Root returns the filesystem root directory inode.
func (h *Handle) Root() (*Inode, error) { return h.Inode(rootInodeNumber) }

// Inode decodes and returns the inode numbered n.
func (h *Handle) Inode(n uint32) (*Inode, error) {
	if n == 0 {
		return nil, &OutOfRangeError{What: "inode number", Value: 0}
	}
	if n > h.sb.inodeCount {
		return nil, &OutOfRangeError{What: "inode number", Value: int64(n)}
	}
	group := uint64(n-1) / uint64(h.sb.inodesPerGroup)
	index := uint64(n-1) % uint64(h.sb.inodesPerGroup)

	gd, err := h.gdt.group(group)
	if err != nil {
		return nil, err
	}

	off := int64(gd.inodeTableLocation)*int64(h.sb.blockSize) + int64(index)*int64(h.sb.inodeSize)
	buf := make([]byte, h.sb.inodeSize)
	if err := readFull(h.r, buf, off); err != nil {
		return nil, err
	}

	in, err := inodeFromBytes(buf, h.sb, n)
	if err != nil {
		if _, ok := err.(*ChecksumMismatchError); ok {
			if h.cfg.checksumsFatal {
				return nil, err
			}
			h.cfg.logger.WithError(err).WithField("inode", n).Warn("inode checksum mismatch")
		} else {
			return nil, err
		}
	}

	return &Inode{h: h, raw: in}, nil
}

// Inode is a decoded inode bound to the Handle it came from, letting
// its methods resolve file content, directory entries, and extended
// attributes without the caller threading the Handle through every
// call.
type Inode struct {
	h   *Handle
	raw *inode
}

func (i *Inode) Number() uint32   { return i.raw.number }
func (i *Inode) Size() uint64     { return i.raw.size }
func (i *Inode) Mode() uint16     { return i.raw.mode }
func (i *Inode) Links() uint16    { return i.raw.hardLinks }
func (i *Inode) IsDir() bool      { return i.raw.isDir() }
func (i *Inode) IsRegular() bool  { return i.raw.isRegular() }
func (i *Inode) IsSymlink() bool  { return i.raw.isSymlink() }

// ReadAt reads file content in the range [0, Size()), returning zero
// bytes for holes and uninitialized extents. Independent Inode values
// (or repeated calls against the same one) may be read concurrently.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	if !i.raw.isRegular() {
		return 0, &CorruptStructureError{Kind: "inode", Offset: 0, Detail: "ReadAt called on a non-regular-file inode"}
	}
	return newFileReader(i.h, i.raw).ReadAt(p, off)
}

// SymlinkTarget returns the link target, resolving it from the data
// blocks when the target is too long to have been stored inline in
// i_block (§4.6).
func (i *Inode) SymlinkTarget() (string, error) {
	if !i.raw.isSymlink() {
		return "", &CorruptStructureError{Kind: "inode", Offset: 0, Detail: "SymlinkTarget called on a non-symlink inode"}
	}
	if i.raw.linkTarget != "" || i.raw.size == 0 {
		return i.raw.linkTarget, nil
	}
	buf := make([]byte, i.raw.size)
	fr := newFileReader(i.h, i.raw)
	n, err := io.ReadFull(fr, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	return string(buf[:n]), nil
}

// Xattrs returns every extended attribute attached to this inode,
// combining the in-inode area (if any) with the external xattr block
// (if i_file_acl is nonzero).
func (i *Inode) Xattrs() ([]Xattr, error) {
	var out []Xattr
	if len(i.raw.extraBytes) > 4 {
		inline, err := parseInodeXattrs(i.raw.extraBytes)
		if err != nil {
			if _, ok := err.(*ChecksumMismatchError); !ok {
				return nil, fmt.Errorf("in-inode xattrs: %w", err)
			}
			i.h.cfg.logger.WithError(err).Warn("in-inode xattr hash mismatch")
		}
		out = append(out, inline...)
	}
	if i.raw.extendedAttributeBlock != 0 {
		buf := make([]byte, i.h.sb.blockSize)
		off := int64(i.raw.extendedAttributeBlock) * int64(i.h.sb.blockSize)
		if err := readFull(i.h.r, buf, off); err != nil {
			return nil, err
		}
		ext, err := parseBlockXattrs(buf, uint32(i.raw.extendedAttributeBlock), i.h.sb.checksumSeedFor(), i.h.sb.features.metadataChecksums)
		if err != nil {
			if _, ok := err.(*ChecksumMismatchError); !ok {
				return nil, fmt.Errorf("external xattr block: %w", err)
			}
			i.h.cfg.logger.WithError(err).Warn("xattr block checksum mismatch")
		}
		out = append(out, ext...)
	}
	return out, nil
}

// Directory returns an iterator over this inode's directory entries. It
// reads and decodes the directory's full contents up front (HTree leaf
// order or linear order, per §4.9), since a read-only decoder has no
// reason to stream partial directory state across calls.
func (i *Inode) Directory() (*DirIterator, error) {
	if !i.raw.isDir() {
		return nil, &CorruptStructureError{Kind: "inode", Offset: 0, Detail: "Directory called on a non-directory inode"}
	}

	bs := &blockSource{h: i.h, in: i.raw}
	blockSize := i.h.sb.blockSize
	nfsFileVersion := i.raw.generation
	seed := i.h.sb.checksumSeedFor()
	metadataChecksums := i.h.sb.features.metadataChecksums

	if i.raw.flags&inodeFlagHashedDirectoryIndexes != 0 {
		root, err := bs.readLogicalBlock(0)
		if err != nil {
			return nil, err
		}
		entries, err := walkHTree(root, blockSize, bs, metadataChecksums, i.raw.number, nfsFileVersion, seed)
		if err != nil {
			return nil, err
		}
		return &DirIterator{entries: entries}, nil
	}

	blockCount := (i.raw.size + uint64(blockSize) - 1) / uint64(blockSize)
	var entries []*directoryEntry
	for n := uint64(0); n < blockCount; n++ {
		b, err := bs.readLogicalBlock(uint32(n))
		if err != nil {
			return nil, err
		}
		decoded, err := parseDirEntriesLinear(b, metadataChecksums, blockSize, i.raw.number, nfsFileVersion, seed)
		if err != nil {
			return nil, fmt.Errorf("directory block %d: %w", n, err)
		}
		entries = append(entries, decoded...)
	}
	return &DirIterator{entries: entries}, nil
}

// DirEntryType classifies a directory entry's target without requiring
// a further inode lookup, mirroring the on-disk file_type byte (§3).
type DirEntryType uint8

const (
	DirEntryUnknown DirEntryType = iota
	DirEntryRegular
	DirEntryDirectory
	DirEntryCharDevice
	DirEntryBlockDevice
	DirEntryFIFO
	DirEntrySocket
	DirEntrySymlink
)

func mapDirFileType(ft directoryFileType) DirEntryType {
	switch ft {
	case dirFileTypeRegular:
		return DirEntryRegular
	case dirFileTypeDirectory:
		return DirEntryDirectory
	case dirFileTypeCharacterDevice:
		return DirEntryCharDevice
	case dirFileTypeBlockDevice:
		return DirEntryBlockDevice
	case dirFileTypeFifo:
		return DirEntryFIFO
	case dirFileTypeSocket:
		return DirEntrySocket
	case dirFileTypeSymlink:
		return DirEntrySymlink
	default:
		return DirEntryUnknown
	}
}

// DirEntry is one name/inode/type triple yielded by a DirIterator.
type DirEntry struct {
	Inode uint32
	Name  string
	Type  DirEntryType
}

// DirIterator walks a directory's already-decoded entries in on-disk
// order (HTree leaf order for hashed directories, linear block order
// otherwise).
type DirIterator struct {
	entries []*directoryEntry
	pos     int
}

// Next returns the next entry, or io.EOF once every entry has been
// returned.
func (d *DirIterator) Next() (DirEntry, error) {
	if d.pos >= len(d.entries) {
		return DirEntry{}, io.EOF
	}
	e := d.entries[d.pos]
	d.pos++
	return DirEntry{Inode: e.inode, Name: e.filename, Type: mapDirFileType(e.fileType)}, nil
}

// Superblock is the public view of the decoded superblock.
type Superblock struct {
	sb *superblock
}

func (s *Superblock) Label() string                 { return s.sb.Label() }
func (s *Superblock) LastMountedDirectory() string   { return s.sb.LastMountedDirectory() }
func (s *Superblock) NeedsRecovery() bool            { return s.sb.NeedsRecovery() }
func (s *Superblock) BackupGroups() []uint64         { return s.sb.BackupGroups() }
func (s *Superblock) InodeCount() uint32             { return s.sb.inodeCount }
func (s *Superblock) BlockCount() uint64             { return s.sb.blockCount }
func (s *Superblock) BlockSize() uint32              { return s.sb.blockSize }
func (s *Superblock) FreeBlocks() uint64              { return s.sb.freeBlocks }
func (s *Superblock) FreeInodes() uint32              { return s.sb.freeInodes }
func (s *Superblock) UUID() string {
	if s.sb.uuid == nil {
		return ""
	}
	return s.sb.uuid.String()
}
