package ext4

import "io"

// blockSource adapts a Handle to the blockReader/logicalBlockReader
// interfaces the extent, indirect, and htree walkers need: "read me the
// filesystem-block-sized contents living at disk block N" and "read me
// the Nth logical block of this particular inode's data", respectively.
type blockSource struct {
	h      *Handle
	in     *inode
	blocks extents // resolved once per inode, cached
}

func (bs *blockSource) readBlock(blockNumber uint64) ([]byte, error) {
	buf := make([]byte, bs.h.sb.blockSize)
	off := int64(blockNumber) * int64(bs.h.sb.blockSize)
	if err := readFull(bs.h.r, buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// readLogicalBlock resolves the nth logical block of bs.in's data
// region to a physical block and reads it, using whichever block-map
// strategy the inode uses.
func (bs *blockSource) readLogicalBlock(n uint32) ([]byte, error) {
	phys, err := bs.physicalBlockFor(uint64(n))
	if err != nil {
		return nil, err
	}
	if phys == 0 {
		return make([]byte, bs.h.sb.blockSize), nil // hole, reads as zero
	}
	return bs.readBlock(phys)
}

// physicalBlockFor resolves a single logical block number through
// either the extent tree or the legacy indirect scheme, depending on
// the inode's USES_EXTENTS flag (§4.7).
func (bs *blockSource) physicalBlockFor(logical uint64) (uint64, error) {
	if bs.in.flags&inodeFlagUsesExtents != 0 {
		if bs.blocks == nil {
			resolved, err := resolveExtents(bs.in.rawIBlock[:], bs, bs.h.sb.checksumSeedFor(), bs.in.number, bs.in.generation, bs.h.sb.features.metadataChecksums)
			if err != nil {
				return 0, err
			}
			bs.blocks = resolved
		}
		for _, e := range bs.blocks {
			if logical >= uint64(e.fileBlock) && logical < uint64(e.fileBlock)+uint64(e.count) {
				if e.uninitialized {
					return 0, nil
				}
				return e.startingBlock + (logical - uint64(e.fileBlock)), nil
			}
		}
		return 0, nil // not covered by any extent: a hole
	}

	mapped, err := resolveIndirectBlocks(bs.in.rawIBlock[:], bs, bs.h.sb.blockSize, logical+1)
	if err != nil {
		return 0, err
	}
	if logical >= uint64(len(mapped)) {
		return 0, nil
	}
	return mapped[logical], nil
}

// fileReader is an io.ReaderAt over one inode's logical byte range
// [0, size), returning zero bytes for holes and uninitialized extents
// without issuing a physical read for them. Multiple independent
// fileReaders over the same inode may be used concurrently (§5): each
// is stateless beyond its own lazily-populated extent cache.
type fileReader struct {
	bs   *blockSource
	size int64
}

func newFileReader(h *Handle, in *inode) *fileReader {
	return &fileReader{bs: &blockSource{h: h, in: in}, size: int64(in.size)}
}

func (f *fileReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &OutOfRangeError{What: "read offset", Value: off}
	}
	if off >= f.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > f.size {
		p = p[:f.size-off]
	}

	blockSize := int64(f.bs.h.sb.blockSize)
	total := 0
	for total < len(p) {
		cur := off + int64(total)
		logicalBlock := uint64(cur / blockSize)
		blockOff := int(cur % blockSize)

		phys, err := f.bs.physicalBlockFor(logicalBlock)
		if err != nil {
			return total, err
		}

		n := int(blockSize) - blockOff
		if remaining := len(p) - total; n > remaining {
			n = remaining
		}

		if phys == 0 {
			for i := 0; i < n; i++ {
				p[total+i] = 0
			}
		} else {
			block, err := f.bs.readBlock(phys)
			if err != nil {
				return total, err
			}
			copy(p[total:total+n], block[blockOff:blockOff+n])
		}
		total += n
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}
