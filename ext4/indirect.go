package ext4

import "encoding/binary"

// Legacy block mapping (§4.7): used by inodes that predate EXTENTS, or
// that never set the flag. i_block[0..11] are direct block pointers;
// i_block[12] points to a block of direct pointers (single indirect),
// i_block[13] to a block of pointers to such blocks (double indirect),
// i_block[14] to a further level (triple indirect).
const (
	indirectDirectCount = 12
	indirectSingleIdx   = 12
	indirectDoubleIdx   = 13
	indirectTripleIdx   = 14
)

// resolveIndirectBlocks walks the legacy block-mapping scheme and
// returns the ordered list of data block numbers, one entry per logical
// block up to neededBlocks, with 0 standing for a hole. iBlock is the
// inode's 60-byte i_block area (15 uint32 pointers); br resolves
// indirect-block contents given a block number.
func resolveIndirectBlocks(iBlock []byte, br blockReader, blockSize uint32, neededBlocks uint64) ([]uint64, error) {
	ptrsPerBlock := uint64(blockSize / 4)

	ptrs := make([]uint32, 15)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(iBlock[i*4 : i*4+4])
	}

	out := make([]uint64, 0, neededBlocks)

	for i := 0; i < indirectDirectCount && uint64(len(out)) < neededBlocks; i++ {
		out = append(out, uint64(ptrs[i]))
	}
	if uint64(len(out)) >= neededBlocks {
		return out, nil
	}

	var err error
	out, err = appendIndirectLevel(out, uint64(ptrs[indirectSingleIdx]), br, 0, ptrsPerBlock, neededBlocks)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) >= neededBlocks {
		return out, nil
	}

	out, err = appendIndirectLevel(out, uint64(ptrs[indirectDoubleIdx]), br, 1, ptrsPerBlock, neededBlocks)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) >= neededBlocks {
		return out, nil
	}

	out, err = appendIndirectLevel(out, uint64(ptrs[indirectTripleIdx]), br, 2, ptrsPerBlock, neededBlocks)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// appendIndirectLevel recursively expands an indirect-block pointer
// level levels deep (0 = single, 1 = double, 2 = triple indirect),
// appending resolved data block numbers to out, stopping early once
// neededBlocks have been collected. A zero block number at any level is
// a hole: it contributes ptrsPerBlock^(levels+1) zero entries without
// issuing a read.
func appendIndirectLevel(out []uint64, block uint64, br blockReader, levels int, ptrsPerBlock, neededBlocks uint64) ([]uint64, error) {
	if uint64(len(out)) >= neededBlocks {
		return out, nil
	}
	if block == 0 {
		holeCount := ptrsPerBlock
		for l := 0; l < levels; l++ {
			holeCount *= ptrsPerBlock
		}
		for i := uint64(0); i < holeCount && uint64(len(out)) < neededBlocks; i++ {
			out = append(out, 0)
		}
		return out, nil
	}

	if levels == 0 {
		data, err := br.readBlock(block)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < ptrsPerBlock && uint64(len(out)) < neededBlocks; i++ {
			ptr := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
			out = append(out, uint64(ptr))
		}
		return out, nil
	}

	data, err := br.readBlock(block)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < ptrsPerBlock && uint64(len(out)) < neededBlocks; i++ {
		child := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out, err = appendIndirectLevel(out, uint64(child), br, levels-1, ptrsPerBlock, neededBlocks)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
