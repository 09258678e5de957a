package consensus

import (
	"fmt"
	"sort"

	"rubin.dev/node/crypto"
)

// BLOCK_HEADER_BYTES is the canonical serialized length of a BlockHeader.
const BLOCK_HEADER_BYTES = 4 + 32 + 32 + 8 + 32 + 8

// BlockHash hashes a serialized block header, rejecting any length other
// than BLOCK_HEADER_BYTES.
func BlockHash(headerBytes []byte) ([32]byte, error) {
	if len(headerBytes) != BLOCK_HEADER_BYTES {
		return [32]byte{}, fmt.Errorf(TX_ERR_PARSE)
	}
	return sha3_256(headerBytes), nil
}

// blockHeaderHash computes a header's identity hash directly (no error path,
// since BlockHeaderBytes never fails on a well-formed BlockHeader value).
func blockHeaderHash(p crypto.CryptoProvider, h *BlockHeader) [32]byte {
	return p.SHA3_256(BlockHeaderBytes(*h))
}

// medianPastTimestamp computes the median-time-past over the last
// min(height, 11) ancestor headers (oldest-to-newest order, parent last).
func medianPastTimestamp(ancestorHeaders []BlockHeader, height uint64) (uint64, error) {
	if height == 0 || len(ancestorHeaders) == 0 {
		return 0, fmt.Errorf(BLOCK_ERR_TIMESTAMP_OLD)
	}
	k := height
	if k > 11 {
		k = 11
	}
	if uint64(len(ancestorHeaders)) < k {
		return 0, fmt.Errorf(BLOCK_ERR_TIMESTAMP_OLD)
	}
	window := ancestorHeaders[uint64(len(ancestorHeaders))-k:]
	ts := make([]uint64, len(window))
	for i, h := range window {
		ts[i] = h.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts[(len(ts)-1)/2], nil
}

// blockExpectedTarget returns the target a block at height must carry.
// Outside a retarget boundary (height not a multiple of WINDOW_SIZE, or
// genesis) the target must equal the parent's; at a boundary it is
// recomputed from the full preceding window via RetargetV1.
func blockExpectedTarget(ancestorHeaders []BlockHeader, height uint64, actualTarget [32]byte) ([32]byte, error) {
	if height == 0 {
		return actualTarget, nil
	}
	if len(ancestorHeaders) == 0 {
		return [32]byte{}, fmt.Errorf(BLOCK_ERR_TARGET_INVALID)
	}
	parentTarget := ancestorHeaders[len(ancestorHeaders)-1].Target
	if height%WINDOW_SIZE != 0 {
		return parentTarget, nil
	}
	if uint64(len(ancestorHeaders)) < WINDOW_SIZE {
		return [32]byte{}, fmt.Errorf(BLOCK_ERR_TARGET_INVALID)
	}
	window := ancestorHeaders[uint64(len(ancestorHeaders))-WINDOW_SIZE:]
	return RetargetV1(parentTarget, window[0].Timestamp, window[len(window)-1].Timestamp)
}

// blockRewardForHeight computes the coinbase subsidy due at height under the
// fixed-duration linear emission schedule: the total supply is divided
// evenly across SUBSIDY_DURATION_BLOCKS blocks, with the remainder
// distributed one unit at a time to the earliest blocks.
func blockRewardForHeight(height uint64) uint64 {
	if height >= SUBSIDY_DURATION_BLOCKS {
		return 0
	}
	base := uint64(SUBSIDY_TOTAL_MINED / SUBSIDY_DURATION_BLOCKS)
	rem := uint64(SUBSIDY_TOTAL_MINED % SUBSIDY_DURATION_BLOCKS)
	if height < rem {
		return base + 1
	}
	return base
}
