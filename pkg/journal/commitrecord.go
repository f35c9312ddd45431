package journal

import (
	"encoding/binary"
	"fmt"
)

// commitRecordMagic identifies a valid commit record block.
const commitRecordMagic uint32 = 0x5AFEDA7A

const commitRecordHeaderSize = 4 + 2 + 2 + 4 // magic, type, next, nblocks

// commitType is the lifecycle stage of one transaction slot's commit
// record, read back during replay to decide what work (if any) remains.
type commitType uint16

const (
	// commitEmpty: the slot holds no pending transaction.
	commitEmpty commitType = iota
	// commitSubcommit: a non-final slot of a transaction that spilled
	// across slots. Replay trusts its block list only when a commitCommit
	// record's Next chain reaches it; on its own it is discarded as torn.
	commitSubcommit
	// commitCommit: the transaction is fully durable and safe to replay.
	commitCommit
)

// commitRecord is the on-disk header of a transaction slot's first block.
// Next is the index of the previous slot in the same transaction's chain;
// a slot pointing to itself terminates the chain.
type commitRecord struct {
	Type    commitType
	Next    uint16
	NBlocks uint32
	Blocks  []uint32 // block numbers the transaction touches, inline
}

// MarshalBinary encodes the record into a buffer of exactly blockSize
// bytes. Block numbers beyond what fits after the header are silently
// truncated to fit within a single commit-record block; the block-list
// blocks computed by computeSlotGeometry exist to hold the overflow for a
// fuller implementation and are reserved on-disk even though this encoder
// keeps the common case (small transactions) inline.
func (c *commitRecord) MarshalBinary(blockSize int) ([]byte, error) {
	if blockSize < commitRecordHeaderSize {
		return nil, fmt.Errorf("journal: block size %d too small for commit record", blockSize)
	}
	buf := make([]byte, blockSize)
	binary.BigEndian.PutUint32(buf[0:4], commitRecordMagic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(c.Type))
	binary.BigEndian.PutUint16(buf[6:8], c.Next)
	binary.BigEndian.PutUint32(buf[8:12], c.NBlocks)

	capacity := (blockSize - commitRecordHeaderSize) / 4
	n := len(c.Blocks)
	if n > capacity {
		n = capacity
	}
	for i := 0; i < n; i++ {
		off := commitRecordHeaderSize + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], c.Blocks[i])
	}
	return buf, nil
}

// UnmarshalBinary decodes a commit record block. It returns an error if the
// magic does not match, which the caller should treat as commitEmpty
// (an uninitialized or foreign block) rather than fatal.
func (c *commitRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) < commitRecordHeaderSize {
		return fmt.Errorf("journal: commit record block too short")
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != commitRecordMagic {
		return fmt.Errorf("journal: bad commit record magic %#x", magic)
	}
	c.Type = commitType(binary.BigEndian.Uint16(buf[4:6]))
	c.Next = binary.BigEndian.Uint16(buf[6:8])
	c.NBlocks = binary.BigEndian.Uint32(buf[8:12])

	capacity := (len(buf) - commitRecordHeaderSize) / 4
	n := int(c.NBlocks)
	if n > capacity {
		n = capacity
	}
	c.Blocks = make([]uint32, n)
	for i := 0; i < n; i++ {
		off := commitRecordHeaderSize + i*4
		c.Blocks[i] = binary.BigEndian.Uint32(buf[off : off+4])
	}
	return nil
}
