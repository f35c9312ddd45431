// Package blockstore defines the block-level collaborator interface the
// journal device sits on top of, along with a few concrete backends: an
// in-memory store for tests, a bbolt-backed store, and an mmap-backed flat
// file store for real devices.
package blockstore

import "errors"

// ErrOutOfRange is returned when a block number falls outside [0, NumBlocks).
var ErrOutOfRange = errors.New("blockstore: block number out of range")

// Device is the collaborator interface the journal (and anything else
// operating below the patch graph) reads and writes through. Every method
// operates in whole blocks; count extends a read across count contiguous
// blocks starting at n.
type Device interface {
	// ReadBlock returns count blocks' worth of bytes starting at block n.
	ReadBlock(n uint64, count int) ([]byte, error)

	// SyntheticReadBlock behaves like ReadBlock but is used when the caller
	// only needs a block to exist to attach patches to, not its current
	// contents (e.g. an about-to-be-fully-overwritten block). synth reports
	// whether the returned bytes are a freshly zeroed placeholder rather
	// than data actually read from the device.
	SyntheticReadBlock(n uint64, count int, synth *bool) ([]byte, error)

	// WriteBlock writes data (a whole multiple of the block size) starting
	// at block n.
	WriteBlock(data []byte, n uint64) error

	// Sync flushes pending writes. A nil block flushes everything; a
	// non-nil block flushes at least that block.
	Sync(block *uint64) error

	// CancelBlock discards block n's contents, durable or not; afterwards
	// the block reads back as zeros.
	CancelBlock(n uint64) error

	BlockSize() int
	NumBlocks() uint64
	AtomicSize() int

	// DevLevel reports this device's position in the patch-group-safety
	// stack: 0 means patches may be written out of order (a raw disk),
	// increasing numbers mean stronger soft-update ordering guarantees are
	// already provided beneath this device.
	DevLevel() int

	// WriteHead reports the next block number a sequential writer (the
	// journal) should use, for devices that track one.
	WriteHead() uint64
}
