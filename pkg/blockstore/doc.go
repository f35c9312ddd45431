/*
Package blockstore defines the Device interface the journal reads and
writes blocks through, plus three implementations: MemStore (tests),
BoltBlockStore (bbolt-backed, grounded on the key/value bucket pattern used
elsewhere in this module's storage layer), and FileBlockStore (a flat file
memory-mapped in full via mmap-go, the closest analogue to a raw device).

DevLevel is the one piece of plumbing every implementation must report
honestly: the journal reports its base device's level plus one, and its
ValidateUpperDevLevel rejects a layer above it that claims a higher level
than that. The journal does not check the base device's own level.
*/
package blockstore
