/*
Package journal turns a raw blockstore.Device into one that groups writes
into fixed-size transactions and replays any torn transaction found at
startup, the same commit/cancel contract a soft-updates filesystem relies
on from the device underneath it.

# Slot geometry

Each transaction slot reserves one commit-record block, a handful of
block-list blocks, and the rest data blocks (computeSlotGeometry). The
commit record's on-disk layout is a fixed binary.BigEndian header (magic,
type, next-slot, block count) followed by the block-number list, encoded
and decoded through encoding/binary rather than carried as Go structs.

# Anchors

Every open transaction carries four no-ops: keep (holds the transaction's
data open until its commit record is durable), hold (the anchor every
arriving write waits on), wait (depends on keep, hold and every
journal-region copy, so nothing can treat the slot as settled while any is
outstanding), and safe (depends on every arriving write). A fifth, done,
is created at close and weak-retained into every slot of the chain. An
engaged atomic patch group places and removes a hold count on the current
slot through the Device.Hold/Unhold patchgroup.Holder implementation. Closing a
transaction with a hold outstanding fails rather than closing early,
blocking the corresponding filesystem update until the atomic group
releases.

# Replay

At startup, Replay reads every slot's commit record. A committed
transaction's data, across every slot its Next chain reaches, is copied to
its real locations (in case the process died between fsync and that copy)
and each of those slots is rewritten to the empty state. A subcommit that
no commit chain reaches is discarded as torn and rewritten to the empty
state. A slot whose record does not decode is marked idle without being
rewritten.
*/
package journal
