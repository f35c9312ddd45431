/*
Package patchgroup layers coarse ordering handles on top of the patch
dependency graph. Where pkg/patch lets a caller say "this byte range depends
on that no-op," patchgroup lets a caller say "everything I do between Engage
and Disengage depends on everything the last engaged group did," without
tracking individual patches.

# Anchors

Each Group carries four no-ops: head and tail (weak-referenced, so they nil
out once satisfied), and head_keep/tail_keep (owned, holding head and tail
open respectively until Release and Abandon decide it's time to let them
drain). A Scope accumulates a running top/bottom pair across every group it
has engaged, rebuilt on every Engage/Disengage via recomputeTopBottom:
engaged heads depend on the prior top, and the fresh bottom depends on every
engaged tail. PrepareHead/FinishHead splice that top/bottom pair into every
patch a caller creates while the scope is active.

# Atomic groups

At most one atomic group may exist process-wide (atomicExists, an
atomic.Bool). A journal device registers itself as the Holder via SetHolder
so that engaging an atomic group places a transaction hold and releasing it
drops that hold — this is how the journal guarantees an atomic group's
patches all land in the same transaction.
*/
package patchgroup
