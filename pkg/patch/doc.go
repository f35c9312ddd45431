/*
Package patch implements the patch dependency graph at the heart of this
stack: a directed acyclic graph of fine-grained block modifications (bit
patches, byte patches, and no-ops) that must reach the underlying block
store in an order consistent with their dependency edges.

# Architecture

	┌────────────────── PATCH GRAPH ENGINE ─────────────────────┐
	│                                                             │
	│  Block / DataBlock            Patch                        │
	│  ┌─────────────┐   deps   ┌──────────────────┐             │
	│  │ Bytes []byte│◄─────────│ Kind: noop/bit/   │            │
	│  │ Changes *Patch──┐      │       byte        │            │
	│  └─────────────┘   │      │ Flags: ROLLBACK/   │            │
	│                    └─────►│  WRITTEN/FREEING/.. │            │
	│                           │ deps, dependents    │            │
	│                           │ weakRefs, stamps     │            │
	│                           └──────────────────┘             │
	│                                                             │
	│  Engine: free list (container/list), stamp registry (32    │
	│  bits), overlap policy, cycle check via marking DFS         │
	└─────────────────────────────────────────────────────────────┘

Every block's DataBlock carries a "change-set" no-op: a synthetic patch
that every per-block patch is attached to as a dependency, so the set of
patches targeting a block is always reachable by walking one no-op's
dependency list.

# Construction primitives

CreateBit and CreateByte/CreateFull both follow the same shape: ensure the
block's change-set exists, scan it for overlapping pre-existing patches
and link against them (overlapAttach), attach the new patch(es) to the
change-set, then apply. CreateByte additionally splits a request that
crosses atomic-unit boundaries into a chain of single-unit patches, each
depending on the one before it. Construction failures unwind any
partially built chain and leave the block's bytes untouched.

# Lifecycle

A patch is satisfied (Satisfy) when its effect is durable. If it still has
unsatisfied dependencies, it is downgraded to a no-op rather than marked
written, preserving the ordering information its own dependents rely on.
Once a patch has no dependencies, satisfying it is free to cascade:
removing it as a dependency may let a no-op dependent reach zero
dependencies itself, satisfying that one too.

Destroy is the unconditional counterpart: it removes every edge touching
the patch (in both directions) and frees it, guarded against reentrancy by
FlagFreeing.

# Free list

No-ops are frequently created speculatively as anchors for future
dependencies and often never acquire one. The engine tracks such no-ops
(and freshly satisfied patches) in a free list and reclaims them on
DrainFreeList. Claim/Autorelease let a caller that knows it will attach a
dependent immediately skip the round trip.
*/
package patch
