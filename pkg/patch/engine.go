package patch

import (
	"container/list"
	"sync/atomic"
)

// Engine owns a patch dependency graph: every patch created through it is
// tracked for overlap, free-list reclamation, and stamp bookkeeping.
//
// Engine carries no internal locking. Per the concurrency model this stack
// assumes, a host holds one coarse lock around every entry point; the core
// itself runs single-threaded cooperative and is free to mutate its graph
// without synchronization. Concurrent callers must serialize externally.
type Engine struct {
	nextID   uint64
	freeList *list.List // of *Patch, via freeElem

	stamps [32]stampSlot
}

type stampSlot struct {
	used  bool
	owner string
}

// NewEngine constructs an empty patch graph engine.
func NewEngine() *Engine {
	return &Engine{freeList: list.New()}
}

func (e *Engine) allocID() uint64 {
	return atomic.AddUint64(&e.nextID, 1)
}

// --- free list -------------------------------------------------------------

func (e *Engine) freeListAdd(p *Patch) {
	if p.freeElem != nil {
		return
	}
	p.freeElem = e.freeList.PushBack(p)
}

func (e *Engine) freeListRemove(p *Patch) {
	if p.freeElem == nil {
		return
	}
	e.freeList.Remove(p.freeElem)
	p.freeElem = nil
}

// FreeListLen reports how many patches currently sit on the reclaimable
// free list.
func (e *Engine) FreeListLen() int { return e.freeList.Len() }

// Claim removes a no-op from the free list immediately, for a caller that
// knows it will shortly give the no-op a dependent (patch-group and
// journal transaction anchors do this at construction).
func (e *Engine) Claim(p *Patch) {
	e.freeListRemove(p)
}

// Autorelease places a no-op back on the free list if it currently has no
// dependents and is not already resident, undoing an earlier Claim once
// the caller decides the no-op will not get a dependent after all.
func (e *Engine) Autorelease(p *Patch) {
	if len(p.dependents) == 0 {
		e.freeListAdd(p)
	}
}

// DrainFreeList destroys every patch still resident on the free list and
// returns the reclaimed patches. Every patch on the free list has, by
// construction, zero dependents, so destruction is always safe.
func (e *Engine) DrainFreeList() []*Patch {
	var reclaimed []*Patch
	for el := e.freeList.Front(); el != nil; {
		next := el.Next()
		p := el.Value.(*Patch)
		p.freeElem = nil
		reclaimed = append(reclaimed, p)
		el = next
	}
	e.freeList.Init()
	for _, p := range reclaimed {
		e.Destroy(p)
	}
	return reclaimed
}

// --- change-set management ---------------------------------------------------

func (e *Engine) ensureChangeSet(block *Block) *Patch {
	cur := block.Data.Changes
	if cur != nil && !cur.Flags.has(FlagWritten) && !cur.Flags.has(FlagFreeing) {
		return cur
	}
	noop, _ := e.CreateNoOp("changeset", block)
	e.Claim(noop)
	block.Data.Changes = noop
	return noop
}

// --- construction ------------------------------------------------------------

// CreateNoOp allocates a no-op patch in the applied state. If befores are
// supplied, each is linked as a dependency. The no-op is placed on the
// free list until it gains its first dependent.
func (e *Engine) CreateNoOp(owner string, block *Block, befores ...*Patch) (*Patch, error) {
	p := &Patch{id: e.allocID(), Owner: owner, Kind: KindNoOp, Block: block}
	for _, b := range befores {
		if err := e.AddDepend(p, b); err != nil {
			e.Destroy(p)
			return nil, err
		}
	}
	e.freeListAdd(p)
	return p, nil
}

// CreateBit creates a bit patch in rollback state, attaches it to the
// block's change-set, links overlap dependencies, and applies it.
func (e *Engine) CreateBit(block *Block, owner string, offset uint32, xor uint32) (*Patch, error) {
	if block == nil || block.Data == nil {
		return nil, ErrInvalid
	}
	if offset%4 != 0 || int(offset)+4 > len(block.Data.Bytes) {
		return nil, ErrInvalid
	}
	if xor == 0 {
		return nil, ErrInvalid
	}

	p := &Patch{
		id:        e.allocID(),
		Owner:     owner,
		Kind:      KindBit,
		Block:     block,
		BitOffset: offset,
		BitXor:    xor,
		Flags:     FlagRollback,
	}

	changes := e.ensureChangeSet(block)
	if err := e.overlapAttach(p, false); err != nil {
		return nil, err
	}
	e.addDependFast(changes, p)

	if err := e.Apply(p); err != nil {
		return nil, err
	}
	return p, nil
}

// chunkByteRange splits [offset, offset+length) into atomic-unit-aligned
// chunks, an equivalent reformulation of the original index/count
// splitting arithmetic.
func chunkByteRange(offset, length, atomicSize int) [][2]int {
	if atomicSize <= 0 {
		return [][2]int{{offset, length}}
	}
	var chunks [][2]int
	cur := offset
	remaining := length
	for remaining > 0 {
		boundary := ((cur / atomicSize) + 1) * atomicSize
		chunkLen := boundary - cur
		if chunkLen > remaining {
			chunkLen = remaining
		}
		chunks = append(chunks, [2]int{cur, chunkLen})
		cur += chunkLen
		remaining -= chunkLen
	}
	return chunks
}

// CreateByte writes newBytes into block at [offset, offset+length),
// splitting the request into one byte patch per atomic unit of
// atomicSize, each chained to depend on the previous. If *headInOut
// refers to a non-written patch, it becomes a dependency of the first
// chunk. On any failure partway through, the partially built chain is
// torn down and the block's bytes are left in their pre-call state.
func (e *Engine) CreateByte(block *Block, owner string, offset, length int, newBytes []byte, atomicSize int, headInOut **Patch) error {
	if block == nil || block.Data == nil {
		return ErrInvalid
	}
	if offset < 0 || length <= 0 || offset+length > len(block.Data.Bytes) || len(newBytes) != length {
		return ErrInvalid
	}

	chunks := chunkByteRange(offset, length, atomicSize)
	built := make([]*Patch, 0, len(chunks))

	teardown := func() {
		for i := len(built) - 1; i >= 0; i-- {
			p := built[i]
			if p.State() == StateApplied {
				_ = e.Rollback(p) // restore the block's pre-call bytes
			}
			e.Destroy(p)
		}
	}

	var head *Patch
	if headInOut != nil {
		head = *headInOut
	}

	changes := e.ensureChangeSet(block)

	for _, ch := range chunks {
		start, clen := ch[0], ch[1]
		localStart := start - offset
		p := &Patch{
			id:          e.allocID(),
			Owner:       owner,
			Kind:        KindByte,
			Block:       block,
			ByteOffset:  start,
			ByteLength:  clen,
			ByteOldData: append([]byte(nil), newBytes[localStart:localStart+clen]...),
			Flags:       FlagRollback,
		}

		if len(built) == 0 {
			if head != nil && !head.Flags.has(FlagWritten) {
				if err := e.AddDepend(p, head); err != nil {
					teardown()
					return err
				}
			}
		} else {
			e.addDependFast(p, built[len(built)-1])
		}

		if err := e.overlapAttach(p, false); err != nil {
			teardown()
			return err
		}
		e.addDependFast(changes, p)
		built = append(built, p)
	}

	for _, p := range built {
		if err := e.Apply(p); err != nil {
			teardown()
			return err
		}
	}

	if headInOut != nil && len(built) > 0 {
		*headInOut = built[len(built)-1]
	}
	return nil
}

// CreateFull writes newBytes across an entire block as a single byte
// patch, bypassing atomic-size splitting. With slipUnder true, existing
// overlapping patches are made to depend on the new patch instead of the
// reverse; this mode is for internal device-layer relocation use (e.g.
// the journal device's full-block copies), not for file-system callers.
func (e *Engine) CreateFull(block *Block, owner string, newBytes []byte, slipUnder bool, headInOut **Patch) error {
	if block == nil || block.Data == nil || len(newBytes) != len(block.Data.Bytes) {
		return ErrInvalid
	}

	p := &Patch{
		id:          e.allocID(),
		Owner:       owner,
		Kind:        KindByte,
		Block:       block,
		ByteOffset:  0,
		ByteLength:  len(newBytes),
		ByteOldData: append([]byte(nil), newBytes...),
		Flags:       FlagRollback,
	}

	changes := e.ensureChangeSet(block)

	var head *Patch
	if headInOut != nil {
		head = *headInOut
	}
	if head != nil && !head.Flags.has(FlagWritten) {
		if err := e.AddDepend(p, head); err != nil {
			e.Destroy(p)
			return err
		}
	}

	if err := e.overlapAttach(p, slipUnder); err != nil {
		e.Destroy(p)
		return err
	}
	e.addDependFast(changes, p)

	if err := e.Apply(p); err != nil {
		e.Destroy(p)
		return err
	}

	if headInOut != nil {
		*headInOut = p
	}
	return nil
}

// CreateInit zeroes an entire block via the same machinery as CreateFull,
// for freshly allocated blocks whose prior contents are undefined.
func (e *Engine) CreateInit(block *Block, owner string, headInOut **Patch) error {
	if block == nil || block.Data == nil {
		return ErrInvalid
	}
	zero := make([]byte, len(block.Data.Bytes))
	return e.CreateFull(block, owner, zero, false, headInOut)
}

// --- overlap -----------------------------------------------------------------

func rangeOf(p *Patch) (start, end int, ok bool) {
	switch p.Kind {
	case KindBit:
		return int(p.BitOffset), int(p.BitOffset) + 4, true
	case KindByte:
		return p.ByteOffset, p.ByteOffset + p.ByteLength, true
	default:
		return 0, 0, false
	}
}

func overlaps(a, b *Patch) bool {
	as, ae, aok := rangeOf(a)
	bs, be, bok := rangeOf(b)
	if !aok || !bok {
		return false
	}
	if a.Kind == KindBit && b.Kind == KindBit && as == bs {
		return a.BitXor&b.BitXor != 0
	}
	return as < be && bs < ae
}

// overlapAttach scans the new patch's block change-set for pre-existing
// patches whose range intersects the new patch's and links them. Patches
// flagged MOVED are skipped. An overlap against a rolled-back patch is a
// fatal busy condition outside of slip-under mode.
func (e *Engine) overlapAttach(newp *Patch, slipUnder bool) error {
	if newp.Block == nil || newp.Block.Data == nil || newp.Block.Data.Changes == nil {
		return nil
	}
	existing := append([]*Patch(nil), newp.Block.Data.Changes.deps...)
	for _, ex := range existing {
		if ex == newp || ex.Flags.has(FlagMoved) {
			continue
		}
		if !overlaps(ex, newp) {
			continue
		}
		if slipUnder {
			if err := e.AddDepend(ex, newp); err != nil {
				return err
			}
			continue
		}
		if ex.State() == StateRolledBack {
			return ErrBusy
		}
		if err := e.AddDepend(newp, ex); err != nil {
			return err
		}
	}
	return nil
}

// --- dependency edges ---------------------------------------------------------

// addDependFast links after->before without precondition or cycle checks,
// for internal wiring where both patches are known freshly constructed
// (change-set attachment, byte-patch chaining).
func (e *Engine) addDependFast(after, before *Patch) {
	if containsPatch(after.deps, before) {
		return
	}
	after.deps = append(after.deps, before)
	before.dependents = append(before.dependents, after)
	e.freeListRemove(before)
}

// hasDependency reports whether target is reachable from root by
// following dependency edges (root depends on target, transitively).
func hasDependency(root, target *Patch) bool {
	if root == target {
		return true
	}
	visited := make(map[*Patch]bool)
	var dfs func(p *Patch) bool
	dfs = func(p *Patch) bool {
		if visited[p] {
			return false
		}
		visited[p] = true
		for _, d := range p.deps {
			if d == target || dfs(d) {
				return true
			}
		}
		return false
	}
	return dfs(root)
}

// AddDepend adds the edge after->before (after waits on before).
func (e *Engine) AddDepend(after, before *Patch) error {
	if after == before {
		return ErrInvalid
	}
	afterWritten := after.Flags.has(FlagWritten)
	beforeWritten := before.Flags.has(FlagWritten)
	switch {
	case afterWritten && beforeWritten:
		return nil
	case afterWritten && !beforeWritten:
		return ErrInvalid
	case !afterWritten && beforeWritten:
		return nil
	}

	if hasDependency(before, after) {
		return ErrCycle
	}

	e.addDependFast(after, before)
	return nil
}

// RemoveDepend removes the edge after->before in both directions. If
// after becomes a no-op with no remaining dependencies, it is satisfied.
func (e *Engine) RemoveDepend(after, before *Patch) {
	if !containsPatch(after.deps, before) {
		return
	}
	after.deps = removePatch(after.deps, before)
	before.dependents = removePatch(before.dependents, after)

	if after.Kind == KindNoOp && len(after.deps) == 0 && !after.Flags.has(FlagWritten) {
		e.Satisfy(after)
	}
}

// --- apply / rollback ---------------------------------------------------------

func memxchg(a, b []byte) {
	for i := range a {
		a[i], b[i] = b[i], a[i]
	}
}

func (e *Engine) toggle(p *Patch, toRollback bool) error {
	if p.Kind == KindNoOp {
		return ErrInvalid
	}
	if toRollback {
		if p.State() != StateApplied {
			return ErrInvalid
		}
	} else {
		if p.State() != StateRolledBack {
			return ErrInvalid
		}
	}

	switch p.Kind {
	case KindBit:
		word := readWord32(p.Block.Data.Bytes, p.BitOffset)
		writeWord32(p.Block.Data.Bytes, p.BitOffset, word^p.BitXor)
	case KindByte:
		memxchg(p.Block.Data.Bytes[p.ByteOffset:p.ByteOffset+p.ByteLength], p.ByteOldData)
	}

	if toRollback {
		p.Flags |= FlagRollback
	} else {
		p.Flags &^= FlagRollback
	}
	return nil
}

// Apply transitions a bit/byte patch from rolled-back to applied.
func (e *Engine) Apply(p *Patch) error { return e.toggle(p, false) }

// Rollback transitions a bit/byte patch from applied to rolled-back.
func (e *Engine) Rollback(p *Patch) error { return e.toggle(p, true) }

func readWord32(b []byte, offset uint32) uint32 {
	return uint32(b[offset]) | uint32(b[offset+1])<<8 | uint32(b[offset+2])<<16 | uint32(b[offset+3])<<24
}

func writeWord32(b []byte, offset uint32, v uint32) {
	b[offset] = byte(v)
	b[offset+1] = byte(v >> 8)
	b[offset+2] = byte(v >> 16)
	b[offset+3] = byte(v >> 24)
}

// --- satisfy / destroy ---------------------------------------------------------

func (e *Engine) weakCollect(p *Patch) {
	for _, slot := range p.weakRefs {
		*slot = nil
	}
	p.weakRefs = nil
}

// Satisfy transitions a patch toward WRITTEN. If the patch still has
// dependencies, it cannot become WRITTEN yet; it is downgraded to a no-op
// (its byte pre-image freed) and remains in the graph so its dependents
// keep their transitive ordering. If it has no dependencies, every
// dependent edge is removed (recursively satisfying no-op dependents left
// without dependencies), the patch is marked WRITTEN, and it is appended
// to the free list for later reclamation.
func (e *Engine) Satisfy(p *Patch) {
	if p.Flags.has(FlagWritten) {
		fatal("satisfy: patch already written")
	}

	if len(p.deps) > 0 {
		p.Kind = KindNoOp
		p.ByteOldData = nil
		e.weakCollect(p)
		return
	}

	dependents := append([]*Patch(nil), p.dependents...)
	for _, dep := range dependents {
		e.RemoveDepend(dep, p)
	}

	p.Flags |= FlagWritten
	p.ByteOldData = nil
	e.weakCollect(p)
	e.freeListAdd(p)
}

// Destroy unconditionally removes a patch: it drops every dependency edge
// in both directions (which may satisfy dependents left without
// dependencies), collects weak references, and frees the pre-image.
// Reentrant destruction of the same patch is a no-op.
func (e *Engine) Destroy(p *Patch) {
	if p.Flags.has(FlagFreeing) {
		return
	}
	p.Flags |= FlagFreeing
	e.freeListRemove(p)

	for _, dep := range append([]*Patch(nil), p.deps...) {
		e.RemoveDepend(p, dep)
	}
	for _, dep := range append([]*Patch(nil), p.dependents...) {
		e.RemoveDepend(dep, p)
	}

	e.weakCollect(p)
	p.ByteOldData = nil

	if p.Block != nil {
		p.Block.RefCount--
		if p.Block.Data != nil && p.Block.Data.Changes == p {
			p.Block.Data.Changes = nil
		}
	}
}

// --- weak references -----------------------------------------------------------

// WeakRetain registers slot as a weak reference to p: *slot is set to p
// now, and nulled automatically when p is satisfied or destroyed.
func (e *Engine) WeakRetain(p *Patch, slot **Patch) {
	*slot = p
	p.weakRefs = append(p.weakRefs, slot)
}

// WeakForget stops tracking slot against p and nulls it immediately.
func (e *Engine) WeakForget(p *Patch, slot **Patch) {
	for i, s := range p.weakRefs {
		if s == slot {
			p.weakRefs[i] = p.weakRefs[len(p.weakRefs)-1]
			p.weakRefs = p.weakRefs[:len(p.weakRefs)-1]
			break
		}
	}
	*slot = nil
}

// --- stamps ----------------------------------------------------------------

// RegisterStamp allocates one of the 32 process-wide device stamp bits.
func (e *Engine) RegisterStamp(owner string) (uint32, error) {
	for i := range e.stamps {
		if !e.stamps[i].used {
			e.stamps[i] = stampSlot{used: true, owner: owner}
			return uint32(i), nil
		}
	}
	return 0, ErrNoMem
}

// ReleaseStamp frees a previously registered stamp bit.
func (e *Engine) ReleaseStamp(id uint32) {
	if int(id) < len(e.stamps) {
		e.stamps[id] = stampSlot{}
	}
}

// Stamp marks p as processed by the device owning stampID.
func (e *Engine) Stamp(p *Patch, stampID uint32) {
	p.stamps |= 1 << stampID
}

// ClearStamp removes stampID's mark from p, used by a device rolling back
// "its own" contribution to a block before copying bytes elsewhere.
func (e *Engine) ClearStamp(p *Patch, stampID uint32) {
	p.stamps &^= 1 << stampID
}
