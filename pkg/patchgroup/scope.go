package patchgroup

import (
	"github.com/google/uuid"

	"github.com/cuemby/patchfs/pkg/log"
	"github.com/cuemby/patchfs/pkg/patch"
)

type scopeEntry struct {
	group   *Group
	engaged bool
}

// Scope tracks which groups are currently engaged on behalf of one calling
// context (a filesystem operation, a request handler) and maintains the
// top/bottom anchors that splice group ordering into every patch-creating
// primitive that context invokes.
type Scope struct {
	engine *patch.Engine

	nextGroupID uint64
	groups      map[uint64]*scopeEntry

	top     *patch.Patch // owned; accumulates "depends on everything so far"
	bottom  *patch.Patch // weak; new patches are prefixed to depend on this
	engagedCount int
}

// NewScope creates an empty scope bound to engine.
func NewScope(engine *patch.Engine) *Scope {
	return &Scope{engine: engine, groups: make(map[uint64]*scopeEntry)}
}

// Create allocates a new group with a fresh ID in this scope. Fails with
// ErrInvalid if flags specifies FlagAtomic while another atomic group
// already exists process-wide.
func (s *Scope) Create(flags Flags) (*Group, error) {
	if flags.has(FlagAtomic) {
		if !atomicExists.CompareAndSwap(false, true) {
			return nil, patch.ErrInvalid
		}
	}

	id := s.nextGroupID
	s.nextGroupID++

	g := &Group{id: id, externalID: uuid.NewString(), engine: s.engine, flags: flags, refCount: 1}
	log.WithGroup(g.externalID).Debug().Uint64("scope_id", id).Bool("atomic", flags.has(FlagAtomic)).Msg("patchgroup: created")

	g.headKeep, _ = s.engine.CreateNoOp("patchgroup:head_keep", nil)
	s.engine.Claim(g.headKeep)
	g.tailKeep, _ = s.engine.CreateNoOp("patchgroup:tail_keep", nil)
	s.engine.Claim(g.tailKeep)

	head, _ := s.engine.CreateNoOp("patchgroup:head", nil, g.headKeep)
	s.engine.Claim(head)
	tail, _ := s.engine.CreateNoOp("patchgroup:tail", nil, g.tailKeep)
	s.engine.Claim(tail)

	s.engine.WeakRetain(head, &g.head)
	s.engine.WeakRetain(tail, &g.tail)

	s.groups[id] = &scopeEntry{group: g}
	return g, nil
}

// recomputeTopBottom rebuilds the scope's top and bottom anchors so that
// every engaged group's head depends on the prior top, and the new bottom
// depends on every engaged group's tail. Called after any Engage/Disengage.
func (s *Scope) recomputeTopBottom() {
	oldTop := s.top

	newTop, _ := s.engine.CreateNoOp("patchgroup:scope_top", nil)
	s.engine.Claim(newTop)
	if oldTop != nil {
		_ = s.engine.AddDepend(newTop, oldTop)
	}

	newBottom, _ := s.engine.CreateNoOp("patchgroup:scope_bottom", nil)
	s.engine.Claim(newBottom)

	for _, entry := range s.groups {
		if !entry.engaged {
			continue
		}
		g := entry.group
		if g.head != nil && oldTop != nil {
			_ = s.engine.AddDepend(g.head, oldTop)
		}
		if g.tail != nil {
			_ = s.engine.AddDepend(newTop, g.tail)
			_ = s.engine.AddDepend(newBottom, g.tail)
		}
	}

	s.top = newTop
	s.bottom = nil
	s.engine.WeakRetain(newBottom, &s.bottom)
}

// PrepareHead merges the scope's bottom anchor into the caller's head, so a
// patch about to be created depends on everything engaged groups have
// already contributed. Called by every patch-creating primitive just
// before it builds the new patch.
func (s *Scope) PrepareHead(headInOut **patch.Patch) {
	if s.bottom == nil {
		return
	}
	switch {
	case *headInOut == nil:
		*headInOut = s.bottom
	case *headInOut == s.bottom:
		// already merged
	default:
		join, _ := s.engine.CreateNoOp("patchgroup:join", nil, *headInOut, s.bottom)
		s.engine.Claim(join)
		*headInOut = join
	}
}

// FinishHead adds an edge from the scope's top to the just-created head, so
// the running "everything so far" anchor waits on it too. Skipped for
// patches flagged NO_PATCHGROUP.
func (s *Scope) FinishHead(head *patch.Patch) {
	if s.top == nil || head == nil || head.Has(patch.FlagNoPatchGroup) {
		return
	}
	_ = s.engine.AddDepend(s.top, head)
}

// Copy duplicates the scope, bumping every contained group's reference
// count. The returned scope shares the same engaged set and anchors as the
// original at the moment of copying.
func (s *Scope) Copy() *Scope {
	cp := &Scope{
		engine:       s.engine,
		nextGroupID:  s.nextGroupID,
		groups:       make(map[uint64]*scopeEntry, len(s.groups)),
		top:          s.top,
		engagedCount: s.engagedCount,
	}
	for id, e := range s.groups {
		e.group.refCount++
		if e.engaged {
			e.group.engagedCount++
		}
		cp.groups[id] = &scopeEntry{group: e.group, engaged: e.engaged}
	}
	if s.bottom != nil {
		s.engine.WeakRetain(s.bottom, &cp.bottom)
	}
	return cp
}

// Destroy abandons every group this scope still references.
func (s *Scope) Destroy() {
	for _, entry := range s.groups {
		_ = entry.group.Abandon()
	}
	s.groups = nil
}
