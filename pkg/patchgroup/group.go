// Package patchgroup implements coarse-grained ordering constraints over the
// patch dependency graph: a group is a handle an owner can hand around,
// engage/disengage as it touches various blocks, and release/abandon when
// done, without tracking every individual patch it produced.
package patchgroup

import (
	"sync/atomic"

	"github.com/cuemby/patchfs/pkg/patch"
)

// Flags is a bitmask of per-group flags.
type Flags uint32

const (
	// FlagAtomic marks a group whose patches must all reach the device in
	// one transaction. At most one atomic group may exist process-wide.
	FlagAtomic Flags = 1 << iota
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Holder is implemented by whatever collaborator must be told to hold open
// a transaction slot while an atomic group is engaged (the journal device).
// patchgroup never imports journal directly to avoid a cycle; the journal
// package calls SetHolder during its own construction instead.
type Holder interface {
	Hold()
	Unhold()
}

var currentHolder Holder

// SetHolder installs the process-wide atomic-group hold collaborator.
func SetHolder(h Holder) { currentHolder = h }

// atomicExists enforces the process-wide single-atomic-group invariant.
var atomicExists atomic.Bool

// Group is an ordering handle: everything engaged against it while it is
// engaged is constrained to land no earlier than its head and no later
// than its tail.
type Group struct {
	id         uint64
	externalID string // uuid, for correlating this group across log lines
	engine     *patch.Engine
	flags      Flags

	head *patch.Patch // weak; nils out once satisfied/destroyed
	tail *patch.Patch // weak

	headKeep *patch.Patch // owned; holds head open until released
	tailKeep *patch.Patch // owned; holds tail open until released

	refCount     int
	engagedCount int

	hasData    bool
	isReleased bool
	hasAfters  bool
	hasBefores bool

	// beforeGroup is the single group this one was ordered after via
	// Scope.AddDepend (has_befores restricts a group to one direct
	// before-group). Walked to detect group-level cycles before they are
	// handed to the patch graph's own cycle check.
	beforeGroup *Group
}

// ID returns the group's scope-local identifier.
func (g *Group) ID() uint64 { return g.id }

// ExternalID returns the group's process-unique uuid, suitable for
// correlating its log lines across a scope Copy or a restart.
func (g *Group) ExternalID() string { return g.externalID }

// IsAtomic reports whether this group was created with FlagAtomic.
func (g *Group) IsAtomic() bool { return g.flags.has(FlagAtomic) }

func safeSatisfy(e *patch.Engine, p *patch.Patch) {
	if p != nil && p.State() != patch.StateWritten {
		e.Satisfy(p)
	}
}

// AddDepend imposes a group-level ordering constraint: after commits no
// earlier than before. Mirrors patch.Engine.AddDepend's cycle checking but
// at the granularity of group head/tail anchors rather than individual
// patches.
func (s *Scope) AddDepend(after, before *Group) error {
	if after.isReleased {
		return patch.ErrInvalid
	}
	if after.hasBefores {
		return patch.ErrInvalid
	}
	if !before.flags.has(FlagAtomic) && before.engagedCount > 0 {
		return patch.ErrBusy
	}
	for g := before; g != nil; g = g.beforeGroup {
		if g == after {
			return patch.ErrCycle
		}
	}

	if after.tail != nil && before.head != nil {
		if err := s.engine.AddDepend(after.tail, before.head); err != nil {
			return err
		}
	}
	before.hasAfters = true
	after.hasBefores = true
	after.beforeGroup = before
	safeSatisfy(s.engine, before.headKeep)
	return nil
}

// Engage marks the group engaged in scope, folding it into the scope's
// top/bottom anchor recomputation so that subsequently created patches are
// ordered around it. A non-atomic group that has been released fails with
// patch.ErrInvalid, and one that already has group-level afters fails with
// patch.ErrBusy.
func (s *Scope) Engage(g *Group) error {
	entry, ok := s.groups[g.id]
	if !ok {
		return patch.ErrNotFound
	}
	if entry.engaged {
		return nil
	}
	if !g.flags.has(FlagAtomic) {
		if g.isReleased {
			return patch.ErrInvalid
		}
		if g.hasAfters {
			return patch.ErrBusy
		}
	}
	entry.engaged = true
	g.engagedCount++
	s.engagedCount++
	g.hasData = true

	if g.flags.has(FlagAtomic) && g.engagedCount == 1 && currentHolder != nil {
		currentHolder.Hold()
	}

	s.recomputeTopBottom()
	return nil
}

// Disengage reverses Engage. It does not release any hold placed by Engage;
// that happens in Release.
func (s *Scope) Disengage(g *Group) error {
	entry, ok := s.groups[g.id]
	if !ok {
		return patch.ErrNotFound
	}
	if !entry.engaged {
		return nil
	}
	entry.engaged = false
	g.engagedCount--
	s.engagedCount--
	s.recomputeTopBottom()
	return nil
}

// Release freezes the group's tail so that no further writes may depend on
// it going forward. For atomic groups it also drops the journal hold.
func (g *Group) Release() error {
	if g.flags.has(FlagAtomic) && g.engagedCount > 0 {
		return patch.ErrInvalid
	}
	if g.isReleased {
		return nil
	}
	safeSatisfy(g.engine, g.tailKeep)
	g.isReleased = true
	if g.flags.has(FlagAtomic) && currentHolder != nil {
		currentHolder.Unhold()
	}
	return nil
}

// Abandon drops a reference to the group. On the last reference it releases
// the group if needed, lets its head drain into the write stream, and frees
// the anchors.
func (g *Group) Abandon() error {
	g.refCount--
	if g.refCount > 0 {
		return nil
	}
	if g.flags.has(FlagAtomic) && !g.isReleased {
		return patch.ErrInvalid
	}
	if !g.isReleased {
		if err := g.Release(); err != nil {
			return err
		}
	}
	if g.hasData && g.engagedCount > 0 {
		fatalGroup("abandon: group still has data and is still engaged")
	}
	safeSatisfy(g.engine, g.headKeep)
	if g.flags.has(FlagAtomic) {
		atomicExists.Store(false)
	}
	return nil
}

func fatalGroup(msg string) {
	panic("patchgroup: fatal: " + msg)
}
