package patchgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/patchfs/pkg/patch"
)

type fakeHolder struct{ held int }

func (f *fakeHolder) Hold()   { f.held++ }
func (f *fakeHolder) Unhold() { f.held-- }

func resetAtomicState() {
	atomicExists.Store(false)
	currentHolder = nil
}

// Scenario D — group-level add-depend cycle rejection.
func TestScope_AddDepend_RejectsCycle(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	a, err := s.Create(0)
	require.NoError(t, err)
	b, err := s.Create(0)
	require.NoError(t, err)

	require.NoError(t, s.AddDepend(b, a)) // b commits no earlier than a
	err = s.AddDepend(a, b)               // would cycle at the group level
	assert.Error(t, err)
}

func TestScope_AddDepend_RejectsSecondBefore(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	a, _ := s.Create(0)
	b, _ := s.Create(0)
	c, _ := s.Create(0)

	require.NoError(t, s.AddDepend(a, b))
	err := s.AddDepend(a, c)
	assert.ErrorIs(t, err, patch.ErrInvalid)
}

func TestAtomicGroup_SingletonEnforced(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g1, err := s.Create(FlagAtomic)
	require.NoError(t, err)

	_, err = s.Create(FlagAtomic)
	assert.ErrorIs(t, err, patch.ErrInvalid)

	require.NoError(t, g1.Release())
	require.NoError(t, g1.Abandon())

	_, err = s.Create(FlagAtomic)
	assert.NoError(t, err, "atomic slot freed after abandon")
}

func TestAtomicGroup_EngageDisengageHolds(t *testing.T) {
	resetAtomicState()
	holder := &fakeHolder{}
	SetHolder(holder)
	defer func() { currentHolder = nil }()

	e := patch.NewEngine()
	s := NewScope(e)

	g, err := s.Create(FlagAtomic)
	require.NoError(t, err)

	require.NoError(t, s.Engage(g))
	assert.Equal(t, 1, holder.held)

	// Re-engaging is idempotent, should not place a second hold.
	require.NoError(t, s.Engage(g))
	assert.Equal(t, 1, holder.held)

	require.NoError(t, s.Disengage(g))
	assert.Equal(t, 1, holder.held, "disengage does not drop the hold")

	require.NoError(t, g.Release())
	assert.Equal(t, 0, holder.held, "release drops the hold")
}

func TestAtomicGroup_ReleaseWhileEngagedIsInvalid(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g, _ := s.Create(FlagAtomic)
	require.NoError(t, s.Engage(g))

	err := g.Release()
	assert.ErrorIs(t, err, patch.ErrInvalid)
}

func TestAtomicGroup_AbandonUnreleasedIsInvalid(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g, _ := s.Create(FlagAtomic)
	err := g.Abandon()
	assert.ErrorIs(t, err, patch.ErrInvalid)
}

func TestGroup_ReleaseThenAbandon(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g, _ := s.Create(0)
	require.NoError(t, g.Release())
	assert.True(t, g.isReleased)
	require.NoError(t, g.Abandon())
}

func TestScope_EngageOrdersAgainstPriorTop(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g1, _ := s.Create(0)
	require.NoError(t, s.Engage(g1))

	head, err := e.CreateNoOp("fs", nil)
	require.NoError(t, err)
	s.PrepareHead(&head)
	s.FinishHead(head)

	require.NoError(t, s.Disengage(g1))
	priorTop := s.top

	g2, _ := s.Create(0)
	require.NoError(t, s.Engage(g2))
	// g2's head should now depend on the scope's prior top (which in turn
	// depends on the patch created while g1 was engaged), establishing
	// cross-group ordering without the caller tracking individual patches.
	assert.NotNil(t, g2.head)
	assert.Contains(t, g2.head.Dependencies(), priorTop)
}

func TestScope_PrepareHeadMergesBottom(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g, _ := s.Create(0)
	require.NoError(t, s.Engage(g))
	require.NotNil(t, s.bottom)

	var head *patch.Patch
	s.PrepareHead(&head)
	assert.Equal(t, s.bottom, head)

	existing, _ := e.CreateNoOp("fs", nil)
	h2 := existing
	s.PrepareHead(&h2)
	assert.NotEqual(t, existing, h2, "a join no-op is built when head is already set")
}

func TestScope_Destroy_AbandonsAllGroups(t *testing.T) {
	resetAtomicState()
	e := patch.NewEngine()
	s := NewScope(e)

	g1, _ := s.Create(0)
	g2, _ := s.Create(0)
	_ = g1
	_ = g2

	s.Destroy()
	assert.Nil(t, s.groups)
}
