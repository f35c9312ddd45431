package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlock(size int) *Block {
	return &Block{
		Number: 100,
		Data:   &DataBlock{Bytes: make([]byte, size)},
		Span:   1,
	}
}

// Scenario A — Bit-patch overlap.
func TestCreateBit_OverlapOnSameWord(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(4096)

	p1, err := e.CreateBit(block, "fs", 0, 0x00000001)
	require.NoError(t, err)
	p2, err := e.CreateBit(block, "fs", 0, 0x00000002)
	require.NoError(t, err)
	p3, err := e.CreateBit(block, "fs", 0, 0x00000001)
	require.NoError(t, err)

	assert.False(t, containsPatch(p1.deps, p2), "P1 and P2 should be independent")
	assert.False(t, containsPatch(p2.deps, p1), "P1 and P2 should be independent")
	assert.True(t, containsPatch(p3.deps, p1), "P3 should depend on P1 (same bit)")

	word := readWord32(block.Data.Bytes, 0)
	assert.Equal(t, uint32(0x00000002), word)
}

func TestCreateBit_DisjointMasksCommute(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(64)

	p1, err := e.CreateBit(block, "fs", 0, 0x0000000F)
	require.NoError(t, err)
	p2, err := e.CreateBit(block, "fs", 0, 0x000000F0)
	require.NoError(t, err)

	assert.False(t, containsPatch(p1.deps, p2))
	assert.False(t, containsPatch(p2.deps, p1))
}

// Scenario B — Byte-patch split by atomic size.
func TestCreateByte_SplitsByAtomicSize(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(4096)
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}

	var head *Patch
	err := e.CreateByte(block, "fs", 256, 1024, data, 512, &head)
	require.NoError(t, err)

	require.NotNil(t, block.Data.Changes)
	members := block.Data.Changes.deps
	require.Len(t, members, 3)

	wantRanges := [][2]int{{256, 512}, {512, 1024}, {1024, 1280}}
	gotRanges := make(map[[2]int]*Patch)
	for _, p := range members {
		gotRanges[[2]int{p.ByteOffset, p.ByteOffset + p.ByteLength}] = p
	}
	for _, r := range wantRanges {
		p, ok := gotRanges[r]
		require.Truef(t, ok, "expected a patch covering %v", r)
		assert.Equal(t, StateApplied, p.State())
	}

	p0 := gotRanges[wantRanges[0]]
	p1 := gotRanges[wantRanges[1]]
	p2 := gotRanges[wantRanges[2]]
	assert.True(t, containsPatch(p1.deps, p0), "second chunk depends on first")
	assert.True(t, containsPatch(p2.deps, p1), "third chunk depends on second")

	assert.Equal(t, data, block.Data.Bytes[256:1280])
}

func TestCreateByte_UnsplitWhenAtomicSizeCoversWhole(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(64)
	data := []byte("hello, world!!!!")

	var head *Patch
	err := e.CreateByte(block, "fs", 0, len(data), data, 0, &head)
	require.NoError(t, err)
	require.Len(t, block.Data.Changes.deps, 1)
	assert.Equal(t, data, block.Data.Bytes[:len(data)])
}

func TestApplyRollback_IsInverse(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(64)
	original := append([]byte(nil), block.Data.Bytes...)

	p, err := e.CreateBit(block, "fs", 0, 0xDEADBEEF)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, p.State())

	require.NoError(t, e.Rollback(p))
	assert.Equal(t, original, block.Data.Bytes)
	assert.Equal(t, StateRolledBack, p.State())

	require.NoError(t, e.Apply(p))
	assert.NotEqual(t, original, block.Data.Bytes)
	assert.Equal(t, StateApplied, p.State())
}

func TestOverlapAgainstRolledBackPatch_IsBusy(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(64)

	p1, err := e.CreateBit(block, "fs", 0, 0x1)
	require.NoError(t, err)
	require.NoError(t, e.Rollback(p1))

	_, err = e.CreateBit(block, "fs", 0, 0x1)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestAddDepend_RejectsCycle(t *testing.T) {
	e := NewEngine()
	a, err := e.CreateNoOp("fs", nil)
	require.NoError(t, err)
	b, err := e.CreateNoOp("fs", nil)
	require.NoError(t, err)

	require.NoError(t, e.AddDepend(a, b)) // a depends on b
	err = e.AddDepend(b, a)               // would cycle
	assert.ErrorIs(t, err, ErrCycle)
}

func TestAddDepend_WrittenPreconditions(t *testing.T) {
	e := NewEngine()
	a, _ := e.CreateNoOp("fs", nil)
	b, _ := e.CreateNoOp("fs", nil)

	e.Satisfy(a) // a has no deps, becomes WRITTEN
	assert.Equal(t, StateWritten, a.State())

	// dependency-only written: silent success
	assert.NoError(t, e.AddDepend(b, a))

	c, _ := e.CreateNoOp("fs", nil)
	e.Satisfy(c)
	// both written: no-op
	assert.NoError(t, e.AddDepend(a, c))

	// dependent-only written: error
	d, _ := e.CreateNoOp("fs", nil)
	assert.ErrorIs(t, e.AddDepend(a, d), ErrInvalid)
}

func TestSatisfy_DowngradesWhenDependenciesRemain(t *testing.T) {
	e := NewEngine()
	dep, _ := e.CreateNoOp("fs", nil)
	p, _ := e.CreateNoOp("fs", nil, dep)

	e.Satisfy(p)
	assert.Equal(t, KindNoOp, p.Kind)
	assert.False(t, p.Flags.has(FlagWritten))
}

func TestSatisfy_CascadesThroughNoOpDependents(t *testing.T) {
	e := NewEngine()
	root, _ := e.CreateNoOp("fs", nil)
	mid, _ := e.CreateNoOp("fs", nil, root)

	e.Satisfy(root)

	assert.Equal(t, StateWritten, root.State())
	assert.Equal(t, StateWritten, mid.State())
}

func TestWeakRetain_NulledOnSatisfy(t *testing.T) {
	e := NewEngine()
	p, _ := e.CreateNoOp("fs", nil)
	var slot *Patch
	e.WeakRetain(p, &slot)
	assert.Equal(t, p, slot)

	e.Satisfy(p)
	assert.Nil(t, slot)
}

func TestWeakRetain_NulledOnDestroy(t *testing.T) {
	e := NewEngine()
	p, _ := e.CreateNoOp("fs", nil)
	var slot *Patch
	e.WeakRetain(p, &slot)

	e.Destroy(p)
	assert.Nil(t, slot)
}

func TestFreeList_UnusedNoOpReclaimed(t *testing.T) {
	e := NewEngine()
	p, _ := e.CreateNoOp("fs", nil)
	assert.Equal(t, 1, e.FreeListLen())

	reclaimed := e.DrainFreeList()
	assert.Contains(t, reclaimed, p)
	assert.Equal(t, 0, e.FreeListLen())
}

func TestFreeList_RemovedOnFirstDependent(t *testing.T) {
	e := NewEngine()
	before, _ := e.CreateNoOp("fs", nil)
	after, _ := e.CreateNoOp("fs", nil)
	assert.Equal(t, 2, e.FreeListLen())

	require.NoError(t, e.AddDepend(after, before))
	assert.Equal(t, 1, e.FreeListLen()) // before left the free list
}

func TestClaimAndAutorelease(t *testing.T) {
	e := NewEngine()
	p, _ := e.CreateNoOp("fs", nil)
	e.Claim(p)
	assert.Equal(t, 0, e.FreeListLen())

	e.Autorelease(p)
	assert.Equal(t, 1, e.FreeListLen())
}

func TestStampRegistry(t *testing.T) {
	e := NewEngine()
	id, err := e.RegisterStamp("journal0")
	require.NoError(t, err)

	p, _ := e.CreateNoOp("fs", nil)
	e.Stamp(p, id)
	assert.True(t, p.HasStamp(id))

	e.ClearStamp(p, id)
	assert.False(t, p.HasStamp(id))

	e.ReleaseStamp(id)
	id2, err := e.RegisterStamp("journal1")
	require.NoError(t, err)
	assert.Equal(t, id, id2) // slot reused
}

func TestStampRegistry_ExhaustionIsNoMem(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 32; i++ {
		_, err := e.RegisterStamp("dev")
		require.NoError(t, err)
	}
	_, err := e.RegisterStamp("dev")
	assert.ErrorIs(t, err, ErrNoMem)
}

func TestCreateByte_TeardownOnBusyLeavesBytesUntouched(t *testing.T) {
	e := NewEngine()
	block := newTestBlock(64)
	original := append([]byte(nil), block.Data.Bytes...)

	// A rolled-back patch overlapping the new range makes overlapAttach
	// fail with ErrBusy, which sends CreateByte through its teardown path.
	p1, err := e.CreateBit(block, "fs", 0, 0x1)
	require.NoError(t, err)
	require.NoError(t, e.Rollback(p1))

	var head *Patch
	err = e.CreateByte(block, "fs", 0, 4, []byte{1, 2, 3, 4}, 0, &head)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, original[4:], block.Data.Bytes[4:])
}
