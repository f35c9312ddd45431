package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/patchfs/pkg/blockstore"
	"github.com/cuemby/patchfs/pkg/patch"
	"github.com/cuemby/patchfs/pkg/patchgroup"
)

const testBlockSize = 512
const testTxnSize = 6 * testBlockSize // 1 commit + 1 block-list + 4 data blocks per slot

func newTestDevice(t *testing.T, numSlots int) (*Device, blockstore.Device) {
	t.Helper()
	base := blockstore.NewMemStore(testBlockSize, uint64(numSlots*6+1024), testBlockSize, 0)
	e := patch.NewEngine()
	scope := patchgroup.NewScope(e)
	d, err := NewDeviceSized(base, e, scope, numSlots, testTxnSize)
	require.NoError(t, err)
	return d, base
}

// Scenario C — transaction commit then replay recovers the data.
func TestTransaction_CommitThenReplay(t *testing.T) {
	d, base := newTestDevice(t, 2)

	payload := make([]byte, testBlockSize)
	for i := range payload {
		payload[i] = 0x42
	}
	require.NoError(t, d.WriteBlock(900, payload))
	require.NoError(t, d.CloseCurrentTransaction())

	got, err := base.ReadBlock(900, 1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// A fresh Device over the same base, as if the process restarted,
	// should replay cleanly (everything already applied, slots empty).
	e2 := patch.NewEngine()
	scope2 := patchgroup.NewScope(e2)
	d2, err := NewDeviceSized(base, e2, scope2, 2, testTxnSize)
	require.NoError(t, err)
	require.NoError(t, d2.Replay())

	got, err = base.ReadBlock(900, 1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// Scenario C variant — a torn subcommit (crash before the commit record
// flips to COMMIT) is discarded by replay rather than applied.
func TestTransaction_ReplayDiscardsTornSubcommit(t *testing.T) {
	d, base := newTestDevice(t, 1)

	payload := make([]byte, testBlockSize)
	payload[0] = 0x7
	require.NoError(t, d.WriteBlock(900, payload))

	s := d.slots[0]
	sub := &commitRecord{Type: commitSubcommit, NBlocks: uint32(len(s.blockNumbers)), Blocks: s.blockNumbers}
	buf, err := sub.MarshalBinary(testBlockSize)
	require.NoError(t, err)
	require.NoError(t, base.WriteBlock(buf, s.baseBlock))

	e2 := patch.NewEngine()
	scope2 := patchgroup.NewScope(e2)
	d2, err := NewDeviceSized(base, e2, scope2, 1, testTxnSize)
	require.NoError(t, err)
	require.NoError(t, d2.Replay())

	got, err := base.ReadBlock(900, 1)
	require.NoError(t, err)
	assert.NotEqual(t, payload, got, "torn subcommit must not be applied")
}

// Scenario E — an atomic hold blocks transaction close.
func TestAtomicHold_BlocksTransactionClose(t *testing.T) {
	d, _ := newTestDevice(t, 1)
	patchgroup.SetHolder(d)
	defer func() { patchgroup.SetHolder(nil) }()

	d.Hold()
	err := d.CloseCurrentTransaction()
	assert.ErrorIs(t, err, patch.ErrBusy)

	d.Unhold()
	assert.NoError(t, d.CloseCurrentTransaction())
}

// Independent single-block transactions round-robin across slots.
func TestRoundRobin_IndependentTransactions(t *testing.T) {
	d, base := newTestDevice(t, 2)

	for i := 0; i < 4; i++ {
		payload := make([]byte, testBlockSize)
		payload[0] = byte(i + 1)
		blockNum := uint64(900 + i)
		require.NoError(t, d.WriteBlock(blockNum, payload))
		require.NoError(t, d.CloseCurrentTransaction())

		got, err := base.ReadBlock(blockNum, 1)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
	// Having gone around twice with 2 slots, curSlot should be back at 0.
	assert.Equal(t, 0, d.curSlot)
}

// Scenario F — a single transaction larger than one slot's data capacity
// chains across slots via a SUBCOMMIT record, continuing to stage into a
// fresh slot rather than failing.
func TestMultiSlot_TransactionSpansSlots(t *testing.T) {
	d, base := newTestDevice(t, 2)

	const numBlocks = 6 // one slot holds 4 data blocks; this must roll over once
	payloads := make([][]byte, numBlocks)
	for i := 0; i < numBlocks; i++ {
		p := make([]byte, testBlockSize)
		p[0] = byte(i + 1)
		payloads[i] = p
		require.NoError(t, d.WriteBlock(uint64(900+i), p))
	}
	require.NoError(t, d.CloseCurrentTransaction())

	for i := 0; i < numBlocks; i++ {
		got, err := base.ReadBlock(uint64(900+i), 1)
		require.NoError(t, err)
		assert.Equal(t, payloads[i], got)
	}
	for _, s := range d.slots {
		assert.Equal(t, slotIdle, s.state)
	}
}

// Scenario F, crash variant — a crash after the chain's final COMMIT
// record is durable but before the in-process apply step still recovers
// every block across every slot in the chain, via Next.
func TestMultiSlot_ReplayRecoversChainedCommit(t *testing.T) {
	d, base := newTestDevice(t, 2)

	const numBlocks = 6
	payloads := make([][]byte, numBlocks)
	for i := 0; i < numBlocks; i++ {
		p := make([]byte, testBlockSize)
		p[0] = byte(0x10 + i)
		payloads[i] = p
		require.NoError(t, d.WriteBlock(uint64(950+i), p))
	}

	// The writes above have already rolled slot 0 over to slot 1 and
	// written slot 0's SUBCOMMIT record to disk. Simulate a crash right
	// after the tail slot's COMMIT record would have been fsynced, before
	// CloseCurrentTransaction gets to apply anything.
	tail := d.slots[d.curSlot]
	commit := &commitRecord{Type: commitCommit, Next: uint16(tail.chainPrev), NBlocks: uint32(len(tail.blockNumbers)), Blocks: tail.blockNumbers}
	buf, err := commit.MarshalBinary(testBlockSize)
	require.NoError(t, err)
	require.NoError(t, base.WriteBlock(buf, tail.baseBlock))

	e2 := patch.NewEngine()
	scope2 := patchgroup.NewScope(e2)
	d2, err := NewDeviceSized(base, e2, scope2, 2, testTxnSize)
	require.NoError(t, err)
	require.NoError(t, d2.Replay())

	for i := 0; i < numBlocks; i++ {
		got, err := base.ReadBlock(uint64(950+i), 1)
		require.NoError(t, err)
		assert.Equal(t, payloads[i], got)
	}
}

func TestDevice_RejectsCapacityOverflow(t *testing.T) {
	base := blockstore.NewMemStore(testBlockSize, 4, testBlockSize, 0)
	e := patch.NewEngine()
	scope := patchgroup.NewScope(e)
	_, err := NewDeviceSized(base, e, scope, 2, testTxnSize)
	assert.Error(t, err)
}

func TestDevice_DevLevelOneAboveBase(t *testing.T) {
	d, _ := newTestDevice(t, 1)
	assert.Equal(t, 1, d.DevLevel())
	assert.NoError(t, d.ValidateUpperDevLevel(1))
	assert.Error(t, d.ValidateUpperDevLevel(2))
}
