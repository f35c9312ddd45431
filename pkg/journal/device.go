package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/patchfs/pkg/blockstore"
	"github.com/cuemby/patchfs/pkg/log"
	"github.com/cuemby/patchfs/pkg/metrics"
	"github.com/cuemby/patchfs/pkg/patch"
	"github.com/cuemby/patchfs/pkg/patchgroup"
)

// TransactionPeriod is how long an open transaction is left accepting
// writes before the scheduler closes it automatically.
const TransactionPeriod = 15 * time.Second

// TransactionSize is the nominal number of bytes devoted to one
// transaction slot, commit record included.
const TransactionSize = 256 * 1024

// slotState is where a transaction slot sits in its lifecycle.
type slotState int

const (
	slotIdle slotState = iota
	slotOpen
	// slotSubcommitted is an intermediate slot in a transaction that has
	// spilled across more than one slot: its data and subcommit record are
	// durable, but it is not reusable until the whole chain's final commit
	// lands, since an unreachable subcommit is replayed as torn.
	slotSubcommitted
	slotClosing
)

// slot is one transaction's reserved region of the base device: a commit
// record block, its block-list blocks, and its data blocks, plus the five
// anchor no-ops that encode the transaction's ordering constraints in the
// patch graph.
type slot struct {
	index     int
	geometry  slotGeometry
	baseBlock uint64 // block number of this slot's commit record

	state        slotState
	blockNumbers []uint32 // original block numbers staged this transaction
	holdCount    int

	// chainPrev is the slot index of the previous slot in this transaction's
	// chain; a slot that opened a brand new transaction self-references
	// (chainPrev == index), which is also the on-disk self-terminating Next
	// value a lone, unchained slot writes.
	chainPrev int

	// writePatches and dataPatches parallel blockNumbers: the arriving
	// filesystem-data patch and its journal-region copy patch for each
	// staged write, kept so the close sequence can settle them once their
	// bytes are durable and applied.
	writePatches []*patch.Patch
	dataPatches  []*patch.Patch

	// keep holds the transaction's data open until the commit record is
	// durable; wait depends on keep, hold, and every data-block copy patch
	// staged this transaction, so nothing downstream can treat this slot as
	// settled until all three clear; hold is what patchgroup atomic-group
	// Engage/Disengage manipulates through Device.Hold/Unhold; safe depends
	// on every arriving write patch and drains to WRITTEN once they have all
	// been applied to their real locations; done is weak-retained into every
	// slot in the transaction's chain and marks the moment the whole chain's
	// data is copied to its real locations, not just durable in the journal.
	keep, wait, hold, safe *patch.Patch
	done                   *patch.Patch
}

// Device is a journaling Device that sits on top of a base blockstore
// and groups the patch graph's writes into fixed-size transactions,
// replaying any torn transaction found at startup.
type Device struct {
	base      blockstore.Device
	engine    *patch.Engine
	scope     *patchgroup.Scope
	blockSize int
	geometry  slotGeometry
	stampID   uint32

	mu         sync.Mutex
	slots      []*slot
	curSlot    int
	chainSlots []int // indices of slots in the currently open transaction's chain, root first
	fsBlocks   map[uint64]*patch.Block
	logger     zerolog.Logger
}

// NewDevice wires a journal on top of base with numSlots transaction
// slots, each sized to hold roughly TransactionSize bytes. The journal
// registers itself as the process-wide patchgroup.Holder so that engaging
// an atomic group places a hold on whichever slot is currently open.
func NewDevice(base blockstore.Device, engine *patch.Engine, scope *patchgroup.Scope, numSlots int) (*Device, error) {
	return NewDeviceSized(base, engine, scope, numSlots, TransactionSize)
}

// NewDeviceSized is NewDevice with an explicit transaction size, for
// devices too small to fit even one slot at the default TransactionSize.
func NewDeviceSized(base blockstore.Device, engine *patch.Engine, scope *patchgroup.Scope, numSlots, transactionSize int) (*Device, error) {
	if numSlots < 1 {
		return nil, fmt.Errorf("journal: need at least one transaction slot")
	}
	geo := computeSlotGeometry(base.BlockSize(), transactionSize)
	if uint64(numSlots*geo.totalBlocks) > base.NumBlocks() {
		return nil, fmt.Errorf("journal: %d slots of %d blocks each exceed device capacity %d",
			numSlots, geo.totalBlocks, base.NumBlocks())
	}

	stampID, err := engine.RegisterStamp("journal")
	if err != nil {
		return nil, fmt.Errorf("journal: register device stamp: %w", err)
	}

	d := &Device{
		base:      base,
		engine:    engine,
		scope:     scope,
		blockSize: base.BlockSize(),
		geometry:  geo,
		stampID:   stampID,
		slots:     make([]*slot, numSlots),
		fsBlocks:  make(map[uint64]*patch.Block),
		logger:    log.WithDevice("journal"),
	}
	for i := range d.slots {
		d.slots[i] = &slot{index: i, geometry: geo, baseBlock: uint64(i * geo.totalBlocks), chainPrev: i}
	}

	patchgroup.SetHolder(d)
	return d, nil
}

// Close releases the device's stamp registration. It does not close the
// underlying base device.
func (d *Device) Close() {
	d.engine.ReleaseStamp(d.stampID)
}

// DevLevel reports one level of ordering guarantee stronger than the base
// device: the journal is what turns a raw (level 0) disk into something
// that can honor commit/cancel ordering for the layer above it.
func (d *Device) DevLevel() int { return d.base.DevLevel() + 1 }

// ValidateUpperDevLevel returns an error if a layer built on top of this
// journal claims a stronger ordering guarantee than the journal actually
// provides.
func (d *Device) ValidateUpperDevLevel(upper int) error {
	if upper > d.DevLevel() {
		return fmt.Errorf("journal: upper device level %d exceeds journal level %d", upper, d.DevLevel())
	}
	return nil
}

func (d *Device) dataBlockAt(s *slot, i int) uint64 {
	return s.baseBlock + 1 + uint64(s.geometry.blockListBlocks) + uint64(i)
}

// currentSlot returns the slot currently accepting writes, opening one on
// the next free slot in round-robin order if none is open.
func (d *Device) currentSlot() (*slot, error) {
	s := d.slots[d.curSlot]
	if s.state == slotOpen {
		return s, nil
	}
	opened, err := d.openSlot(d.curSlot)
	if err != nil {
		return nil, err
	}
	d.chainSlots = []int{opened.index}
	return opened, nil
}

func (d *Device) openSlot(idx int) (*slot, error) {
	s := d.slots[idx]
	if s.state != slotIdle {
		return nil, patch.ErrBusy
	}

	var err error
	s.keep, err = d.engine.CreateNoOp("journal:keep", nil)
	if err != nil {
		return nil, err
	}
	d.engine.Claim(s.keep)

	s.hold, _ = d.engine.CreateNoOp("journal:hold", nil)
	d.engine.Claim(s.hold)

	s.wait, _ = d.engine.CreateNoOp("journal:wait", nil, s.keep, s.hold)
	d.engine.Claim(s.wait)

	s.safe, _ = d.engine.CreateNoOp("journal:safe", nil)
	d.engine.Claim(s.safe)

	log.WithSlot(idx).Debug().Msg("journal: slot opened")

	s.blockNumbers = nil
	s.writePatches = nil
	s.dataPatches = nil
	s.chainPrev = idx
	s.state = slotOpen
	metrics.JournalSlotOccupancy.WithLabelValues(fmt.Sprintf("%d", idx)).Set(1)
	return s, nil
}

// nextIdleSlot scans forward from from (exclusive) in round-robin order for
// a slot that is neither open nor parked mid-chain as slotSubcommitted.
func (d *Device) nextIdleSlot(from int) (int, error) {
	n := len(d.slots)
	for off := 1; off <= n; off++ {
		idx := (from + off) % n
		if d.slots[idx].state == slotIdle {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("journal: no idle transaction slot available")
}

// fsBlock returns the cached patch.Block tracking blockNum's pending
// filesystem-data state, loading a synthetic (placeholder) image the first
// time this device sees the block: every journal write is a full-block
// overwrite, so the prior on-disk contents are never read back.
func (d *Device) fsBlock(blockNum uint64) (*patch.Block, error) {
	if b, ok := d.fsBlocks[blockNum]; ok {
		return b, nil
	}
	var synth bool
	buf, err := d.base.SyntheticReadBlock(blockNum, 1, &synth)
	if err != nil {
		return nil, err
	}
	b := &patch.Block{Number: blockNum, Data: &patch.DataBlock{Bytes: buf}, Span: 1}
	d.fsBlocks[blockNum] = b
	return b, nil
}

// journalBlock builds the patch.Block representing one journal-region data
// slot. It is never cached: each slot position is scratch space reused by a
// new transaction every time it comes back around, so there is nothing
// worth tracking across calls.
func (d *Device) journalBlock(s *slot, i int) (*patch.Block, error) {
	num := d.dataBlockAt(s, i)
	var synth bool
	buf, err := d.base.SyntheticReadBlock(num, 1, &synth)
	if err != nil {
		return nil, err
	}
	return &patch.Block{Number: num, Data: &patch.DataBlock{Bytes: buf}, Span: 1}, nil
}

// WriteBlock stages data for blockNum into the current transaction,
// opening one if necessary and rolling over to a fresh slot if the current
// one is already full. The arriving patch is threaded through the slot's
// hold/safe anchors, stamped as this device's own, and its bytes are
// copied into the journal region via a slip-under full-block patch before
// being persisted to disk; the real location is only written when the
// transaction is applied at close.
func (d *Device) WriteBlock(blockNum uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.currentSlot()
	if err != nil {
		return err
	}
	if len(s.blockNumbers) >= s.geometry.dataBlocks {
		s, err = d.rolloverSlot(s)
		if err != nil {
			return err
		}
	}

	block, err := d.fsBlock(blockNum)
	if err != nil {
		return err
	}

	var head *patch.Patch
	d.scope.PrepareHead(&head)
	if err := d.engine.CreateFull(block, "journal:fswrite", data, false, &head); err != nil {
		return err
	}
	d.scope.FinishHead(head)
	d.engine.Stamp(head, d.stampID)

	// The arriving patch is a dependent of hold (it waits for hold to
	// clear) and a dependency of safe (safe waits for it to be applied).
	if err := d.engine.AddDepend(head, s.hold); err != nil {
		return err
	}
	if err := d.engine.AddDepend(s.safe, head); err != nil {
		return err
	}

	// Copy the block into the next free journal data slot. journalBlock
	// builds a fresh Block each call, so no earlier patch sits on it; the
	// copy is still created in slip-under mode, under which any existing
	// overlapping patch would be made to depend on the copy rather than
	// the reverse.
	i := len(s.blockNumbers)
	jBlock, err := d.journalBlock(s, i)
	if err != nil {
		return err
	}
	var jHead *patch.Patch
	if err := d.engine.CreateFull(jBlock, "journal:copy", data, true, &jHead); err != nil {
		return err
	}
	if err := d.engine.AddDepend(s.wait, jHead); err != nil {
		return err
	}
	if err := d.base.WriteBlock(jBlock.Data.Bytes, d.dataBlockAt(s, i)); err != nil {
		return err
	}

	s.blockNumbers = append(s.blockNumbers, uint32(blockNum))
	s.writePatches = append(s.writePatches, head)
	s.dataPatches = append(s.dataPatches, jHead)
	return nil
}

// rolloverSlot closes s mid-transaction: it writes s's subcommit record,
// settles the anchors that are already true (the journal copies and commit
// record are durable), parks s as slotSubcommitted rather than idle since
// an unreachable subcommit replays as torn, and opens a fresh slot chained
// behind it to keep staging into.
func (d *Device) rolloverSlot(s *slot) (*slot, error) {
	sub := &commitRecord{Type: commitSubcommit, Next: uint16(s.chainPrev), NBlocks: uint32(len(s.blockNumbers)), Blocks: s.blockNumbers}
	buf, err := sub.MarshalBinary(d.blockSize)
	if err != nil {
		return nil, err
	}
	if err := d.base.WriteBlock(buf, s.baseBlock); err != nil {
		return nil, err
	}
	if err := d.base.Sync(nil); err != nil {
		return nil, err
	}

	for _, jp := range s.dataPatches {
		d.engine.Satisfy(jp)
	}
	d.engine.Satisfy(s.keep)
	d.engine.Satisfy(s.hold)
	s.state = slotSubcommitted
	metrics.JournalSlotOccupancy.WithLabelValues(fmt.Sprintf("%d", s.index)).Set(1)

	nextIdx, err := d.nextIdleSlot(s.index)
	if err != nil {
		return nil, err
	}
	next, err := d.openSlot(nextIdx)
	if err != nil {
		return nil, err
	}
	next.chainPrev = s.index
	d.chainSlots = append(d.chainSlots, next.index)
	d.curSlot = nextIdx

	log.WithSlot(nextIdx).Debug().Int("prev_slot", s.index).Msg("journal: transaction rolled over to a fresh slot")
	return next, nil
}

// CloseCurrentTransaction closes whatever transaction is open on the
// current slot: writes the commit record, fsyncs, copies every slot in the
// transaction's chain to its real locations, and rotates to the next slot.
// Returns patch.ErrBusy without closing anything if an atomic hold is
// outstanding on the slot (Scenario E).
func (d *Device) CloseCurrentTransaction() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.slots[d.curSlot]
	if s.state != slotOpen {
		return nil
	}
	if s.holdCount > 0 {
		return patch.ErrBusy
	}
	return d.closeSlotLocked(s)
}

func (d *Device) closeSlotLocked(s *slot) error {
	s.state = slotClosing

	commit := &commitRecord{Type: commitCommit, Next: uint16(s.chainPrev), NBlocks: uint32(len(s.blockNumbers)), Blocks: s.blockNumbers}
	buf, err := commit.MarshalBinary(d.blockSize)
	if err != nil {
		return err
	}
	if err := d.base.WriteBlock(buf, s.baseBlock); err != nil {
		return err
	}
	if err := d.base.Sync(nil); err != nil {
		return err
	}

	for _, jp := range s.dataPatches {
		d.engine.Satisfy(jp)
	}
	d.engine.Satisfy(s.keep)
	// holdCount is already known zero here (closeSlotLocked's only direct
	// caller checks it first), so hold has no outstanding atomic-group
	// reference; satisfying it drops the edge from every write patch
	// waiting on it.
	d.engine.Satisfy(s.hold)

	chain := append([]int(nil), d.chainSlots...)
	if len(chain) == 0 {
		chain = []int{s.index}
	}

	for _, idx := range chain {
		d.engine.Satisfy(d.slots[idx].safe)
	}

	for _, idx := range chain {
		m := d.slots[idx]
		if err := d.applyTransaction(m); err != nil {
			return err
		}
		for _, hp := range m.writePatches {
			d.engine.ClearStamp(hp, d.stampID)
			d.engine.Satisfy(hp)
		}
	}

	// done marks the whole chain's data as fully copied to its real
	// locations, not just durable in the journal region. applyTransaction
	// is synchronous, so every member slot can be reused immediately; done
	// is still weak-retained into each of them so instrumentation can
	// observe the moment it clears rather than inferring it from state.
	done, _ := d.engine.CreateNoOp("journal:done", nil)
	for _, idx := range chain {
		d.engine.WeakRetain(done, &d.slots[idx].done)
	}
	d.engine.Satisfy(done)

	for _, idx := range chain {
		m := d.slots[idx]
		empty := &commitRecord{Type: commitEmpty, Next: uint16(idx)}
		ebuf, _ := empty.MarshalBinary(d.blockSize)
		if err := d.base.WriteBlock(ebuf, m.baseBlock); err != nil {
			return err
		}
		m.state = slotIdle
		m.blockNumbers = nil
		m.writePatches = nil
		m.dataPatches = nil
		metrics.JournalSlotOccupancy.WithLabelValues(fmt.Sprintf("%d", idx)).Set(0)
	}
	metrics.JournalTransactionsTotal.WithLabelValues("committed").Inc()

	d.chainSlots = nil
	d.curSlot = (s.index + 1) % len(d.slots)
	return nil
}

// applyTransaction copies each staged data block from the journal region
// to its real location on the base device.
func (d *Device) applyTransaction(s *slot) error {
	for i, blockNum := range s.blockNumbers {
		data, err := d.base.ReadBlock(d.dataBlockAt(s, i), 1)
		if err != nil {
			return err
		}
		if err := d.base.WriteBlock(data, uint64(blockNum)); err != nil {
			return err
		}
	}
	return d.base.Sync(nil)
}

// Hold implements patchgroup.Holder: engaging an atomic group places a
// hold on whichever slot is currently accepting writes, opening one if
// none is. While held, CloseCurrentTransaction refuses to close that slot.
func (d *Device) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.currentSlot()
	if err != nil {
		d.logger.Error().Err(err).Msg("journal: could not open slot for atomic hold")
		return
	}
	s.holdCount++
}

// Unhold implements patchgroup.Holder, releasing one hold placed by Hold.
func (d *Device) Unhold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.slots[d.curSlot]
	if s.holdCount > 0 {
		s.holdCount--
	}
}

// RunScheduler closes the current transaction every TransactionPeriod
// until ctx is canceled, mirroring a filesystem's periodic journal-close
// daemon.
func (d *Device) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(TransactionPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.CloseCurrentTransaction(); err != nil {
				d.logger.Error().Err(err).Msg("journal: scheduled transaction close failed")
			}
		}
	}
}
