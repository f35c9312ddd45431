package journal

import (
	"fmt"

	"github.com/cuemby/patchfs/pkg/metrics"
)

// Replay scans every transaction slot at startup. A slot whose commit
// record reads back as commitCommit is the tail of a (possibly one-slot)
// transaction chain; replayChain walks Next backward from it to gather
// every SUBCOMMIT slot that belongs to the same transaction before
// applying any of them, so a transaction that spilled across slots is
// recovered as one unit; a chain that loops, leaves the slot range, or
// reaches an undecodable record makes Replay return an error. Any slot left unreached by a
// commit chain — a dangling subcommit, or anything unreadable — is torn
// and discarded; its block-number list is not known-good on its own.
func (d *Device) Replay() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.JournalReplayDuration)

	d.mu.Lock()
	defer d.mu.Unlock()

	records := make([]*commitRecord, len(d.slots))
	for i, s := range d.slots {
		buf, err := d.base.ReadBlock(s.baseBlock, 1)
		if err != nil {
			return err
		}
		var rec commitRecord
		if err := rec.UnmarshalBinary(buf); err == nil {
			records[i] = &rec
		}
	}

	visited := make([]bool, len(d.slots))
	for i, rec := range records {
		if rec == nil || visited[i] || rec.Type != commitCommit {
			continue
		}
		if err := d.replayChain(i, records, visited); err != nil {
			return err
		}
	}

	for i, rec := range records {
		if visited[i] {
			continue
		}
		if rec == nil || rec.Type == commitEmpty {
			d.slots[i].state = slotIdle
			continue
		}
		metrics.JournalTransactionsTotal.WithLabelValues("discarded").Inc()
		if err := d.cancelSlot(d.slots[i]); err != nil {
			return err
		}
	}
	return nil
}

// replayChain walks backward from the commitCommit slot at tailIdx through
// each record's Next field, collecting the full chain of slots one
// oversized transaction spilled across (a lone, unchained slot is simply a
// chain of one that terminates on itself). It applies every member's
// staged data to its real location in chain order — root first, the tail
// last — then retires every member slot.
func (d *Device) replayChain(tailIdx int, records []*commitRecord, visited []bool) error {
	var chain []int
	seen := make(map[int]bool)
	idx := tailIdx
	for {
		if idx < 0 || idx >= len(records) || seen[idx] {
			return fmt.Errorf("journal: malformed commit chain at slot %d", tailIdx)
		}
		seen[idx] = true
		rec := records[idx]
		if rec == nil {
			return fmt.Errorf("journal: broken commit chain at slot %d", idx)
		}
		chain = append(chain, idx)
		next := int(rec.Next)
		if next == idx {
			break
		}
		idx = next
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	for _, si := range chain {
		s := d.slots[si]
		s.blockNumbers = records[si].Blocks
		if err := d.applyTransaction(s); err != nil {
			return err
		}
	}
	metrics.JournalTransactionsTotal.WithLabelValues("replayed").Inc()
	for _, si := range chain {
		visited[si] = true
		if err := d.cancelSlot(d.slots[si]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) cancelSlot(s *slot) error {
	empty := &commitRecord{Type: commitEmpty, Next: uint16(s.index)}
	buf, err := empty.MarshalBinary(d.blockSize)
	if err != nil {
		return err
	}
	if err := d.base.WriteBlock(buf, s.baseBlock); err != nil {
		return err
	}
	s.state = slotIdle
	s.blockNumbers = nil
	s.chainPrev = s.index
	return nil
}

// replayGrace bounds how long Replay is expected to take relative to
// TransactionPeriod; callers wiring startup timeouts can use this as a
// sane default rather than inventing their own.
const replayGrace = TransactionPeriod / 2
