package journal

import "testing"

func TestComputeSlotGeometry_Basic(t *testing.T) {
	geo := computeSlotGeometry(512, 6*512)
	if geo.totalBlocks != 6 {
		t.Fatalf("totalBlocks = %d, want 6", geo.totalBlocks)
	}
	if geo.blockListBlocks != 1 {
		t.Fatalf("blockListBlocks = %d, want 1", geo.blockListBlocks)
	}
	if geo.dataBlocks != 4 {
		t.Fatalf("dataBlocks = %d, want 4", geo.dataBlocks)
	}
}

func TestComputeSlotGeometry_DefaultTransactionSize(t *testing.T) {
	geo := computeSlotGeometry(4096, TransactionSize)
	if geo.totalBlocks != TransactionSize/4096 {
		t.Fatalf("totalBlocks = %d, want %d", geo.totalBlocks, TransactionSize/4096)
	}
	if geo.blockListBlocks+geo.dataBlocks != geo.totalBlocks-1 {
		t.Fatalf("block-list + data blocks should account for every block but the commit record")
	}
}
