package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/patchfs/pkg/blockstore"
	"github.com/cuemby/patchfs/pkg/journal"
	"github.com/cuemby/patchfs/pkg/patch"
	"github.com/cuemby/patchfs/pkg/patchgroup"
	"github.com/cuemby/patchfs/pkg/pfsconfig"
)

const demoBlockSize = 4096

// stack bundles the layers every subcommand needs: a block store, the
// patch graph engine and default scope sitting on top of it, and the
// journal device that groups writes into transactions.
type stack struct {
	cfg     pfsconfig.Config
	base    blockstore.Device
	engine  *patch.Engine
	scope   *patchgroup.Scope
	journal *journal.Device
}

// openStack loads configuration (or the built-in defaults if configPath is
// empty) and wires a file-backed block store of numBlocks blocks under
// cfg.DataDir, the patch engine, and a journal device over it.
func openStack(configPath string, numBlocks uint64) (*stack, error) {
	cfg := pfsconfig.Default()
	if configPath != "" {
		loaded, err := pfsconfig.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	devicePath := filepath.Join(cfg.DataDir, "device.img")
	base, err := blockstore.OpenFileBlockStore(devicePath, demoBlockSize, numBlocks, demoBlockSize, 0)
	if err != nil {
		return nil, fmt.Errorf("open block device: %w", err)
	}

	engine := patch.NewEngine()
	scope := patchgroup.NewScope(engine)

	j, err := journal.NewDeviceSized(base, engine, scope, cfg.NumSlots, cfg.TransactionSize)
	if err != nil {
		return nil, fmt.Errorf("wire journal: %w", err)
	}

	return &stack{cfg: cfg, base: base, engine: engine, scope: scope, journal: j}, nil
}

// closeStack releases the journal's device stamp and flushes and unmaps
// the underlying file block store.
func closeStack(st *stack) {
	st.journal.Close()
	if fb, ok := st.base.(*blockstore.FileBlockStore); ok {
		_ = fb.Close()
	}
}
