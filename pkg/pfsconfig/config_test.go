package pfsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FillsDefaultsForZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("atomic_patchgroup_allowed: false\nnum_slots: 8\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.AtomicPatchgroupAllowed)
	assert.Equal(t, 8, cfg.NumSlots)
	assert.NotZero(t, cfg.TransactionSize, "default should fill in transaction_size")
	assert.NotZero(t, cfg.TransactionPeriodSeconds)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, err := Load("/nonexistent/patchfs.yaml")
	assert.Error(t, err)
}

func TestValidate_RejectsZeroSlots(t *testing.T) {
	cfg := Default()
	cfg.NumSlots = 0
	assert.Error(t, cfg.Validate())
}
