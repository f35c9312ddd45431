package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRecord_RoundTrip(t *testing.T) {
	rec := &commitRecord{Type: commitCommit, Next: 1, NBlocks: 3, Blocks: []uint32{10, 20, 30}}
	buf, err := rec.MarshalBinary(512)
	require.NoError(t, err)
	require.Len(t, buf, 512)

	var got commitRecord
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Next, got.Next)
	assert.Equal(t, rec.NBlocks, got.NBlocks)
	assert.Equal(t, rec.Blocks, got.Blocks)
}

func TestCommitRecord_BadMagicIsError(t *testing.T) {
	var got commitRecord
	err := got.UnmarshalBinary(make([]byte, 512))
	assert.Error(t, err)
}

func TestCommitRecord_SelfReferencingNextTerminates(t *testing.T) {
	rec := &commitRecord{Type: commitEmpty, Next: 0}
	buf, err := rec.MarshalBinary(512)
	require.NoError(t, err)

	var got commitRecord
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, uint16(0), got.Next)
}
