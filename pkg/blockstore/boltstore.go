package blockstore

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketBlocks = []byte("blocks")

// BoltBlockStore is a Device backed by a bbolt database, one key per block
// number (big-endian uint64), value the raw block bytes. Useful for running
// the journal against a store with real crash-consistent persistence
// without requiring a raw device or file descriptor.
type BoltBlockStore struct {
	db         *bolt.DB
	blockSize  int
	numBlocks  uint64
	atomicSize int
	devLevel   int
	writeHead  uint64
}

// NewBoltBlockStore opens (creating if absent) a bbolt-backed block store
// under dataDir.
func NewBoltBlockStore(dataDir string, blockSize int, numBlocks uint64, atomicSize, devLevel int) (*BoltBlockStore, error) {
	dbPath := filepath.Join(dataDir, "blocks.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlocks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create block bucket: %w", err)
	}

	return &BoltBlockStore{
		db:         db,
		blockSize:  blockSize,
		numBlocks:  numBlocks,
		atomicSize: atomicSize,
		devLevel:   devLevel,
	}, nil
}

// Close closes the underlying database.
func (s *BoltBlockStore) Close() error { return s.db.Close() }

func blockKey(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}

func (s *BoltBlockStore) ReadBlock(n uint64, count int) ([]byte, error) {
	if n+uint64(count) > s.numBlocks {
		return nil, ErrOutOfRange
	}
	out := make([]byte, count*s.blockSize)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for i := 0; i < count; i++ {
			data := b.Get(blockKey(n + uint64(i)))
			copy(out[i*s.blockSize:(i+1)*s.blockSize], data)
		}
		return nil
	})
	return out, err
}

func (s *BoltBlockStore) SyntheticReadBlock(n uint64, count int, synth *bool) ([]byte, error) {
	if n+uint64(count) > s.numBlocks {
		return nil, ErrOutOfRange
	}
	out := make([]byte, count*s.blockSize)
	anyMissing := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for i := 0; i < count; i++ {
			data := b.Get(blockKey(n + uint64(i)))
			if data == nil {
				anyMissing = true
				continue
			}
			copy(out[i*s.blockSize:(i+1)*s.blockSize], data)
		}
		return nil
	})
	if synth != nil {
		*synth = anyMissing
	}
	return out, err
}

func (s *BoltBlockStore) WriteBlock(data []byte, n uint64) error {
	count := len(data) / s.blockSize
	if n+uint64(count) > s.numBlocks {
		return ErrOutOfRange
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for i := 0; i < count; i++ {
			chunk := data[i*s.blockSize : (i+1)*s.blockSize]
			if err := b.Put(blockKey(n+uint64(i)), chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n+uint64(count) > s.writeHead {
		s.writeHead = n + uint64(count)
	}
	return nil
}

func (s *BoltBlockStore) Sync(block *uint64) error {
	return s.db.Sync()
}

func (s *BoltBlockStore) CancelBlock(n uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Delete(blockKey(n))
	})
}

func (s *BoltBlockStore) BlockSize() int    { return s.blockSize }
func (s *BoltBlockStore) NumBlocks() uint64 { return s.numBlocks }
func (s *BoltBlockStore) AtomicSize() int   { return s.atomicSize }
func (s *BoltBlockStore) DevLevel() int     { return s.devLevel }
func (s *BoltBlockStore) WriteHead() uint64 { return s.writeHead }
