package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltBucket = "history"

// BoltKV keeps values in a single bucket of a BoltDB file. The database is
// opened per operation so several kya processes can share one file.
type BoltKV struct {
	path    string
	timeout time.Duration
}

// NewBoltKV returns a BoltKV backed by the file at path.
func NewBoltKV(path string) *BoltKV {
	return &BoltKV{path: path, timeout: 2 * time.Second}
}

func (b *BoltKV) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return db, nil
}

func (b *BoltKV) Get(_ context.Context, key string) ([]byte, error) {
	db, err := b.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var out []byte
	err = db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		if bkt == nil {
			return ErrNotFound
		}
		v := bkt.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltKV) Set(_ context.Context, key string, value []byte) error {
	db, err := b.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), value)
	})
}
