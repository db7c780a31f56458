package storage

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// KVAdapter implements Adapter on an embedded bbolt key-value store. Also
// backs the cluster-visible named lock (internal/lock) when this adapter is
// configured as the storage backend.
type KVAdapter struct {
	db *bolt.DB
}

func OpenKV(path string) (*KVAdapter, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	return &KVAdapter{db: db}, nil
}

// DB exposes the underlying bbolt handle so internal/lock can run its own
// compare-and-set transactions against a dedicated bucket.
func (k *KVAdapter) DB() *bolt.DB { return k.db }

func (k *KVAdapter) Append(_ context.Context, key string, payload []byte) (uint64, error) {
	var id uint64
	err := k.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return b.Put(idKey(id), cp)
	})
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	return id, nil
}

func (k *KVAdapter) ReadAll(_ context.Context, key string) ([]Record, error) {
	var out []Record
	err := k.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, Record{ID: binary.BigEndian.Uint64(k), Payload: cp})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read_all: %w", err)
	}
	return out, nil
}

func (k *KVAdapter) Delete(_ context.Context, key string, id uint64) error {
	err := k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key))
		if b == nil {
			return nil
		}
		return b.Delete(idKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (k *KVAdapter) Close() error { return k.db.Close() }

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
