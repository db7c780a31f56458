// Package lock provides the named lock helper exposed on Context:
// process-local when the storage backend isn't a shared key-value store,
// cluster-visible compare-and-set with a TTL lease otherwise. The lease is
// written once at acquisition and is not renewed while held.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ErrHeld = errors.New("lock: already held")

var lockBucket = []byte("signalbot_locks")

// Manager grants exclusive, named leases. Release always succeeds. With
// KVManager, a lease that is never released (crash, deadline) frees the
// name for others once TTL elapses; LocalManager ignores ttl and holds the
// name until release is called.
type Manager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// LocalManager is an in-process mutex-per-name manager, used when no
// shared key-value backend is configured.
type LocalManager struct {
	mu    sync.Mutex
	names map[string]*sync.Mutex
}

func NewLocalManager() *LocalManager {
	return &LocalManager{names: make(map[string]*sync.Mutex)}
}

func (m *LocalManager) Acquire(ctx context.Context, name string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	mu, ok := m.names[name]
	if !ok {
		mu = &sync.Mutex{}
		m.names[name] = mu
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() { mu.Lock(); close(done) }()
	select {
	case <-done:
		return mu.Unlock, nil
	case <-ctx.Done():
		go func() { <-done; mu.Unlock() }()
		return nil, ctx.Err()
	}
}

// KVManager implements cluster-visible locking with compare-and-set plus a
// TTL lease against a shared bbolt database, used when the storage backend
// is key_value and locks must be visible across processes. The lease expiry
// is set once on acquisition and never extended, so a holder that runs
// longer than ttl can lose the name to another caller.
type KVManager struct {
	db *bolt.DB
}

func NewKVManager(db *bolt.DB) *KVManager {
	return &KVManager{db: db}
}

type leaseRecord struct {
	Owner     string
	ExpiresAt time.Time
}

func (m *KVManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	owner := randomToken()
	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for {
		ok, err := m.tryAcquire(name, owner, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = m.release(name, owner) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (m *KVManager) tryAcquire(name, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(lockBucket)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		raw := b.Get([]byte(name))
		if raw != nil {
			cur, err := decodeLease(raw)
			if err == nil && cur.ExpiresAt.After(now) && cur.Owner != owner {
				return nil // held by someone else, not expired
			}
		}
		acquired = true
		return b.Put([]byte(name), encodeLease(leaseRecord{Owner: owner, ExpiresAt: now.Add(ttl)}))
	})
	return acquired, err
}

func (m *KVManager) release(name, owner string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(lockBucket)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(name))
		if raw == nil {
			return nil
		}
		cur, err := decodeLease(raw)
		if err != nil || cur.Owner != owner {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

func encodeLease(l leaseRecord) []byte {
	return []byte(fmt.Sprintf("%s|%d", l.Owner, l.ExpiresAt.UnixNano()))
}

func decodeLease(b []byte) (leaseRecord, error) {
	s := string(b)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '|' {
			var nanos int64
			if _, err := fmt.Sscanf(s[i+1:], "%d", &nanos); err != nil {
				return leaseRecord{}, err
			}
			return leaseRecord{Owner: s[:i], ExpiresAt: time.Unix(0, nanos).UTC()}, nil
		}
	}
	return leaseRecord{}, errors.New("lock: malformed lease record")
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
