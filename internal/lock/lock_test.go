package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func TestLocalManagerMutualExclusion(t *testing.T) {
	m := NewLocalManager()
	release, err := m.Acquire(context.Background(), "job-1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "job-1", 0); err == nil {
		t.Fatalf("expected a second acquire of the same name to block until release")
	}

	release()
	if release2, err := m.Acquire(context.Background(), "job-1", 0); err != nil {
		t.Fatalf("acquire after release: %v", err)
	} else {
		release2()
	}
}

func TestLocalManagerDifferentNamesDoNotContend(t *testing.T) {
	m := NewLocalManager()
	r1, err := m.Acquire(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer r1()
	r2, err := m.Acquire(context.Background(), "b", 0)
	if err != nil {
		t.Fatalf("acquire b should not contend with a: %v", err)
	}
	r2()
}

func TestKVManagerMutualExclusionAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.bolt")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("open bbolt: %v", err)
	}
	defer db.Close()
	m := NewKVManager(db)

	release, err := m.Acquire(context.Background(), "cluster-job", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "cluster-job", time.Second); err == nil {
		t.Fatalf("expected a contending acquire to be denied while the lease is held")
	}
	release()

	r2, err := m.Acquire(context.Background(), "cluster-job", time.Second)
	if err != nil {
		t.Fatalf("expected acquire to succeed after release: %v", err)
	}
	r2()
}

func TestKVManagerLeaseExpiresWithoutRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.bolt")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("open bbolt: %v", err)
	}
	defer db.Close()
	m := NewKVManager(db)

	if _, err := m.Acquire(context.Background(), "expiring", 30*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Do not release; wait for the lease to expire naturally.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := m.Acquire(ctx, "expiring", time.Second)
	if err != nil {
		t.Fatalf("expected a new acquire to succeed once the lease expires: %v", err)
	}
	release()
}
