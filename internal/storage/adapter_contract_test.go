package storage

import (
	"context"
	"testing"
)

// runAdapterContract exercises the Adapter contract every implementation
// must satisfy: append-order reads, namespaced keys, and idempotent delete.
func runAdapterContract(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()
	defer a.Close()

	id1, err := a.Append(ctx, "queue", []byte("first"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := a.Append(ctx, "queue", []byte("second")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := a.Append(ctx, "dlq", []byte("other log")); err != nil {
		t.Fatalf("append to a different key: %v", err)
	}

	recs, err := a.ReadAll(ctx, "queue")
	if err != nil {
		t.Fatalf("read_all: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records under 'queue', got %d", len(recs))
	}
	if string(recs[0].Payload) != "first" || string(recs[1].Payload) != "second" {
		t.Fatalf("expected append order preserved, got %+v", recs)
	}

	dlqRecs, err := a.ReadAll(ctx, "dlq")
	if err != nil {
		t.Fatalf("read_all dlq: %v", err)
	}
	if len(dlqRecs) != 1 {
		t.Fatalf("expected namespaces to be isolated, got %d records under dlq", len(dlqRecs))
	}

	if err := a.Delete(ctx, "queue", id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err = a.ReadAll(ctx, "queue")
	if err != nil {
		t.Fatalf("read_all after delete: %v", err)
	}
	if len(recs) != 1 || string(recs[0].Payload) != "second" {
		t.Fatalf("expected only 'second' to remain, got %+v", recs)
	}

	if err := a.Delete(ctx, "queue", id1); err != nil {
		t.Fatalf("deleting an already-deleted id must be a no-op, got %v", err)
	}
}

func TestMemoryAdapterSatisfiesContract(t *testing.T) {
	runAdapterContract(t, NewMemoryAdapter())
}
