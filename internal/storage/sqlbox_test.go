package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLAdapterSatisfiesContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signalbot.db")
	a, err := OpenSQL(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	runAdapterContract(t, a)
}

func TestSQLAdapterPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signalbot.db")
	a, err := OpenSQL(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := a.Append(context.Background(), "queue", []byte("persisted")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQL(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer reopened.Close()
	recs, err := reopened.ReadAll(context.Background(), "queue")
	if err != nil {
		t.Fatalf("read_all: %v", err)
	}
	if len(recs) != 1 || string(recs[0].Payload) != "persisted" {
		t.Fatalf("expected the record to survive reopen, got %+v", recs)
	}
}
